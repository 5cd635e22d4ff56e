package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yashrajoria/pix-payment-service/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type saleDocument struct {
	ID                string               `bson:"_id"`
	OrderID           string               `bson:"order_id"`
	UserID            string               `bson:"user_id,omitempty"`
	Amount            primitive.Decimal128 `bson:"amount"`
	ExternalPaymentID string               `bson:"external_payment_id"`
	Status            string               `bson:"status"`
	PaidAt            time.Time            `bson:"paid_at"`
	CreatedAt         time.Time            `bson:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

type MongoSaleRepository struct {
	collection *mongo.Collection
}

func NewMongoSaleRepository(db *mongo.Database) *MongoSaleRepository {
	return &MongoSaleRepository{collection: db.Collection(salesCollection)}
}

// EnsureIndexes creates the unique index that makes sale creation
// at-most-once per external payment.
func (r *MongoSaleRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "external_payment_id", Value: 1}},
		Options: options.Index().SetName("external_payment_id_1").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create sales index: %w", err)
	}
	return nil
}

func (r *MongoSaleRepository) Create(ctx context.Context, sale *models.Sale) error {
	amount, err := primitive.ParseDecimal128(sale.Amount.String())
	if err != nil {
		return fmt.Errorf("encode amount: %w", err)
	}
	doc := saleDocument{
		ID:                sale.ID.String(),
		OrderID:           sale.OrderID.String(),
		UserID:            sale.UserID,
		Amount:            amount,
		ExternalPaymentID: sale.ExternalPaymentID,
		Status:            string(sale.Status),
		PaidAt:            sale.PaidAt,
		CreatedAt:         sale.CreatedAt,
		UpdatedAt:         sale.UpdatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSale
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (r *MongoSaleRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Sale, error) {
	var doc saleDocument
	err := r.collection.FindOne(ctx, bson.M{"external_payment_id": externalPaymentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sale: %w", err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode sale id: %w", err)
	}
	orderID, err := uuid.Parse(doc.OrderID)
	if err != nil {
		return nil, fmt.Errorf("decode order id: %w", err)
	}
	amount, err := decimal.NewFromString(doc.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	return &models.Sale{
		ID:                id,
		OrderID:           orderID,
		UserID:            doc.UserID,
		Amount:            amount,
		ExternalPaymentID: doc.ExternalPaymentID,
		Status:            models.SaleStatus(doc.Status),
		PaidAt:            doc.PaidAt,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}
