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

const (
	ordersCollection = "orders"
	salesCollection  = "sales"
)

type itemDocument struct {
	Name     string               `bson:"name"`
	Quantity int                  `bson:"quantity"`
	Price    primitive.Decimal128 `bson:"price"`
}

type pixDocument struct {
	QRCodeBase64  string    `bson:"qr_code_base64,omitempty"`
	CopyPasteCode string    `bson:"copy_paste_code"`
	ExpiresIn     int       `bson:"expires_in"`
	ExpiresAt     time.Time `bson:"expires_at"`
}

type orderDocument struct {
	ID                string               `bson:"_id"`
	UserID            string               `bson:"user_id,omitempty"`
	Amount            primitive.Decimal128 `bson:"amount"`
	Description       string               `bson:"description"`
	PayerEmail        string               `bson:"payer_email"`
	Items             []itemDocument       `bson:"items,omitempty"`
	Status            string               `bson:"status"`
	Pix               *pixDocument         `bson:"pix,omitempty"`
	ExternalPaymentID string               `bson:"external_payment_id,omitempty"`
	ExternalStatus    string               `bson:"external_status,omitempty"`
	WebhookProcessed  bool                 `bson:"webhook_processed"`
	LastWebhookID     string               `bson:"last_webhook_id,omitempty"`
	PaidAt            *time.Time           `bson:"paid_at,omitempty"`
	CreatedAt         time.Time            `bson:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

// MongoOrderRepository is the default OrderRepository.
type MongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{collection: db.Collection(ordersCollection)}
}

// EnsureIndexes creates the external payment ID lookup index. Orders
// without a charge have no external_payment_id and are left out of it.
func (r *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "external_payment_id", Value: 1}},
		Options: options.Index().
			SetName("external_payment_id_1").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"external_payment_id": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("create orders index: %w", err)
	}
	return nil
}

func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	doc, err := toOrderDocument(order)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *MongoOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *MongoOrderRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"external_payment_id": externalPaymentID})
}

func (r *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var doc orderDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return doc.toModel()
}

func (r *MongoOrderRepository) Update(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	order.UpdatedAt = time.Now().UTC()
	doc, err := toOrderDocument(order)
	if err != nil {
		return err
	}

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "status": string(expected)}, doc)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

func toOrderDocument(o *models.Order) (*orderDocument, error) {
	amount, err := primitive.ParseDecimal128(o.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("encode amount: %w", err)
	}
	doc := &orderDocument{
		ID:                o.ID.String(),
		UserID:            o.UserID,
		Amount:            amount,
		Description:       o.Description,
		PayerEmail:        o.PayerEmail,
		Status:            string(o.Status),
		ExternalPaymentID: o.ExternalPaymentID,
		ExternalStatus:    o.ExternalStatus,
		WebhookProcessed:  o.WebhookProcessed,
		LastWebhookID:     o.LastWebhookID,
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, it := range o.Items {
		price, err := primitive.ParseDecimal128(it.Price.String())
		if err != nil {
			return nil, fmt.Errorf("encode item price: %w", err)
		}
		doc.Items = append(doc.Items, itemDocument{Name: it.Name, Quantity: it.Quantity, Price: price})
	}
	if o.Pix != nil {
		doc.Pix = &pixDocument{
			QRCodeBase64:  o.Pix.QRCodeBase64,
			CopyPasteCode: o.Pix.CopyPasteCode,
			ExpiresIn:     o.Pix.ExpiresIn,
			ExpiresAt:     o.Pix.ExpiresAt,
		}
	}
	return doc, nil
}

func (d *orderDocument) toModel() (*models.Order, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode order id: %w", err)
	}
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	o := &models.Order{
		ID:                id,
		UserID:            d.UserID,
		Amount:            amount,
		Description:       d.Description,
		PayerEmail:        d.PayerEmail,
		Status:            models.OrderStatus(d.Status),
		ExternalPaymentID: d.ExternalPaymentID,
		ExternalStatus:    d.ExternalStatus,
		WebhookProcessed:  d.WebhookProcessed,
		LastWebhookID:     d.LastWebhookID,
		PaidAt:            d.PaidAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.Price.String())
		if err != nil {
			return nil, fmt.Errorf("decode item price: %w", err)
		}
		o.Items = append(o.Items, models.OrderItem{Name: it.Name, Quantity: it.Quantity, Price: price})
	}
	if d.Pix != nil {
		o.Pix = &models.PixPayload{
			QRCodeBase64:  d.Pix.QRCodeBase64,
			CopyPasteCode: d.Pix.CopyPasteCode,
			ExpiresIn:     d.Pix.ExpiresIn,
			ExpiresAt:     d.Pix.ExpiresAt,
		}
	}
	return o, nil
}
