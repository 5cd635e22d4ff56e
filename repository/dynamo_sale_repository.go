package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yashrajoria/pix-payment-service/models"
)

// ddbSale is keyed by external_payment_id, so the partition key itself
// enforces one sale per payment.
type ddbSale struct {
	ExternalPaymentID string `dynamodbav:"external_payment_id"`
	SaleID            string `dynamodbav:"sale_id"`
	OrderID           string `dynamodbav:"order_id"`
	UserID            string `dynamodbav:"user_id,omitempty"`
	Amount            string `dynamodbav:"amount"`
	Status            string `dynamodbav:"status"`
	PaidAt            string `dynamodbav:"paid_at"`
	CreatedAt         string `dynamodbav:"created_at"`
	UpdatedAt         string `dynamodbav:"updated_at"`
}

type DynamoSaleRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoSaleRepository(client DynamoAPI, table string) *DynamoSaleRepository {
	return &DynamoSaleRepository{client: client, table: table}
}

func (d *DynamoSaleRepository) Create(ctx context.Context, sale *models.Sale) error {
	item, err := attributevalue.MarshalMap(ddbSale{
		ExternalPaymentID: sale.ExternalPaymentID,
		SaleID:            sale.ID.String(),
		OrderID:           sale.OrderID.String(),
		UserID:            sale.UserID,
		Amount:            sale.Amount.String(),
		Status:            string(sale.Status),
		PaidAt:            sale.PaidAt.Format(time.RFC3339Nano),
		CreatedAt:         sale.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         sale.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal sale: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(external_payment_id)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrDuplicateSale
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (d *DynamoSaleRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Sale, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"external_payment_id": externalPaymentID})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrSaleNotFound
	}

	var ds ddbSale
	if err := attributevalue.UnmarshalMap(out.Item, &ds); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	sale := &models.Sale{
		ExternalPaymentID: ds.ExternalPaymentID,
		UserID:            ds.UserID,
		Status:            models.SaleStatus(ds.Status),
	}
	if sale.ID, err = uuid.Parse(ds.SaleID); err != nil {
		return nil, fmt.Errorf("decode sale id: %w", err)
	}
	if sale.OrderID, err = uuid.Parse(ds.OrderID); err != nil {
		return nil, fmt.Errorf("decode order id: %w", err)
	}
	if sale.Amount, err = decimal.NewFromString(ds.Amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	sale.PaidAt, _ = time.Parse(time.RFC3339Nano, ds.PaidAt)
	sale.CreatedAt, _ = time.Parse(time.RFC3339Nano, ds.CreatedAt)
	sale.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ds.UpdatedAt)
	return sale, nil
}
