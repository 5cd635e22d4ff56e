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

// DynamoAPI is the subset of the DynamoDB client used by the adapters.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ExternalPaymentIndex is the GSI on the orders table keyed by
// external_payment_id.
const ExternalPaymentIndex = "external_payment_id-index"

type ddbItem struct {
	Name     string `dynamodbav:"name"`
	Quantity int    `dynamodbav:"quantity"`
	Price    string `dynamodbav:"price"`
}

type ddbOrder struct {
	OrderID           string    `dynamodbav:"order_id"`
	UserID            string    `dynamodbav:"user_id,omitempty"`
	Amount            string    `dynamodbav:"amount"`
	Description       string    `dynamodbav:"description"`
	PayerEmail        string    `dynamodbav:"payer_email"`
	Items             []ddbItem `dynamodbav:"items,omitempty"`
	Status            string    `dynamodbav:"status"`
	PixQRCodeBase64   string    `dynamodbav:"pix_qr_code_base64,omitempty"`
	PixCopyPasteCode  string    `dynamodbav:"pix_copy_paste_code,omitempty"`
	PixExpiresIn      int       `dynamodbav:"pix_expires_in,omitempty"`
	PixExpiresAt      string    `dynamodbav:"pix_expires_at,omitempty"`
	ExternalPaymentID string    `dynamodbav:"external_payment_id,omitempty"`
	ExternalStatus    string    `dynamodbav:"external_status,omitempty"`
	WebhookProcessed  bool      `dynamodbav:"webhook_processed"`
	LastWebhookID     string    `dynamodbav:"last_webhook_id,omitempty"`
	PaidAt            string    `dynamodbav:"paid_at,omitempty"`
	CreatedAt         string    `dynamodbav:"created_at"`
	UpdatedAt         string    `dynamodbav:"updated_at"`
}

// DynamoOrderRepository stores orders in a table keyed by order_id.
type DynamoOrderRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoOrderRepository(client DynamoAPI, table string) *DynamoOrderRepository {
	return &DynamoOrderRepository{client: client, table: table}
}

func (d *DynamoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	item, err := attributevalue.MarshalMap(toDDBOrder(order))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (d *DynamoOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"order_id": id.String()})
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
		return nil, ErrOrderNotFound
	}
	return unmarshalDDBOrder(out.Item)
}

func (d *DynamoOrderRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(ExternalPaymentIndex),
		KeyConditionExpression: aws.String("external_payment_id = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: externalPaymentID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb Query failed: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrOrderNotFound
	}
	return unmarshalDDBOrder(out.Items[0])
}

func (d *DynamoOrderRepository) Update(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	order.UpdatedAt = time.Now().UTC()
	item, err := attributevalue.MarshalMap(toDDBOrder(order))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(order_id) AND #status = :expected"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if _, err := d.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func toDDBOrder(o *models.Order) ddbOrder {
	do := ddbOrder{
		OrderID:           o.ID.String(),
		UserID:            o.UserID,
		Amount:            o.Amount.String(),
		Description:       o.Description,
		PayerEmail:        o.PayerEmail,
		Status:            string(o.Status),
		ExternalPaymentID: o.ExternalPaymentID,
		ExternalStatus:    o.ExternalStatus,
		WebhookProcessed:  o.WebhookProcessed,
		LastWebhookID:     o.LastWebhookID,
		CreatedAt:         o.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         o.UpdatedAt.Format(time.RFC3339Nano),
	}
	for _, it := range o.Items {
		do.Items = append(do.Items, ddbItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price.String()})
	}
	if o.Pix != nil {
		do.PixQRCodeBase64 = o.Pix.QRCodeBase64
		do.PixCopyPasteCode = o.Pix.CopyPasteCode
		do.PixExpiresIn = o.Pix.ExpiresIn
		do.PixExpiresAt = o.Pix.ExpiresAt.Format(time.RFC3339Nano)
	}
	if o.PaidAt != nil {
		do.PaidAt = o.PaidAt.Format(time.RFC3339Nano)
	}
	return do
}

func unmarshalDDBOrder(item map[string]types.AttributeValue) (*models.Order, error) {
	var do ddbOrder
	if err := attributevalue.UnmarshalMap(item, &do); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}

	id, err := uuid.Parse(do.OrderID)
	if err != nil {
		return nil, fmt.Errorf("decode order id: %w", err)
	}
	amount, err := decimal.NewFromString(do.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}

	o := &models.Order{
		ID:                id,
		UserID:            do.UserID,
		Amount:            amount,
		Description:       do.Description,
		PayerEmail:        do.PayerEmail,
		Status:            models.OrderStatus(do.Status),
		ExternalPaymentID: do.ExternalPaymentID,
		ExternalStatus:    do.ExternalStatus,
		WebhookProcessed:  do.WebhookProcessed,
		LastWebhookID:     do.LastWebhookID,
	}
	for _, it := range do.Items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("decode item price: %w", err)
		}
		o.Items = append(o.Items, models.OrderItem{Name: it.Name, Quantity: it.Quantity, Price: price})
	}
	if do.PixExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, do.PixExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("decode pix expiry: %w", err)
		}
		o.Pix = &models.PixPayload{
			QRCodeBase64:  do.PixQRCodeBase64,
			CopyPasteCode: do.PixCopyPasteCode,
			ExpiresIn:     do.PixExpiresIn,
			ExpiresAt:     expiresAt,
		}
	}
	if do.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, do.PaidAt); err == nil {
			o.PaidAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, do.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, do.UpdatedAt); err == nil {
		o.UpdatedAt = t
	}
	return o, nil
}
