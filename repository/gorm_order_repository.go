package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yashrajoria/pix-payment-service/models"
	"gorm.io/gorm"
)

type orderRecord struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey"`
	UserID            string             `gorm:"type:varchar(64);index"`
	Amount            decimal.Decimal    `gorm:"type:numeric(12,2);not null"`
	Description       string             `gorm:"type:varchar(500);not null"`
	PayerEmail        string             `gorm:"type:varchar(254);not null"`
	Items             []models.OrderItem `gorm:"type:jsonb;serializer:json"`
	Status            string             `gorm:"type:varchar(16);not null;index"`
	PixQRCodeBase64   string             `gorm:"column:pix_qr_code_base64;type:text"`
	PixCopyPasteCode  string             `gorm:"column:pix_copy_paste_code;type:text"`
	PixExpiresIn      int                `gorm:"column:pix_expires_in"`
	PixExpiresAt      *time.Time         `gorm:"column:pix_expires_at"`
	ExternalPaymentID *string            `gorm:"type:varchar(64);uniqueIndex"`
	ExternalStatus    string             `gorm:"type:varchar(64)"`
	WebhookProcessed  bool               `gorm:"not null"`
	LastWebhookID     string             `gorm:"type:varchar(128)"`
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (orderRecord) TableName() string { return "orders" }

// GormOrderRepository implements OrderRepository on PostgreSQL.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// AutoMigrate creates or updates the orders and sales tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&orderRecord{}, &saleRecord{})
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	rec := toOrderRecord(order)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error) {
	return r.first(ctx, "external_payment_id = ?", externalPaymentID)
}

func (r *GormOrderRepository) first(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var rec orderRecord
	err := r.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return rec.toModel(), nil
}

func (r *GormOrderRepository) Update(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	order.UpdatedAt = time.Now().UTC()
	rec := toOrderRecord(order)

	res := r.db.WithContext(ctx).
		Model(&orderRecord{}).
		Where("id = ? AND status = ?", order.ID, string(expected)).
		Updates(map[string]interface{}{
			"status":              rec.Status,
			"pix_qr_code_base64":  rec.PixQRCodeBase64,
			"pix_copy_paste_code": rec.PixCopyPasteCode,
			"pix_expires_in":      rec.PixExpiresIn,
			"pix_expires_at":      rec.PixExpiresAt,
			"external_payment_id": rec.ExternalPaymentID,
			"external_status":     rec.ExternalStatus,
			"webhook_processed":   rec.WebhookProcessed,
			"last_webhook_id":     rec.LastWebhookID,
			"paid_at":             rec.PaidAt,
			"updated_at":          rec.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

func toOrderRecord(o *models.Order) *orderRecord {
	rec := &orderRecord{
		ID:               o.ID,
		UserID:           o.UserID,
		Amount:           o.Amount,
		Description:      o.Description,
		PayerEmail:       o.PayerEmail,
		Items:            o.Items,
		Status:           string(o.Status),
		ExternalStatus:   o.ExternalStatus,
		WebhookProcessed: o.WebhookProcessed,
		LastWebhookID:    o.LastWebhookID,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.ExternalPaymentID != "" {
		id := o.ExternalPaymentID
		rec.ExternalPaymentID = &id
	}
	if o.Pix != nil {
		expiresAt := o.Pix.ExpiresAt
		rec.PixQRCodeBase64 = o.Pix.QRCodeBase64
		rec.PixCopyPasteCode = o.Pix.CopyPasteCode
		rec.PixExpiresIn = o.Pix.ExpiresIn
		rec.PixExpiresAt = &expiresAt
	}
	return rec
}

func (rec *orderRecord) toModel() *models.Order {
	o := &models.Order{
		ID:               rec.ID,
		UserID:           rec.UserID,
		Amount:           rec.Amount,
		Description:      rec.Description,
		PayerEmail:       rec.PayerEmail,
		Items:            rec.Items,
		Status:           models.OrderStatus(rec.Status),
		ExternalStatus:   rec.ExternalStatus,
		WebhookProcessed: rec.WebhookProcessed,
		LastWebhookID:    rec.LastWebhookID,
		PaidAt:           rec.PaidAt,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if rec.ExternalPaymentID != nil {
		o.ExternalPaymentID = *rec.ExternalPaymentID
	}
	if rec.PixExpiresAt != nil {
		o.Pix = &models.PixPayload{
			QRCodeBase64:  rec.PixQRCodeBase64,
			CopyPasteCode: rec.PixCopyPasteCode,
			ExpiresIn:     rec.PixExpiresIn,
			ExpiresAt:     *rec.PixExpiresAt,
		}
	}
	return o
}
