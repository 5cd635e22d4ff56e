package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/yashrajoria/pix-payment-service/models"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

type saleRecord struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID           uuid.UUID       `gorm:"type:uuid;not null;index"`
	UserID            string          `gorm:"type:varchar(64);index"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ExternalPaymentID string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	Status            string          `gorm:"type:varchar(16);not null"`
	PaidAt            time.Time       `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (saleRecord) TableName() string { return "sales" }

type GormSaleRepository struct {
	db *gorm.DB
}

func NewGormSaleRepository(db *gorm.DB) *GormSaleRepository {
	return &GormSaleRepository{db: db}
}

func (r *GormSaleRepository) Create(ctx context.Context, sale *models.Sale) error {
	rec := &saleRecord{
		ID:                sale.ID,
		OrderID:           sale.OrderID,
		UserID:            sale.UserID,
		Amount:            sale.Amount,
		ExternalPaymentID: sale.ExternalPaymentID,
		Status:            string(sale.Status),
		PaidAt:            sale.PaidAt,
		CreatedAt:         sale.CreatedAt,
		UpdatedAt:         sale.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSale
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (r *GormSaleRepository) FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Sale, error) {
	var rec saleRecord
	err := r.db.WithContext(ctx).Where("external_payment_id = ?", externalPaymentID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sale: %w", err)
	}
	return &models.Sale{
		ID:                rec.ID,
		OrderID:           rec.OrderID,
		UserID:            rec.UserID,
		Amount:            rec.Amount,
		ExternalPaymentID: rec.ExternalPaymentID,
		Status:            models.SaleStatus(rec.Status),
		PaidAt:            rec.PaidAt,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

// isUniqueViolation matches both gorm's translated error and the raw
// PostgreSQL error, depending on whether TranslateError is enabled.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
