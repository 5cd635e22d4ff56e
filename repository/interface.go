package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/yashrajoria/pix-payment-service/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrSaleNotFound  = errors.New("sale not found")
	// ErrDuplicateSale is returned when a sale already exists for the
	// external payment ID. Callers treat it as an idempotent success.
	ErrDuplicateSale = errors.New("sale already exists for payment")
	// ErrStatusConflict is returned by Update when the stored status no
	// longer matches the expected one.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// OrderRepository stores orders. Orders are never deleted.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error)
	// Update replaces the stored order only if its status still equals
	// expected. UpdatedAt is refreshed on success.
	Update(ctx context.Context, order *models.Order, expected models.OrderStatus) error
}

// SaleRepository stores sales, unique on external payment ID.
type SaleRepository interface {
	Create(ctx context.Context, sale *models.Sale) error
	FindByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Sale, error)
}
