package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusRefunded  SaleStatus = "REFUNDED"
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// Sale is the durable record of a paid order. There is at most one Sale per
// ExternalPaymentID.
type Sale struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           uuid.UUID       `json:"orderId"`
	UserID            string          `json:"userId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalPaymentID string          `json:"externalPaymentId"`
	Status            SaleStatus      `json:"status"`
	PaidAt            time.Time       `json:"paidAt"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// NewSaleFromOrder builds the COMPLETED sale for a paid order.
func NewSaleFromOrder(o *Order, now time.Time) *Sale {
	paidAt := now
	if o.PaidAt != nil {
		paidAt = *o.PaidAt
	}
	return &Sale{
		ID:                uuid.New(),
		OrderID:           o.ID,
		UserID:            o.UserID,
		Amount:            o.Amount,
		ExternalPaymentID: o.ExternalPaymentID,
		Status:            SaleStatusCompleted,
		PaidAt:            paidAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
