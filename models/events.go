package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventPaymentSucceeded = "payment_succeeded"
	EventOrderExpired     = "order_expired"
	EventOrderFailed      = "order_failed"
)

// PaymentEvent is published to downstream consumers after a lifecycle
// transition has been persisted.
type PaymentEvent struct {
	Type              string          `json:"type"`
	OrderID           string          `json:"order_id"`
	SaleID            string          `json:"sale_id,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	Status            string          `json:"status"`
	ExternalPaymentID string          `json:"external_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Timestamp         time.Time       `json:"timestamp"`
}
