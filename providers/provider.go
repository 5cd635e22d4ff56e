package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/pix-payment-service/models"
)

// Normalised processor statuses. Every integration maps its own vocabulary
// onto these values.
const (
	StatusApproved  = "approved"
	StatusPending   = "pending"
	StatusInProcess = "in_process"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"

	// DetailWaitingPayment is the only acceptable detail for a freshly
	// created PIX charge.
	DetailWaitingPayment = "pending_waiting_payment"
)

// ChargeRequest describes a PIX charge to be issued.
type ChargeRequest struct {
	OrderID        string
	IdempotencyKey string
	Amount         decimal.Decimal
	Description    string
	PayerEmail     string
	Items          []models.OrderItem
	ExpiresAt      time.Time
}

// Charge is the processor's view of a PIX charge.
type Charge struct {
	ID            string
	Status        string
	StatusDetail  string
	CopyPasteCode string
	QRCodeBase64  string
}

// PaymentProcessor issues and queries PIX charges.
type PaymentProcessor interface {
	// Name identifies the processor in logs and metrics.
	Name() string

	// CreatePixCharge issues a new charge. It never retries.
	CreatePixCharge(ctx context.Context, req ChargeRequest) (*Charge, error)

	// GetCharge returns the current state of an existing charge.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// APIError is a non-2xx answer from a processor API.
type APIError struct {
	Processor  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Processor, e.StatusCode, e.Body)
}
