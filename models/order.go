package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

const (
	DefaultOrderDescription = "Pagamento via PIX"
	// PixExpirySeconds is how long a PIX charge stays payable.
	PixExpirySeconds = 1800
)

type OrderItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// PixPayload is what the payer needs to complete the transfer.
type PixPayload struct {
	QRCodeBase64  string    `json:"qrCodeBase64,omitempty"`
	CopyPasteCode string    `json:"copyPasteCode"`
	ExpiresIn     int       `json:"expiresIn"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	UserID            string          `json:"userId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	PayerEmail        string          `json:"payerEmail"`
	Items             []OrderItem     `json:"items,omitempty"`
	Status            OrderStatus     `json:"status"`
	Pix               *PixPayload     `json:"pix,omitempty"`
	ExternalPaymentID string          `json:"externalPaymentId,omitempty"`
	ExternalStatus    string          `json:"externalStatus,omitempty"`
	WebhookProcessed  bool            `json:"webhookProcessed"`
	LastWebhookID     string          `json:"lastWebhookId,omitempty"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ExpiresAt returns the PIX expiry, or the zero time when no charge exists.
func (o *Order) ExpiresAt() time.Time {
	if o.Pix == nil {
		return time.Time{}
	}
	return o.Pix.ExpiresAt
}

// MarkPaid moves the order to PAID. PaidAt is set only the first time.
func (o *Order) MarkPaid(at time.Time) {
	o.Status = OrderStatusPaid
	if o.PaidAt == nil {
		paidAt := at
		o.PaidAt = &paidAt
	}
}
