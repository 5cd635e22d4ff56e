package models

import (
	"strings"
	"time"
)

// Webhook sources.
const (
	SourceMercadoPago = "mercadopago"
	SourceStripe      = "stripe"
)

// Notification type and action that trigger processing.
const (
	NotificationTypePayment   = "payment"
	NotificationActionUpdated = "payment.updated"
)

// WebhookDelivery is a raw inbound notification captured before it is
// acknowledged. It is serialised as-is when deliveries are queued.
type WebhookDelivery struct {
	Source     string            `json:"source"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Query      map[string]string `json:"query"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// Header returns the value of a header. Headers are stored under lower-case keys.
func (d WebhookDelivery) Header(name string) string {
	return d.Headers[strings.ToLower(name)]
}

// PaymentNotification is a verified, parsed webhook delivery.
type PaymentNotification struct {
	Source     string
	DeliveryID string
	Type       string
	Action     string
	ChargeID   string
}
