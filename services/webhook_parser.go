package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"github.com/yashrajoria/pix-payment-service/models"
)

var ErrMalformedNotification = errors.New("malformed webhook notification")

// NotificationParser authenticates and decodes a raw delivery from one source.
type NotificationParser interface {
	Parse(d models.WebhookDelivery) (*models.PaymentNotification, error)
}

// flexibleID accepts both JSON strings and numbers. Mercado Pago sends
// numeric ids in some payloads and strings in others.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type mercadoPagoNotification struct {
	ID     flexibleID `json:"id"`
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// MercadoPagoParser decodes Mercado Pago payment notifications and checks
// their x-signature header.
type MercadoPagoParser struct {
	verifier *SignatureVerifier
}

func NewMercadoPagoParser(verifier *SignatureVerifier) *MercadoPagoParser {
	return &MercadoPagoParser{verifier: verifier}
}

func (p *MercadoPagoParser) Parse(d models.WebhookDelivery) (*models.PaymentNotification, error) {
	var body mercadoPagoNotification
	if len(bytes.TrimSpace(d.Body)) > 0 {
		if err := json.Unmarshal(d.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
	}

	chargeID := d.Query["data.id"]
	if chargeID == "" {
		chargeID = string(body.Data.ID)
	}

	if err := p.verifier.Verify(d.Header("x-signature"), d.Header("x-request-id"), chargeID); err != nil {
		return nil, err
	}

	n := &models.PaymentNotification{
		Source:     models.SourceMercadoPago,
		DeliveryID: string(body.ID),
		Type:       body.Type,
		Action:     body.Action,
		ChargeID:   chargeID,
	}
	if n.Type == "" {
		n.Type = d.Query["type"]
	}
	if n.DeliveryID == "" {
		n.DeliveryID = d.Header("x-request-id")
	}
	return n, nil
}

// StripeParser verifies Stripe-Signature and maps payment_intent events onto
// payment updates.
type StripeParser struct {
	secret string
}

func NewStripeParser(webhookSecret string) *StripeParser {
	return &StripeParser{secret: webhookSecret}
}

func (p *StripeParser) Parse(d models.WebhookDelivery) (*models.PaymentNotification, error) {
	var event stripe.Event
	if p.secret == "" {
		if err := json.Unmarshal(d.Body, &event); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
	} else {
		var err error
		event, err = webhook.ConstructEventWithOptions(d.Body, d.Header("stripe-signature"), p.secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	n := &models.PaymentNotification{
		Source:     models.SourceStripe,
		DeliveryID: event.ID,
		Type:       string(event.Type),
	}
	if strings.HasPrefix(string(event.Type), "payment_intent.") {
		n.Type = models.NotificationTypePayment
		n.Action = models.NotificationActionUpdated
	}
	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			n.ChargeID = id
		}
	}
	return n, nil
}
