package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
)

// StripeProcessor issues PIX charges as Stripe PaymentIntents. Amounts are
// sent in centavos.
type StripeProcessor struct {
	client   *paymentintent.Client
	currency string
}

// NewStripeProcessor builds a processor on the given backend. A nil backend
// uses the default Stripe API backend.
func NewStripeProcessor(secretKey string, backend stripe.Backend) *StripeProcessor {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeProcessor{
		client:   &paymentintent.Client{B: backend, Key: secretKey},
		currency: "brl",
	}
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) CreatePixCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	cents := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(cents),
		Currency:           stripe.String(p.currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"pix"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("pix"),
			Pix:  &stripe.PaymentMethodPixParams{},
			BillingDetails: &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{
				Email: stripe.String(req.PayerEmail),
			},
		},
		PaymentMethodOptions: &stripe.PaymentIntentPaymentMethodOptionsParams{
			Pix: &stripe.PaymentIntentPaymentMethodOptionsPixParams{
				ExpiresAt: stripe.Int64(req.ExpiresAt.Unix()),
			},
		},
		Confirm:      stripe.Bool(true),
		Description:  stripe.String(req.Description),
		ReceiptEmail: stripe.String(req.PayerEmail),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.OrderID != "" {
		params.AddMetadata("order_id", req.OrderID)
	}

	pi, err := p.client.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe CreatePixCharge: %w", p.wrap(err))
	}
	return chargeFromPaymentIntent(pi), nil
}

func (p *StripeProcessor) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.client.Get(chargeID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe GetCharge: %w", p.wrap(err))
	}
	return chargeFromPaymentIntent(pi), nil
}

func (p *StripeProcessor) wrap(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &APIError{Processor: p.Name(), StatusCode: stripeErr.HTTPStatusCode, Body: stripeErr.Msg}
	}
	return err
}

// chargeFromPaymentIntent maps a PaymentIntent onto the normalised status
// vocabulary. A PIX intent waiting for the transfer is requires_action with
// a pix_display_qr_code next action.
func chargeFromPaymentIntent(pi *stripe.PaymentIntent) *Charge {
	c := &Charge{ID: pi.ID}

	if pi.NextAction != nil && pi.NextAction.PixDisplayQRCode != nil {
		c.CopyPasteCode = pi.NextAction.PixDisplayQRCode.Data
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		c.Status = StatusApproved
		c.StatusDetail = "accredited"
	case stripe.PaymentIntentStatusRequiresAction:
		c.Status = StatusPending
		if c.CopyPasteCode != "" {
			c.StatusDetail = DetailWaitingPayment
		}
	case stripe.PaymentIntentStatusProcessing:
		c.Status = StatusInProcess
	case stripe.PaymentIntentStatusCanceled:
		c.Status = StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// PIX intents fall back here when the code expires unpaid.
		c.Status = StatusRejected
	default:
		c.Status = string(pi.Status)
	}
	return c
}
