package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	mercadoPagoBaseURL = "https://api.mercadopago.com"
	// mercadoPagoTimeLayout is the ISO 8601 layout accepted for
	// date_of_expiration.
	mercadoPagoTimeLayout = "2006-01-02T15:04:05.000-07:00"
)

// MercadoPagoProcessor implements PaymentProcessor on the Mercado Pago
// payments API.
type MercadoPagoProcessor struct {
	accessToken     string
	baseURL         string
	notificationURL string
	httpClient      *http.Client
}

// MercadoPagoOption customises a MercadoPagoProcessor.
type MercadoPagoOption func(*MercadoPagoProcessor)

// WithMercadoPagoBaseURL points the client at another API host.
func WithMercadoPagoBaseURL(baseURL string) MercadoPagoOption {
	return func(p *MercadoPagoProcessor) { p.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithNotificationURL asks Mercado Pago to deliver webhooks for each charge
// to the given URL.
func WithNotificationURL(u string) MercadoPagoOption {
	return func(p *MercadoPagoProcessor) { p.notificationURL = u }
}

func NewMercadoPagoProcessor(accessToken string, timeout time.Duration, opts ...MercadoPagoOption) *MercadoPagoProcessor {
	p := &MercadoPagoProcessor{
		accessToken: accessToken,
		baseURL:     mercadoPagoBaseURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MercadoPagoProcessor) Name() string { return "mercadopago" }

type mpPayer struct {
	Email string `json:"email"`
}

type mpItem struct {
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type mpAdditionalInfo struct {
	Items []mpItem `json:"items,omitempty"`
}

type mpPaymentRequest struct {
	TransactionAmount float64           `json:"transaction_amount"`
	Description       string            `json:"description"`
	PaymentMethodID   string            `json:"payment_method_id"`
	Payer             mpPayer           `json:"payer"`
	DateOfExpiration  string            `json:"date_of_expiration"`
	ExternalReference string            `json:"external_reference,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	AdditionalInfo    *mpAdditionalInfo `json:"additional_info,omitempty"`
}

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePixCharge creates a payment with payment_method_id "pix".
func (p *MercadoPagoProcessor) CreatePixCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := mpPaymentRequest{
		TransactionAmount: req.Amount.InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: req.PayerEmail},
		DateOfExpiration:  req.ExpiresAt.Format(mercadoPagoTimeLayout),
		ExternalReference: req.OrderID,
		NotificationURL:   p.notificationURL,
	}
	if len(req.Items) > 0 {
		info := &mpAdditionalInfo{}
		for _, it := range req.Items {
			info.Items = append(info.Items, mpItem{
				Title:     it.Name,
				Quantity:  it.Quantity,
				UnitPrice: it.Price.InexactFloat64(),
			})
		}
		body.AdditionalInfo = info
	}

	var resp mpPaymentResponse
	if err := p.doRequest(ctx, http.MethodPost, "/v1/payments", req.IdempotencyKey, body, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago CreatePixCharge: %w", err)
	}
	return resp.toCharge(), nil
}

func (p *MercadoPagoProcessor) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var resp mpPaymentResponse
	path := "/v1/payments/" + url.PathEscape(chargeID)
	if err := p.doRequest(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago GetCharge: %w", err)
	}
	return resp.toCharge(), nil
}

func (r *mpPaymentResponse) toCharge() *Charge {
	return &Charge{
		ID:            r.ID.String(),
		Status:        r.Status,
		StatusDetail:  r.StatusDetail,
		CopyPasteCode: r.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64:  r.PointOfInteraction.TransactionData.QRCodeBase64,
	}
}

func (p *MercadoPagoProcessor) doRequest(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Processor: p.Name(), StatusCode: resp.StatusCode, Body: string(respBytes)}
	}

	if out != nil {
		dec := json.NewDecoder(bytes.NewReader(respBytes))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
