package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
	"github.com/yashrajoria/pix-payment-service/controllers"
	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/routes"
	"github.com/yashrajoria/pix-payment-service/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ---- stubs ----

type stubOrderService struct {
	order     *models.Order
	err       error
	gotUserID string
	gotReq    models.CreateOrderRequest
	gotID     string
}

func (s *stubOrderService) CreateOrder(_ context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error) {
	s.gotUserID = userID
	s.gotReq = req
	return s.order, s.err
}

func (s *stubOrderService) GetOrderStatus(_ context.Context, orderID string) (*models.Order, error) {
	s.gotID = orderID
	return s.order, s.err
}

type recordingDispatcher struct {
	mu         sync.Mutex
	deliveries []models.WebhookDelivery
	err        error
}

func (d *recordingDispatcher) Dispatch(delivery models.WebhookDelivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return d.err
}

func (d *recordingDispatcher) Shutdown(context.Context) error { return nil }

// ---- helpers ----

func setupRouter(svc services.OrderService, dispatcher services.Dispatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware(zap.NewNop()))
	routes.RegisterRoutes(r,
		controllers.NewOrderController(svc),
		controllers.NewWebhookController(dispatcher, false, zap.NewNop()),
		controllers.NewHealthController("pix-payment-service", "mercadopago"),
		routes.Options{RateLimitPerMinute: 600, RateLimitBurst: 100, TrustGatewayUserID: true, EnableStripe: true},
	)
	return r
}

func pendingOrder() *models.Order {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Order{
		ID:          uuid.MustParse("3f1c2a4e-8d7b-4f6a-9c0e-1b2d3e4f5a6b"),
		Amount:      decimal.RequireFromString("50.00"),
		Description: models.DefaultOrderDescription,
		Status:      models.OrderStatusPending,
		Pix: &models.PixPayload{
			QRCodeBase64:  "iVBORw0KGgo=",
			CopyPasteCode: "00020126580014br.gov.bcb.pix",
			ExpiresIn:     1800,
			ExpiresAt:     now.Add(30 * time.Minute),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ---- tests ----

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubOrderService{order: pendingOrder()}
	r := setupRouter(svc, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders",
		bytes.NewBufferString(`{"amount":50.00,"payerEmail":"buyer@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "3f1c2a4e-8d7b-4f6a-9c0e-1b2d3e4f5a6b", resp.Data["orderId"])
	assert.Equal(t, "PENDING", resp.Data["status"])
	assert.Equal(t, "00020126580014br.gov.bcb.pix", resp.Data["pixCode"])
	assert.Equal(t, "iVBORw0KGgo=", resp.Data["pixQrCode"])
	assert.Equal(t, "2024-06-01T12:30:00Z", resp.Data["expiresAt"])

	assert.Equal(t, "user-7", svc.gotUserID)
	assert.True(t, svc.gotReq.Amount.Equal(decimal.NewFromInt(50)))
}

func TestCreateOrder_BadJSON(t *testing.T) {
	r := setupRouter(&stubOrderService{}, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"amount":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"validation_error"`)
}

func TestCreateOrder_ServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"validation", apperrors.Validation("Invalid request data", apperrors.FieldError{Field: "payerEmail", Message: "is required"}), http.StatusBadRequest, `"field":"payerEmail"`},
		{"processor", apperrors.Processor("Failed to create PIX payment", errors.New("secret upstream detail")), http.StatusBadGateway, `"error":"processor_error"`},
		{"unexpected", errors.New("db exploded"), http.StatusInternalServerError, `"error":"internal_error"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&stubOrderService{err: tt.err}, &recordingDispatcher{})
			req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"amount":1,"payerEmail":"a@b.com"}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
			assert.NotContains(t, w.Body.String(), "secret upstream detail")
			assert.NotContains(t, w.Body.String(), "db exploded")
		})
	}
}

func TestGetOrderStatus(t *testing.T) {
	order := pendingOrder()
	order.Status = models.OrderStatusPaid
	svc := &stubOrderService{order: order}
	r := setupRouter(svc, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+order.ID.String()+"/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAID", resp["status"])
	assert.Equal(t, order.ID.String(), resp["orderId"])
	assert.Equal(t, "Pagamento aprovado!", resp["message"])
	assert.Equal(t, order.ID.String(), svc.gotID)
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	r := setupRouter(&stubOrderService{err: apperrors.NotFound("Order not found")}, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+uuid.NewString()+"/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"not_found"`)
}

func TestWebhook_AcknowledgesAndDispatches(t *testing.T) {
	for _, path := range []string{"/webhooks/pix/payment", "/webhooks/payments"} {
		t.Run(path, func(t *testing.T) {
			d := &recordingDispatcher{}
			r := setupRouter(&stubOrderService{}, d)

			req := httptest.NewRequest(http.MethodPost, path+"?data.id=123&type=payment",
				bytes.NewBufferString(`{"id":1,"type":"payment","action":"payment.updated","data":{"id":"123"}}`))
			req.Header.Set("X-Signature", "ts=1,v1=abc")
			req.Header.Set("X-Request-Id", "req-1")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())

			require.Len(t, d.deliveries, 1)
			got := d.deliveries[0]
			assert.Equal(t, models.SourceMercadoPago, got.Source)
			assert.Equal(t, "ts=1,v1=abc", got.Headers["x-signature"])
			assert.Equal(t, "req-1", got.Header("X-Request-ID"))
			assert.Equal(t, "123", got.Query["data.id"])
			assert.Contains(t, string(got.Body), `"payment.updated"`)
		})
	}
}

func TestWebhook_AlwaysReturns200(t *testing.T) {
	d := &recordingDispatcher{err: services.ErrDispatchQueueFull}
	r := setupRouter(&stubOrderService{}, d)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`garbage`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.deliveries, 1)
	assert.Equal(t, models.SourceStripe, d.deliveries[0].Source)
}

func TestServiceRoutes(t *testing.T) {
	r := setupRouter(&stubOrderService{}, &recordingDispatcher{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pix-payment-service")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"not_found"`)
}

func TestWebhook_InsecureWarningOnlyWhenUnverified(t *testing.T) {
	for _, insecure := range []bool{false, true} {
		core, logs := observer.New(zap.WarnLevel)
		r := gin.New()
		wc := controllers.NewWebhookController(&recordingDispatcher{}, insecure, zap.New(core))
		r.POST("/webhooks/payments", wc.MercadoPago)

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(`{}`)))

		warned := logs.FilterMessageSnippet("verification is disabled").Len()
		if insecure {
			assert.Equal(t, 1, warned)
		} else {
			assert.Zero(t, warned)
		}
	}
}
