package controllers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/services"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookController acknowledges processor notifications immediately and
// hands them to the dispatcher.
type WebhookController struct {
	dispatcher services.Dispatcher
	insecure   bool
	logger     *zap.Logger
}

// NewWebhookController builds the controller. insecure marks that deliveries
// are accepted without a signature check, which is logged on every delivery.
func NewWebhookController(dispatcher services.Dispatcher, insecure bool, logger *zap.Logger) *WebhookController {
	return &WebhookController{dispatcher: dispatcher, insecure: insecure, logger: logger}
}

// MercadoPago handles POST /webhooks/pix/payment and /webhooks/payments
func (wc *WebhookController) MercadoPago(c *gin.Context) {
	wc.receive(c, models.SourceMercadoPago)
}

// Stripe handles POST /webhooks/stripe
func (wc *WebhookController) Stripe(c *gin.Context) {
	wc.receive(c, models.SourceStripe)
}

func (wc *WebhookController) receive(c *gin.Context, source string) {
	body, readErr := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))

	delivery := models.WebhookDelivery{
		Source:     source,
		Body:       body,
		Headers:    lowerHeaders(c.Request.Header),
		Query:      flattenQuery(c.Request.URL.Query()),
		ReceivedAt: time.Now().UTC(),
	}

	c.JSON(http.StatusOK, gin.H{"received": true})

	if readErr != nil {
		wc.logger.Warn("Failed to read webhook body", zap.String("source", source), zap.Error(readErr))
		return
	}
	if wc.insecure {
		wc.logger.Warn("SECURITY: webhook signature verification is disabled", zap.String("source", source))
	}
	if err := wc.dispatcher.Dispatch(delivery); err != nil {
		wc.logger.Error("Failed to dispatch webhook",
			zap.String("source", source),
			zap.String("x_request_id", delivery.Header("x-request-id")),
			zap.Error(err),
		)
	}
}

func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func flattenQuery(q map[string][]string) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
