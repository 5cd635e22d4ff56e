package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
)

type HealthController struct {
	serviceName string
	processor   string
	startedAt   time.Time
}

func NewHealthController(serviceName, processor string) *HealthController {
	return &HealthController{serviceName: serviceName, processor: processor, startedAt: time.Now()}
}

// Health handles GET /health
func (hc *HealthController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": hc.serviceName,
		"uptime":  time.Since(hc.startedAt).Round(time.Second).String(),
	})
}

// Info handles GET /
func (hc *HealthController) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   hc.serviceName,
		"processor": hc.processor,
		"endpoints": gin.H{
			"createOrder": "POST /api/orders",
			"orderStatus": "GET /api/orders/:orderId/status",
			"webhook":     "POST /webhooks/pix/payment",
			"health":      "GET /health",
		},
	})
}

// NotFound renders unknown routes as JSON.
func (hc *HealthController) NotFound(c *gin.Context) {
	apperrors.Respond(c, apperrors.NotFound("Route not found"))
}
