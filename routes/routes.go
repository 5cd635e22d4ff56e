package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/pix-payment-service/common/middleware"
	"github.com/yashrajoria/pix-payment-service/controllers"
)

type Options struct {
	Auth               middleware.UserIDParser
	TrustGatewayUserID bool
	RateLimitPerMinute int
	RateLimitBurst     int
	EnableStripe       bool
}

// RegisterRoutes sets up the order API, webhook receivers and service routes.
func RegisterRoutes(
	r *gin.Engine,
	oc *controllers.OrderController,
	wc *controllers.WebhookController,
	hc *controllers.HealthController,
	opts Options,
) {
	r.GET("/", hc.Info)
	r.GET("/health", hc.Health)
	r.NoRoute(hc.NotFound)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(opts.RateLimitPerMinute, opts.RateLimitBurst))
	api.Use(middleware.OptionalAuth(opts.Auth, opts.TrustGatewayUserID))
	{
		api.POST("/orders", oc.CreateOrder)
		api.GET("/orders/:orderId/status", oc.GetOrderStatus)
	}

	// Webhooks are authenticated by signature, not by caller identity.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/pix/payment", wc.MercadoPago)
		webhooks.POST("/payments", wc.MercadoPago)
		if opts.EnableStripe {
			webhooks.POST("/stripe", wc.Stripe)
		}
	}
}
