package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
	"github.com/yashrajoria/pix-payment-service/common/middleware"
	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/services"
)

// OrderController serves the public order endpoints.
type OrderController struct {
	orders services.OrderService
}

func NewOrderController(svc services.OrderService) *OrderController {
	return &OrderController{orders: svc}
}

// CreateOrder handles POST /api/orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Validation("Invalid request body", apperrors.FieldError{Field: "body", Message: err.Error()}))
		return
	}

	order, err := oc.orders.CreateOrder(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := models.CreateOrderResponse{
		OrderID:     order.ID.String(),
		Status:      order.Status,
		Amount:      order.Amount,
		Description: order.Description,
	}
	if order.Pix != nil {
		resp.PixQrCode = order.Pix.QRCodeBase64
		resp.PixCode = order.Pix.CopyPasteCode
		resp.ExpiresAt = order.Pix.ExpiresAt
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// GetOrderStatus handles GET /api/orders/:orderId/status
func (oc *OrderController) GetOrderStatus(c *gin.Context) {
	order, err := oc.orders.GetOrderStatus(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, models.OrderStatusResponse{
		Status:    order.Status,
		OrderID:   order.ID.String(),
		Amount:    order.Amount,
		UpdatedAt: order.UpdatedAt,
		Message:   services.StatusMessage(order),
	})
}
