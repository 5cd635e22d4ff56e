package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderItemRequest struct {
	Name     string          `json:"name" validate:"required,max=256"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price" validate:"gt=0"`
}

type CreateOrderRequest struct {
	Amount      decimal.Decimal    `json:"amount" validate:"gt=0"`
	PayerEmail  string             `json:"payerEmail" validate:"required,email"`
	Description string             `json:"description" validate:"max=500"`
	Items       []OrderItemRequest `json:"items" validate:"omitempty,dive"`
}

type CreateOrderResponse struct {
	OrderID     string          `json:"orderId"`
	Status      OrderStatus     `json:"status"`
	PixQrCode   string          `json:"pixQrCode,omitempty"`
	PixCode     string          `json:"pixCode"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type OrderStatusResponse struct {
	Status    OrderStatus     `json:"status"`
	OrderID   string          `json:"orderId"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Message   string          `json:"message"`
}
