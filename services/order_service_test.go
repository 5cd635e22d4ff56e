package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
	"github.com/yashrajoria/pix-payment-service/models"
	"github.com/yashrajoria/pix-payment-service/providers"
	"go.uber.org/zap"
)

func validRequest() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Amount:     decimal.RequireFromString("50.00"),
		PayerEmail: "  Buyer@Example.COM ",
	}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("success stores pending order with PIX payload", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())

		var captured providers.ChargeRequest
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(providers.ChargeRequest) }).
			Return(pendingCharge("9001"), nil).Once()

		order, err := svc.CreateOrder(ctx, "user-1", validRequest())
		require.NoError(t, err)

		assert.Equal(t, models.OrderStatusPending, order.Status)
		assert.Equal(t, "buyer@example.com", order.PayerEmail)
		assert.Equal(t, models.DefaultOrderDescription, order.Description)
		assert.Equal(t, "user-1", order.UserID)
		assert.Equal(t, "9001", order.ExternalPaymentID)
		require.NotNil(t, order.Pix)
		assert.NotEmpty(t, order.Pix.CopyPasteCode)
		assert.Equal(t, 1800, order.Pix.ExpiresIn)
		assert.Equal(t, order.CreatedAt.Add(30*time.Minute), order.Pix.ExpiresAt)

		assert.Equal(t, order.ID.String(), captured.IdempotencyKey)
		assert.Equal(t, order.Pix.ExpiresAt, captured.ExpiresAt)
		assert.True(t, captured.Amount.Equal(decimal.NewFromInt(50)))

		stored := f.orders.get(t, order.ID)
		assert.Equal(t, models.OrderStatusPending, stored.Status)
		assert.Equal(t, "9001", stored.ExternalPaymentID)
		f.processor.AssertExpectations(t)
	})

	t.Run("retried requests create distinct orders", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(pendingCharge("1"), nil).Once()
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(pendingCharge("2"), nil).Once()

		a, err := svc.CreateOrder(ctx, "", validRequest())
		require.NoError(t, err)
		b, err := svc.CreateOrder(ctx, "", validRequest())
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("processor error marks order failed", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).
			Return(nil, &providers.APIError{Processor: "mock", StatusCode: 500, Body: "boom"}).Once()

		_, err := svc.CreateOrder(ctx, "", validRequest())
		require.Error(t, err)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadGateway, appErr.Status)
		assert.Equal(t, apperrors.CodeProcessor, appErr.Code)

		require.Len(t, f.orders.orders, 1)
		for id := range f.orders.orders {
			assert.Equal(t, models.OrderStatusFailed, f.orders.get(t, id).Status)
		}
		assert.Len(t, f.events.ofType(models.EventOrderFailed), 1)
		f.processor.AssertNumberOfCalls(t, "CreatePixCharge", 1)
	})

	t.Run("failure to store the charge marks order failed", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(pendingCharge("88"), nil).Once()
		f.orders.updateErrs = []error{errors.New("write timeout")}

		_, err := svc.CreateOrder(ctx, "", validRequest())
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))

		require.Len(t, f.orders.orders, 1)
		for id := range f.orders.orders {
			stored := f.orders.get(t, id)
			assert.Equal(t, models.OrderStatusFailed, stored.Status)
			assert.Equal(t, "88", stored.ExternalPaymentID)
			assert.Nil(t, stored.Pix)
		}
		assert.Len(t, f.events.ofType(models.EventOrderFailed), 1)
	})

	t.Run("unexpected charge status marks order failed", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		charge := pendingCharge("77")
		charge.Status = providers.StatusRejected
		charge.StatusDetail = "cc_rejected_other_reason"
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(charge, nil).Once()

		_, err := svc.CreateOrder(ctx, "", validRequest())
		assert.True(t, apperrors.HasCode(err, apperrors.CodeProcessor))
		for id := range f.orders.orders {
			stored := f.orders.get(t, id)
			assert.Equal(t, models.OrderStatusFailed, stored.Status)
			assert.Equal(t, providers.StatusRejected, stored.ExternalStatus)
		}
	})

	t.Run("missing copy-paste code marks order failed", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		charge := pendingCharge("78")
		charge.CopyPasteCode = ""
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(charge, nil).Once()

		_, err := svc.CreateOrder(ctx, "", validRequest())
		assert.True(t, apperrors.HasCode(err, apperrors.CodeProcessor))
		for id := range f.orders.orders {
			assert.Equal(t, models.OrderStatusFailed, f.orders.get(t, id).Status)
		}
	})

	t.Run("QR image is optional", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		charge := pendingCharge("79")
		charge.QRCodeBase64 = ""
		f.processor.On("CreatePixCharge", mock.Anything, mock.Anything).Return(charge, nil).Once()

		order, err := svc.CreateOrder(ctx, "", validRequest())
		require.NoError(t, err)
		assert.Empty(t, order.Pix.QRCodeBase64)
	})
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture()
	svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())

	tests := []struct {
		name  string
		req   models.CreateOrderRequest
		field string
	}{
		{"zero amount", models.CreateOrderRequest{Amount: decimal.Zero, PayerEmail: "a@b.com"}, "amount"},
		{"negative amount", models.CreateOrderRequest{Amount: decimal.NewFromInt(-1), PayerEmail: "a@b.com"}, "amount"},
		{"three decimal places", models.CreateOrderRequest{Amount: decimal.RequireFromString("10.005"), PayerEmail: "a@b.com"}, "amount"},
		{"missing email", models.CreateOrderRequest{Amount: decimal.NewFromInt(10)}, "payerEmail"},
		{"bad email", models.CreateOrderRequest{Amount: decimal.NewFromInt(10), PayerEmail: "not-an-email"}, "payerEmail"},
		{"item without quantity", models.CreateOrderRequest{
			Amount: decimal.NewFromInt(10), PayerEmail: "a@b.com",
			Items: []models.OrderItemRequest{{Name: "x", Quantity: 0, Price: decimal.NewFromInt(10)}},
		}, "items[0].quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), "", tt.req)
			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.Status)

			var fields []string
			for _, d := range appErr.Details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	assert.Empty(t, f.orders.orders)
	f.processor.AssertNotCalled(t, "CreatePixCharge", mock.Anything, mock.Anything)
}

// seedPending stores a PENDING order with a live charge created at f.now.
func seedPending(f *fixture, chargeID string) models.Order {
	o := models.Order{
		ID:          uuid.New(),
		UserID:      "user-1",
		Amount:      decimal.RequireFromString("50.00"),
		Description: models.DefaultOrderDescription,
		PayerEmail:  "buyer@example.com",
		Status:      models.OrderStatusPending,
		Pix: &models.PixPayload{
			CopyPasteCode: "pix-code",
			ExpiresIn:     models.PixExpirySeconds,
			ExpiresAt:     f.now.Add(models.PixExpirySeconds * time.Second),
		},
		ExternalPaymentID: chargeID,
		ExternalStatus:    providers.StatusPending,
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
	}
	f.orders.set(o)
	return o
}

func TestGetOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid id", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		_, err := svc.GetOrderStatus(ctx, "not-a-uuid")
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		_, err := svc.GetOrderStatus(ctx, uuid.NewString())
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	})

	t.Run("approved creates exactly one sale", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "555")
		f.processor.On("GetCharge", mock.Anything, "555").Return(chargeWithStatus("555", providers.StatusApproved), nil).Once()

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, got.Status)
		require.NotNil(t, got.PaidAt)
		paidAt := *got.PaidAt

		// terminal now: no processor call, no second sale
		f.advance(time.Minute)
		again, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, again.Status)
		assert.Equal(t, paidAt, *again.PaidAt)

		assert.Equal(t, 1, f.sales.count())
		sale, err := f.sales.FindByExternalPaymentID(ctx, "555")
		require.NoError(t, err)
		assert.Equal(t, o.ID, sale.OrderID)
		assert.Equal(t, "user-1", sale.UserID)
		assert.True(t, sale.Amount.Equal(decimal.NewFromInt(50)))
		assert.Len(t, f.events.ofType(models.EventPaymentSucceeded), 1)
		f.processor.AssertNumberOfCalls(t, "GetCharge", 1)
	})

	t.Run("still pending only refreshes nothing", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "556")
		f.processor.On("GetCharge", mock.Anything, "556").Return(chargeWithStatus("556", providers.StatusPending), nil).Once()

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, got.Status)
		assert.Equal(t, 0, f.orders.updates)
	})

	t.Run("in_process updates external status only", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "557")
		f.processor.On("GetCharge", mock.Anything, "557").Return(chargeWithStatus("557", providers.StatusInProcess), nil).Once()

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, got.Status)
		assert.Equal(t, providers.StatusInProcess, f.orders.get(t, o.ID).ExternalStatus)
	})

	t.Run("rejected expires without sale", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "558")
		f.processor.On("GetCharge", mock.Anything, "558").Return(chargeWithStatus("558", providers.StatusRejected), nil).Once()

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusExpired, got.Status)
		assert.Nil(t, got.PaidAt)
		assert.Equal(t, "Pagamento rejeitado ou cancelado", StatusMessage(got))
		assert.Equal(t, 0, f.sales.count())
		assert.Len(t, f.events.ofType(models.EventOrderExpired), 1)
	})

	t.Run("local expiry skips the processor", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "559")
		f.advance(31 * time.Minute)

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusExpired, got.Status)
		assert.Equal(t, models.OrderStatusExpired, f.orders.get(t, o.ID).Status)
		f.processor.AssertNotCalled(t, "GetCharge", mock.Anything, mock.Anything)
	})

	t.Run("processor failure returns local status", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "560")
		f.processor.On("GetCharge", mock.Anything, "560").Return(nil, errors.New("timeout")).Once()

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, got.Status)
		assert.Equal(t, 0, f.orders.updates)
	})

	t.Run("pending without charge returns local status", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "")
		o.Pix = nil
		f.orders.set(o)

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, got.Status)
		f.processor.AssertNotCalled(t, "GetCharge", mock.Anything, mock.Anything)
	})

	t.Run("terminal orders never change", func(t *testing.T) {
		for _, status := range []models.OrderStatus{models.OrderStatusExpired, models.OrderStatusCancelled, models.OrderStatusFailed} {
			f := newFixture()
			svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
			o := seedPending(f, "561")
			o.Status = status
			f.orders.set(o)

			got, err := svc.GetOrderStatus(ctx, o.ID.String())
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
			f.processor.AssertNotCalled(t, "GetCharge", mock.Anything, mock.Anything)
		}
	})

	t.Run("webhook paying concurrently yields one sale", func(t *testing.T) {
		f := newFixture()
		svc := NewOrderService(f.orders, f.processor, f.lifecycle, zap.NewNop())
		o := seedPending(f, "562")
		f.processor.On("GetCharge", mock.Anything, "562").Return(chargeWithStatus("562", providers.StatusApproved), nil).Once()

		// Another writer pays the order and records the sale between our
		// read and our compare-and-set.
		f.orders.beforeUpdate = func() {
			paid := f.orders.get(t, o.ID)
			paid.MarkPaid(f.now)
			paid.ExternalStatus = providers.StatusApproved
			f.orders.set(paid)
			require.NoError(t, f.sales.Create(ctx, models.NewSaleFromOrder(&paid, f.now)))
		}

		got, err := svc.GetOrderStatus(ctx, o.ID.String())
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusPaid, got.Status)
		assert.Equal(t, 1, f.sales.count())
		assert.Empty(t, f.events.ofType(models.EventPaymentSucceeded))
	})
}
