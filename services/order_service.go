package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	apperrors "github.com/yashrajoria/pix-payment-service/common/errors"
	"github.com/yashrajoria/pix-payment-service/models"
	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
	"github.com/yashrajoria/pix-payment-service/providers"
	"github.com/yashrajoria/pix-payment-service/repository"
	"go.uber.org/zap"
)

// OrderService creates PIX orders and resolves their status on demand.
type OrderService interface {
	CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error)
}

type orderServiceImpl struct {
	orders    repository.OrderRepository
	processor providers.PaymentProcessor
	lifecycle *Lifecycle
	validate  *validator.Validate
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	processor providers.PaymentProcessor,
	lifecycle *Lifecycle,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		orders:    orders,
		processor: processor,
		lifecycle: lifecycle,
		validate:  newValidator(),
		metrics:   lifecycle.metrics,
		logger:    logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (s *orderServiceImpl) CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error) {
	req.PayerEmail = strings.ToLower(strings.TrimSpace(req.PayerEmail))
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if req.Description == "" {
		req.Description = models.DefaultOrderDescription
	}

	now := s.lifecycle.now()
	order := &models.Order{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      req.Amount.Round(2),
		Description: req.Description,
		PayerEmail:  req.PayerEmail,
		Items:       toOrderItems(req.Items),
		Status:      models.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to persist order", zap.Error(err))
		return nil, apperrors.Internal(err)
	}

	expiresAt := now.Add(models.PixExpirySeconds * time.Second)
	start := time.Now()
	charge, err := s.processor.CreatePixCharge(ctx, providers.ChargeRequest{
		OrderID:        order.ID.String(),
		IdempotencyKey: order.ID.String(),
		Amount:         order.Amount,
		Description:    order.Description,
		PayerEmail:     order.PayerEmail,
		Items:          order.Items,
		ExpiresAt:      expiresAt,
	})
	recordLatency(s.metrics, aws_pkg.MetricProcessorLatency, time.Since(start), map[string]string{
		"Processor": s.processor.Name(), "Operation": "create",
	})
	if err != nil {
		recordCount(s.metrics, aws_pkg.MetricProcessorErrors, map[string]string{"Processor": s.processor.Name()})
		s.logger.Error("Processor failed to create PIX charge",
			zap.String("order_id", order.ID.String()),
			zap.String("processor", s.processor.Name()),
			zap.Error(err),
		)
		s.markFailed(ctx, order, nil)
		return nil, apperrors.Processor("Failed to create PIX payment", err)
	}

	if err := checkNewCharge(charge); err != nil {
		s.logger.Error("Processor returned an unusable PIX charge",
			zap.String("order_id", order.ID.String()),
			zap.String("external_payment_id", charge.ID),
			zap.Error(err),
		)
		s.markFailed(ctx, order, charge)
		return nil, apperrors.Processor("Failed to create PIX payment", err)
	}

	paid := *order
	paid.Pix = &models.PixPayload{
		QRCodeBase64:  charge.QRCodeBase64,
		CopyPasteCode: charge.CopyPasteCode,
		ExpiresIn:     models.PixExpirySeconds,
		ExpiresAt:     expiresAt,
	}
	paid.ExternalPaymentID = charge.ID
	paid.ExternalStatus = charge.Status
	if err := s.orders.Update(ctx, &paid, models.OrderStatusPending); err != nil {
		s.logger.Error("Failed to store PIX charge on order",
			zap.String("order_id", order.ID.String()),
			zap.String("external_payment_id", charge.ID),
			zap.Error(err),
		)
		// Without the payload nothing could ever expire or reconcile it.
		s.markFailed(ctx, order, charge)
		return nil, apperrors.Internal(err)
	}

	recordCount(s.metrics, aws_pkg.MetricOrdersCreated, map[string]string{"Processor": s.processor.Name()})
	s.logger.Info("PIX order created",
		zap.String("order_id", paid.ID.String()),
		zap.String("external_payment_id", paid.ExternalPaymentID),
		zap.String("amount", paid.Amount.StringFixed(2)),
	)
	return &paid, nil
}

// checkNewCharge rejects charges that cannot be paid by the customer.
func checkNewCharge(c *providers.Charge) error {
	if c.ID == "" {
		return errors.New("charge has no id")
	}
	if c.Status != providers.StatusPending || c.StatusDetail != providers.DetailWaitingPayment {
		return fmt.Errorf("unexpected charge status %q/%q", c.Status, c.StatusDetail)
	}
	if c.CopyPasteCode == "" {
		return errors.New("charge has no PIX copy-paste code")
	}
	return nil
}

// markFailed moves a PENDING order to FAILED, even when the request context
// is gone. When a charge exists its id and status are kept on the order so
// it can be traced at the processor.
func (s *orderServiceImpl) markFailed(ctx context.Context, order *models.Order, charge *providers.Charge) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.lifecycle.persist(ctx, order, func(o *models.Order) bool {
		if o.Status != models.OrderStatusPending {
			return false
		}
		o.Status = models.OrderStatusFailed
		if charge != nil {
			if charge.ID != "" {
				o.ExternalPaymentID = charge.ID
			}
			if charge.Status != "" {
				o.ExternalStatus = charge.Status
			}
		}
		return true
	})
	if err != nil {
		fields := []zap.Field{zap.String("order_id", order.ID.String()), zap.Error(err)}
		if charge != nil {
			fields = append(fields, zap.String("external_payment_id", charge.ID))
		}
		s.logger.Error("Failed to mark order as FAILED", fields...)
	}
}

func (s *orderServiceImpl) GetOrderStatus(ctx context.Context, orderID string) (*models.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, apperrors.Validation("Invalid order ID format")
	}

	order, err := s.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		s.logger.Error("Failed to load order", zap.String("order_id", orderID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}

	if order.Status.IsTerminal() {
		return order, nil
	}

	expiresAt := order.ExpiresAt()
	if !expiresAt.IsZero() && s.lifecycle.now().After(expiresAt) {
		updated, err := s.lifecycle.persist(ctx, order, s.lifecycle.expire)
		if err != nil {
			s.logger.Error("Failed to expire order", zap.String("order_id", orderID), zap.Error(err))
			return nil, apperrors.Internal(err)
		}
		return updated, nil
	}

	if order.ExternalPaymentID == "" {
		return order, nil
	}

	start := time.Now()
	charge, err := s.processor.GetCharge(ctx, order.ExternalPaymentID)
	recordLatency(s.metrics, aws_pkg.MetricProcessorLatency, time.Since(start), map[string]string{
		"Processor": s.processor.Name(), "Operation": "get",
	})
	if err != nil {
		recordCount(s.metrics, aws_pkg.MetricProcessorErrors, map[string]string{"Processor": s.processor.Name()})
		s.logger.Warn("Processor status check failed, returning local status",
			zap.String("order_id", orderID),
			zap.String("external_payment_id", order.ExternalPaymentID),
			zap.Error(err),
		)
		return order, nil
	}

	updated, err := s.lifecycle.persist(ctx, order, func(o *models.Order) bool {
		return s.lifecycle.applyCharge(o, charge)
	})
	if err != nil {
		// The order itself may already be PAID even if the Sale write failed;
		// the next webhook for this payment recreates it.
		if updated != nil && updated.Status == models.OrderStatusPaid {
			s.logger.Error("Order paid but sale could not be recorded",
				zap.String("order_id", orderID), zap.Error(err))
			return updated, nil
		}
		s.logger.Error("Failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		return nil, apperrors.Internal(err)
	}
	return updated, nil
}

func (s *orderServiceImpl) validateRequest(req models.CreateOrderRequest) error {
	var details []apperrors.FieldError

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperrors.Validation("Invalid request")
		}
		for _, fe := range verrs {
			details = append(details, apperrors.FieldError{
				Field:   fieldPath(fe),
				Message: fieldMessage(fe),
			})
		}
	}

	if !req.Amount.Equal(req.Amount.Round(2)) {
		details = append(details, apperrors.FieldError{Field: "amount", Message: "must have at most 2 decimal places"})
	}
	for i, item := range req.Items {
		if !item.Price.Equal(item.Price.Round(2)) {
			details = append(details, apperrors.FieldError{
				Field:   fmt.Sprintf("items[%d].price", i),
				Message: "must have at most 2 decimal places",
			})
		}
	}

	if len(details) > 0 {
		return apperrors.Validation("Invalid request data", details...)
	}
	return nil
}

// fieldPath drops the struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func toOrderItems(items []models.OrderItemRequest) []models.OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]models.OrderItem, len(items))
	for i, it := range items {
		out[i] = models.OrderItem{Name: strings.TrimSpace(it.Name), Quantity: it.Quantity, Price: it.Price}
	}
	return out
}
