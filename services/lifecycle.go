package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yashrajoria/pix-payment-service/models"
	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
	"github.com/yashrajoria/pix-payment-service/providers"
	"github.com/yashrajoria/pix-payment-service/repository"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Lifecycle owns every order mutation after creation. The polling and
// webhook paths both go through it so they agree on transitions, Sale
// creation and emitted events.
type Lifecycle struct {
	orders  repository.OrderRepository
	sales   repository.SaleRepository
	events  EventPublisher
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

type LifecycleOption func(*Lifecycle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

func NewLifecycle(
	orders repository.OrderRepository,
	sales repository.SaleRepository,
	events EventPublisher,
	metrics MetricsRecorder,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *Lifecycle {
	if events == nil {
		events = NoopPublisher()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	l := &Lifecycle{
		orders:  orders,
		sales:   sales,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// mutation edits a copy of the order and reports whether anything changed.
type mutation func(o *models.Order) bool

// persist applies mut to order and stores the result with a compare-and-set
// on the status that was read. When another writer moved the order first it
// re-reads once and applies mut to the fresh copy. The returned order is the
// stored state. A first transition to PAID ensures the Sale.
func (l *Lifecycle) persist(ctx context.Context, order *models.Order, mut mutation) (*models.Order, error) {
	initial := order.Status
	current := order

	for attempt := 0; ; attempt++ {
		next := *current
		if !mut(&next) {
			current = &next
			break
		}

		err := l.orders.Update(ctx, &next, current.Status)
		if err == nil {
			l.afterTransition(ctx, current.Status, &next)
			current = &next
			break
		}
		if !errors.Is(err, repository.ErrStatusConflict) || attempt > 0 {
			return order, err
		}

		l.logger.Info("Order status moved concurrently, re-reading",
			zap.String("order_id", order.ID.String()),
			zap.String("expected", string(current.Status)),
		)
		fresh, err := l.orders.FindByID(ctx, order.ID)
		if err != nil {
			return order, err
		}
		current = fresh
	}

	if current.Status == models.OrderStatusPaid && initial != models.OrderStatusPaid {
		if _, err := l.EnsureSale(ctx, current); err != nil {
			return current, err
		}
	}
	return current, nil
}

// afterTransition records metrics and events for a persisted status change.
func (l *Lifecycle) afterTransition(ctx context.Context, from models.OrderStatus, o *models.Order) {
	if from == o.Status {
		return
	}

	l.logger.Info("Order status changed",
		zap.String("order_id", o.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("external_status", o.ExternalStatus),
	)

	switch o.Status {
	case models.OrderStatusPaid:
		recordCount(l.metrics, aws_pkg.MetricOrdersPaid, nil)
	case models.OrderStatusExpired:
		recordCount(l.metrics, aws_pkg.MetricOrdersExpired, nil)
		l.publish(ctx, l.eventFor(models.EventOrderExpired, o, ""))
	case models.OrderStatusFailed:
		recordCount(l.metrics, aws_pkg.MetricOrdersFailed, nil)
		l.publish(ctx, l.eventFor(models.EventOrderFailed, o, ""))
	}
}

// applyCharge folds a processor charge into o.
func (l *Lifecycle) applyCharge(o *models.Order, charge *providers.Charge) bool {
	changed := false
	if charge.Status != "" && charge.Status != o.ExternalStatus {
		o.ExternalStatus = charge.Status
		changed = true
	}

	now := l.now()
	next := Reconcile(o.Status, o.ExpiresAt(), charge.Status, now)

	if o.Status == models.OrderStatusExpired && charge.Status == providers.StatusApproved {
		l.logger.Warn("Processor approved a payment for an expired order, status left unchanged",
			zap.String("order_id", o.ID.String()),
			zap.String("external_payment_id", o.ExternalPaymentID),
		)
	}

	if next == o.Status {
		return changed
	}
	if charge.Status == providers.StatusRefunded {
		l.logger.Warn("Pending order refunded by processor, expiring it",
			zap.String("order_id", o.ID.String()),
			zap.String("external_payment_id", o.ExternalPaymentID),
		)
	}
	if next == models.OrderStatusPaid {
		o.MarkPaid(now)
	} else {
		o.Status = next
	}
	return true
}

// expire moves a PENDING order to EXPIRED without consulting the processor.
func (l *Lifecycle) expire(o *models.Order) bool {
	if o.Status != models.OrderStatusPending {
		return false
	}
	o.Status = models.OrderStatusExpired
	return true
}

// EnsureSale makes sure exactly one Sale exists for a PAID order. It reports
// whether this call created it. A duplicate insert counts as success.
func (l *Lifecycle) EnsureSale(ctx context.Context, order *models.Order) (bool, error) {
	if order.Status != models.OrderStatusPaid {
		return false, fmt.Errorf("order %s is %s, not PAID", order.ID, order.Status)
	}
	if order.ExternalPaymentID == "" {
		return false, fmt.Errorf("order %s has no external payment id", order.ID)
	}

	existing, err := l.sales.FindByExternalPaymentID(ctx, order.ExternalPaymentID)
	if err == nil && existing != nil {
		return false, nil
	}
	if err != nil && !errors.Is(err, repository.ErrSaleNotFound) {
		return false, fmt.Errorf("lookup sale: %w", err)
	}

	sale := models.NewSaleFromOrder(order, l.now())
	if err := l.sales.Create(ctx, sale); err != nil {
		if errors.Is(err, repository.ErrDuplicateSale) {
			l.logger.Info("Sale already recorded for payment",
				zap.String("order_id", order.ID.String()),
				zap.String("external_payment_id", order.ExternalPaymentID),
			)
			return false, nil
		}
		return false, fmt.Errorf("create sale: %w", err)
	}

	l.logger.Info("Sale created",
		zap.String("sale_id", sale.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("external_payment_id", sale.ExternalPaymentID),
		zap.String("amount", sale.Amount.StringFixed(2)),
	)
	recordCount(l.metrics, aws_pkg.MetricSalesCreated, nil)
	l.publish(ctx, l.eventFor(models.EventPaymentSucceeded, order, sale.ID.String()))
	return true, nil
}

func (l *Lifecycle) eventFor(eventType string, o *models.Order, saleID string) models.PaymentEvent {
	return models.PaymentEvent{
		Type:              eventType,
		OrderID:           o.ID.String(),
		SaleID:            saleID,
		UserID:            o.UserID,
		Status:            string(o.Status),
		ExternalPaymentID: o.ExternalPaymentID,
		Amount:            o.Amount,
		Currency:          "BRL",
		Timestamp:         l.now(),
	}
}

// publish sends an event on a context detached from the caller so a client
// disconnect does not drop it.
func (l *Lifecycle) publish(ctx context.Context, event models.PaymentEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := l.events.PublishPaymentEvent(ctx, event); err != nil {
		l.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
