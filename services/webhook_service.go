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

// Outcome is what happened to a webhook delivery. It only feeds logs,
// metrics and tests; the sender always receives 200.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeRejected       Outcome = "rejected"
	OutcomeNotFound       Outcome = "order_not_found"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeAlreadyPaid    Outcome = "already_paid"
	OutcomeProcessorError Outcome = "processor_error"
	OutcomeFailed         Outcome = "failed"
	OutcomePaid           Outcome = "paid"
	OutcomeExpired        Outcome = "expired"
	OutcomeUpdated        Outcome = "updated"
)

// Retryable reports whether redelivering could change the result.
func (o Outcome) Retryable() bool {
	return o == OutcomeProcessorError || o == OutcomeFailed
}

// recorded reports whether the delivery left its mark on an order. Only
// then may the delivery guard keep its key; an order_not_found delivery can
// succeed once the order's external id is stored.
func (o Outcome) recorded() bool {
	switch o {
	case OutcomePaid, OutcomeExpired, OutcomeUpdated, OutcomeAlreadyPaid, OutcomeDuplicate:
		return true
	}
	return false
}

type WebhookService interface {
	HandleDelivery(ctx context.Context, d models.WebhookDelivery) (Outcome, error)
}

type webhookServiceImpl struct {
	orders     repository.OrderRepository
	processors map[string]providers.PaymentProcessor
	parsers    map[string]NotificationParser
	lifecycle  *Lifecycle
	guard      DeliveryGuard
	logger     *zap.Logger
}

// WebhookSource binds a delivery source to its parser and the processor
// that owns the charges it reports on.
type WebhookSource struct {
	Parser    NotificationParser
	Processor providers.PaymentProcessor
}

func NewWebhookService(
	orders repository.OrderRepository,
	sources map[string]WebhookSource,
	lifecycle *Lifecycle,
	guard DeliveryGuard,
	logger *zap.Logger,
) WebhookService {
	if guard == nil {
		guard = NoopGuard()
	}
	s := &webhookServiceImpl{
		orders:     orders,
		processors: make(map[string]providers.PaymentProcessor, len(sources)),
		parsers:    make(map[string]NotificationParser, len(sources)),
		lifecycle:  lifecycle,
		guard:      guard,
		logger:     logger,
	}
	for name, src := range sources {
		s.parsers[name] = src.Parser
		s.processors[name] = src.Processor
	}
	return s
}

func (s *webhookServiceImpl) HandleDelivery(ctx context.Context, d models.WebhookDelivery) (Outcome, error) {
	metrics := s.lifecycle.metrics
	recordCount(metrics, aws_pkg.MetricWebhooksReceived, map[string]string{"Source": d.Source})

	parser, ok := s.parsers[d.Source]
	if !ok {
		return OutcomeIgnored, fmt.Errorf("no parser for webhook source %q", d.Source)
	}

	n, err := parser.Parse(d)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			recordCount(metrics, aws_pkg.MetricWebhooksRejected, map[string]string{"Source": d.Source})
			s.logger.Warn("SECURITY: webhook rejected",
				zap.String("source", d.Source),
				zap.String("x_request_id", d.Header("x-request-id")),
				zap.Error(err),
			)
			return OutcomeRejected, err
		}
		return OutcomeIgnored, err
	}

	log := s.logger.With(
		zap.String("source", n.Source),
		zap.String("delivery_id", n.DeliveryID),
		zap.String("external_payment_id", n.ChargeID),
	)

	if n.Type != models.NotificationTypePayment || n.Action != models.NotificationActionUpdated {
		log.Debug("Ignoring webhook", zap.String("type", n.Type), zap.String("action", n.Action))
		return OutcomeIgnored, nil
	}
	if n.ChargeID == "" {
		log.Warn("Webhook has no payment id, ignoring")
		return OutcomeIgnored, nil
	}

	key := deliveryKey(n.Source, n.ChargeID, n.DeliveryID)
	if !s.guard.Acquire(ctx, key) {
		recordCount(metrics, aws_pkg.MetricWebhooksDuplicate, map[string]string{"Source": n.Source})
		log.Info("Delivery already in progress or processed")
		return OutcomeDuplicate, nil
	}

	outcome, err := s.process(ctx, n, log)
	if err != nil || !outcome.recorded() {
		s.guard.Release(context.WithoutCancel(ctx), key)
	}
	return outcome, err
}

func (s *webhookServiceImpl) process(ctx context.Context, n *models.PaymentNotification, log *zap.Logger) (Outcome, error) {
	order, err := s.orders.FindByExternalPaymentID(ctx, n.ChargeID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Info("No order for webhook payment")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find order: %w", err)
	}
	log = log.With(zap.String("order_id", order.ID.String()))

	if n.DeliveryID != "" && order.WebhookProcessed && order.LastWebhookID == n.DeliveryID {
		// A redelivery after a failed sale write must still produce the sale.
		if order.Status == models.OrderStatusPaid {
			if _, err := s.lifecycle.EnsureSale(ctx, order); err != nil {
				return OutcomeFailed, err
			}
		}
		recordCount(s.lifecycle.metrics, aws_pkg.MetricWebhooksDuplicate, map[string]string{"Source": n.Source})
		log.Info("Webhook delivery already processed")
		return OutcomeDuplicate, nil
	}

	markDelivery := func(o *models.Order) bool {
		if o.WebhookProcessed && o.LastWebhookID == n.DeliveryID {
			return false
		}
		o.WebhookProcessed = true
		o.LastWebhookID = n.DeliveryID
		return true
	}

	if order.Status == models.OrderStatusPaid {
		updated, err := s.lifecycle.persist(ctx, order, markDelivery)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("mark delivery: %w", err)
		}
		if _, err := s.lifecycle.EnsureSale(ctx, updated); err != nil {
			return OutcomeFailed, err
		}
		log.Info("Order already paid")
		return OutcomeAlreadyPaid, nil
	}

	processor, ok := s.processors[n.Source]
	if !ok || processor == nil {
		return OutcomeFailed, fmt.Errorf("no processor for source %q", n.Source)
	}

	start := time.Now()
	charge, err := processor.GetCharge(ctx, n.ChargeID)
	recordLatency(s.lifecycle.metrics, aws_pkg.MetricProcessorLatency, time.Since(start), map[string]string{
		"Processor": processor.Name(), "Operation": "get",
	})
	if err != nil {
		recordCount(s.lifecycle.metrics, aws_pkg.MetricProcessorErrors, map[string]string{"Processor": processor.Name()})
		log.Error("Failed to re-query payment from processor", zap.Error(err))
		return OutcomeProcessorError, err
	}

	updated, err := s.lifecycle.persist(ctx, order, func(o *models.Order) bool {
		changed := s.lifecycle.applyCharge(o, charge)
		return markDelivery(o) || changed
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("apply webhook: %w", err)
	}

	switch updated.Status {
	case models.OrderStatusPaid:
		log.Info("Payment approved via webhook")
		return OutcomePaid, nil
	case models.OrderStatusExpired:
		log.Info("Payment closed via webhook", zap.String("external_status", updated.ExternalStatus))
		return OutcomeExpired, nil
	default:
		return OutcomeUpdated, nil
	}
}
