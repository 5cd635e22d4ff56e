package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yashrajoria/pix-payment-service/models"
	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
	"go.uber.org/zap"
)

var (
	ErrDispatchQueueFull = errors.New("webhook dispatch queue is full")
	ErrDispatcherClosed  = errors.New("webhook dispatcher is shut down")
)

// Dispatcher hands acknowledged deliveries to background processing.
// Dispatch never waits for processing to finish.
type Dispatcher interface {
	Dispatch(d models.WebhookDelivery) error
	Shutdown(ctx context.Context) error
}

// WorkerPoolDispatcher processes deliveries in-process on a fixed number of
// goroutines fed by a bounded queue.
type WorkerPoolDispatcher struct {
	service     WebhookService
	queue       chan models.WebhookDelivery
	taskTimeout time.Duration
	metrics     MetricsRecorder
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPoolDispatcher(
	service WebhookService,
	workers, queueSize int,
	taskTimeout time.Duration,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *WorkerPoolDispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}

	d := &WorkerPoolDispatcher{
		service:     service,
		queue:       make(chan models.WebhookDelivery, queueSize),
		taskTimeout: taskTimeout,
		metrics:     metrics,
		logger:      logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *WorkerPoolDispatcher) Dispatch(delivery models.WebhookDelivery) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- delivery:
		return nil
	default:
		recordCount(d.metrics, aws_pkg.MetricWebhookDispatchFull, map[string]string{"Source": delivery.Source})
		return ErrDispatchQueueFull
	}
}

func (d *WorkerPoolDispatcher) worker() {
	defer d.wg.Done()
	for delivery := range d.queue {
		d.handle(delivery)
	}
}

func (d *WorkerPoolDispatcher) handle(delivery models.WebhookDelivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while processing webhook", zap.String("source", delivery.Source), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()

	outcome, err := d.service.HandleDelivery(ctx, delivery)
	logOutcome(d.logger, delivery, outcome, err)
}

// Shutdown stops accepting deliveries and waits for queued ones to drain.
func (d *WorkerPoolDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook workers did not drain: %w", ctx.Err())
	}
}

// DeliveryQueue is a durable queue of serialised deliveries.
// *aws_pkg.SQSQueue satisfies it.
type DeliveryQueue interface {
	Send(ctx context.Context, body string) error
	Poll(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// SQSDispatcher enqueues deliveries to SQS and processes them from a poller,
// so processing survives restarts and is shared across instances.
type SQSDispatcher struct {
	queue   DeliveryQueue
	service WebhookService
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	cancel  context.CancelFunc
	polling sync.WaitGroup
}

func NewSQSDispatcher(queue DeliveryQueue, service WebhookService, logger *zap.Logger) *SQSDispatcher {
	return &SQSDispatcher{queue: queue, service: service, logger: logger}
}

// Dispatch sends the delivery in the background.
func (d *SQSDispatcher) Dispatch(delivery models.WebhookDelivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.queue.Send(ctx, string(body)); err != nil {
			d.logger.Error("Failed to enqueue webhook delivery", zap.String("source", delivery.Source), zap.Error(err))
		}
	}()
	return nil
}

// Start polls the queue until Shutdown. Deliveries with a retryable outcome
// stay on the queue for redelivery after the visibility timeout.
func (d *SQSDispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.polling.Add(1)
	go func() {
		defer d.polling.Done()
		_ = d.queue.Poll(ctx, d.handleMessage)
	}()
}

func (d *SQSDispatcher) handleMessage(ctx context.Context, body string) error {
	var delivery models.WebhookDelivery
	if err := json.Unmarshal([]byte(body), &delivery); err != nil {
		d.logger.Error("Dropping undecodable webhook delivery", zap.Error(err))
		return nil
	}

	outcome, err := d.service.HandleDelivery(ctx, delivery)
	logOutcome(d.logger, delivery, outcome, err)
	if outcome.Retryable() {
		return fmt.Errorf("webhook delivery %s: %w", outcome, err)
	}
	return nil
}

func (d *SQSDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		d.polling.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sqs dispatcher did not stop: %w", ctx.Err())
	}
}

func logOutcome(logger *zap.Logger, d models.WebhookDelivery, outcome Outcome, err error) {
	fields := []zap.Field{zap.String("source", d.Source), zap.String("outcome", string(outcome))}
	if err != nil {
		logger.Warn("Webhook processing finished with error", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("Webhook processed", fields...)
}
