package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yashrajoria/pix-payment-service/models"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentEventProducer publishes lifecycle events keyed by order ID so all
// events of one order land on the same partition.
type PaymentEventProducer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return NewPaymentEventProducerWithWriter(w, topic, logger)
}

func NewPaymentEventProducerWithWriter(w MessageWriter, topic string, logger *zap.Logger) *PaymentEventProducer {
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

func (p *PaymentEventProducer) PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published payment event",
		zap.String("topic", p.topic),
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

func (p *PaymentEventProducer) Close() error {
	return p.writer.Close()
}
