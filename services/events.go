package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yashrajoria/pix-payment-service/models"
	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
)

// EventPublisher delivers lifecycle events to downstream consumers.
// Publishing is best effort; the lifecycle logs failures and moves on.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// SNSEventPublisher publishes events as JSON to an SNS topic with an
// event_type message attribute.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return p.client.Publish(ctx, p.topicArn, b, map[string]string{"event_type": event.Type})
}

type noopPublisher struct{}

func (noopPublisher) PublishPaymentEvent(context.Context, models.PaymentEvent) error { return nil }

// NoopPublisher drops every event. Used when no broker is configured.
func NoopPublisher() EventPublisher { return noopPublisher{} }
