package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// MessageHandler processes one message body. Returning an error leaves the
// message on the queue until its visibility timeout expires.
type MessageHandler func(ctx context.Context, body string) error

// SQSQueue sends to and long-polls a single queue.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

func NewSQSQueue(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		logger:   logger,
	}
}

// Poll receives messages until ctx is cancelled.
func (q *SQSQueue) Poll(ctx context.Context, handler MessageHandler) error {
	q.logger.Info("Starting SQS polling", zap.String("queue_url", q.queueURL))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("SQS polling stopped", zap.String("queue_url", q.queueURL))
			return ctx.Err()
		default:
			if err := q.pollOnce(ctx, handler); err != nil && ctx.Err() == nil {
				q.logger.Warn("Error polling SQS", zap.Error(err))
			}
		}
	}
}

func (q *SQSQueue) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		if err := handler(ctx, *msg.Body); err != nil {
			q.logger.Warn("Failed to process SQS message",
				zap.String("message_id", aws.ToString(msg.MessageId)),
				zap.Error(err),
			)
			continue
		}

		if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			q.logger.Warn("Failed to delete SQS message",
				zap.String("message_id", aws.ToString(msg.MessageId)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
