package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	logFlushInterval = 2 * time.Second
	logMaxBatch      = 500
	logRetentionDays = 30
)

// LogsAPI is the CloudWatch Logs surface CloudWatchLogsClient uses.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient is a zapcore.WriteSyncer that buffers log lines and
// ships them to one CloudWatch Logs stream in batches. Lines are flushed
// every couple of seconds, when the buffer fills, on Sync and on Close.
type CloudWatchLogsClient struct {
	api    LogsAPI
	group  string
	stream string

	mu      sync.Mutex
	pending []types.InputLogEvent

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewCloudWatchLogsClient(ctx context.Context, cfg aws.Config, logGroup, serviceName string) (*CloudWatchLogsClient, error) {
	return NewCloudWatchLogsClientWithAPI(ctx, cloudwatchlogs.NewFromConfig(cfg), logGroup, serviceName)
}

// NewCloudWatchLogsClientWithAPI prepares the group and a stream named
// after the service and host, then starts the flush loop.
func NewCloudWatchLogsClientWithAPI(ctx context.Context, api LogsAPI, logGroup, serviceName string) (*CloudWatchLogsClient, error) {
	if logGroup == "" {
		logGroup = "/pix-payments/services"
	}
	host, _ := os.Hostname()
	c := &CloudWatchLogsClient{
		api:    api,
		group:  logGroup,
		stream: fmt.Sprintf("%s/%s/%d", serviceName, host, time.Now().Unix()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if _, err := api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(c.group)}); err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("create log group %s: %w", c.group, err)
		}
	}
	if _, err := api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(c.group),
		RetentionInDays: aws.Int32(logRetentionDays),
	}); err != nil {
		return nil, fmt.Errorf("set retention on %s: %w", c.group, err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
	}); err != nil {
		return nil, fmt.Errorf("create log stream %s: %w", c.stream, err)
	}

	go c.loop()
	return c, nil
}

// Write queues p. It never fails, so a CloudWatch outage cannot break
// logging to stdout.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	event := types.InputLogEvent{
		Message:   aws.String(string(p)),
		Timestamp: aws.Int64(time.Now().UnixMilli()),
	}

	c.mu.Lock()
	c.pending = append(c.pending, event)
	full := len(c.pending) >= logMaxBatch
	c.mu.Unlock()

	if full {
		_ = c.Sync()
	}
	return len(p), nil
}

// Sync ships everything queued so far.
func (c *CloudWatchLogsClient) Sync() error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
		LogEvents:     batch,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudwatch logs: dropped %d event(s): %v\n", len(batch), err)
		return err
	}
	return nil
}

// Close stops the flush loop and ships what is left.
func (c *CloudWatchLogsClient) Close() error {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	return c.Sync()
}

func (c *CloudWatchLogsClient) loop() {
	defer close(c.done)
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Sync()
		case <-c.stop:
			return
		}
	}
}
