package services

import (
	"context"
	"time"

	aws_pkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
)

// MetricsRecorder is the subset of the CloudWatch client used by the
// lifecycle. *aws_pkg.MetricsClient satisfies it.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

var _ MetricsRecorder = (*aws_pkg.MetricsClient)(nil)

type noopMetrics struct{}

func (noopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

func (noopMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

// NoopMetrics discards every measurement.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

// recordCount sends a counter without blocking the caller.
func recordCount(m MetricsRecorder, name string, dims map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.RecordCount(ctx, name, dims)
	}()
}

func recordLatency(m MetricsRecorder, name string, d time.Duration, dims map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.RecordLatency(ctx, name, d, dims)
	}()
}
