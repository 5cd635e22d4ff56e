package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names shared by the HTTP middleware and the payment services.
const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	MetricOrdersCreated       = "OrdersCreated"
	MetricOrdersFailed        = "OrdersFailed"
	MetricOrdersPaid          = "OrdersPaid"
	MetricOrdersExpired       = "OrdersExpired"
	MetricSalesCreated        = "SalesCreated"
	MetricProcessorErrors     = "ProcessorErrors"
	MetricProcessorLatency    = "ProcessorLatency"
	MetricWebhooksReceived    = "WebhooksReceived"
	MetricWebhooksRejected    = "WebhookSignatureRejected"
	MetricWebhooksDuplicate   = "WebhooksDuplicate"
	MetricWebhookDispatchFull = "WebhookDispatchQueueFull"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// Datum is one observation handed to MetricsClient.Put.
type Datum struct {
	Name       string
	Value      float64
	Unit       types.StandardUnit
	Dimensions map[string]string
}

// Count is a single occurrence of name.
func Count(name string, dims map[string]string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount, Dimensions: dims}
}

// Latency records d in milliseconds.
func Latency(name string, d time.Duration, dims map[string]string) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds, Dimensions: dims}
}

// MetricDataPutter is the CloudWatch call MetricsClient depends on.
type MetricDataPutter interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsClient publishes datums under one CloudWatch namespace. When
// disabled every call is a no-op, so callers never need to branch on it.
type MetricsClient struct {
	api       MetricDataPutter
	namespace string
	enabled   bool
	now       func() time.Time
}

func NewMetricsClient(cfg aws.Config, namespace string, enabled bool) *MetricsClient {
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, enabled)
}

func NewMetricsClientWithAPI(api MetricDataPutter, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "PixPayments"
	}
	return &MetricsClient{api: api, namespace: namespace, enabled: enabled, now: time.Now}
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// Put sends datums in as few PutMetricData calls as the batch limit allows.
func (m *MetricsClient) Put(ctx context.Context, datums ...Datum) error {
	if !m.IsEnabled() || len(datums) == 0 {
		return nil
	}

	stamp := aws.Time(m.now().UTC())
	batch := make([]types.MetricDatum, 0, min(len(datums), maxDatumsPerCall))
	for i, d := range datums {
		batch = append(batch, types.MetricDatum{
			MetricName: aws.String(d.Name),
			Value:      aws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  stamp,
			Dimensions: toDimensions(d.Dimensions),
		})
		if len(batch) == maxDatumsPerCall || i == len(datums)-1 {
			if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
				Namespace:  aws.String(m.namespace),
				MetricData: batch,
			}); err != nil {
				return fmt.Errorf("put %d metric(s) to %s: %w", len(batch), m.namespace, err)
			}
			batch = batch[:0]
		}
	}
	return nil
}

func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.Put(ctx, Count(metricName, dimensions))
}

func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.Put(ctx, Latency(metricName, duration, dimensions))
}

// toDimensions sorts by name so identical dimension sets produce identical
// requests.
func toDimensions(dims map[string]string) []types.Dimension {
	if len(dims) == 0 {
		return nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		out = append(out, types.Dimension{Name: aws.String(k), Value: aws.String(dims[k])})
	}
	return out
}
