package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/pix-payment-service/pkg/aws"
)

// MetricsRecorder is the subset of the CloudWatch client used here.
type MetricsRecorder interface {
	IsEnabled() bool
	Put(ctx context.Context, datums ...awspkg.Datum) error
}

// MetricsMiddleware sends one batch per request: a count, the latency and,
// for failures, the error class. The route template is the Path dimension
// so order IDs stay out of metric names.
func MetricsMiddleware(recorder MetricsRecorder, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil || !recorder.IsEnabled() {
			c.Next()
			return
		}

		began := time.Now()
		c.Next()
		elapsed := time.Since(began)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		dims := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(code),
		}

		batch := []awspkg.Datum{
			awspkg.Count(awspkg.MetricHTTPRequests, dims),
			awspkg.Latency(awspkg.MetricHTTPLatency, elapsed, dims),
		}
		if code >= 500 {
			batch = append(batch, awspkg.Count(awspkg.MetricHTTP5xx, dims))
		} else if code >= 400 {
			batch = append(batch, awspkg.Count(awspkg.MetricHTTP4xx, dims))
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = recorder.Put(ctx, batch...)
		}()
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
