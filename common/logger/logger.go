package logger

import (
	"context"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// New builds the service logger. Production uses JSON with ISO8601
// timestamps; any other env uses the colored development console encoder.
// When sink is non-nil every entry is also written to it as JSON.
func New(env string, sink io.Writer) (*zap.Logger, error) {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if sink == nil {
		return config.Build()
	}

	level := zap.NewAtomicLevelAt(config.Level.Level())
	var consoleEncoder zapcore.Encoder
	if env == "production" {
		consoleEncoder = zapcore.NewJSONEncoder(config.EncoderConfig)
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(config.EncoderConfig)
	}
	sinkConfig := zap.NewProductionEncoderConfig()
	sinkConfig.TimeKey = "timestamp"
	sinkConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(sinkConfig), zapcore.AddSync(sink), level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// RequestID assigns every request an ID, taken from X-Request-ID when the
// caller supplies one, and stores it in both the gin and request contexts.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// WithRequestID returns a copy of ctx carrying requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFrom returns the request ID stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// For returns base annotated with the request ID found in ctx.
func For(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return base.With(zap.String(RequestIDKey, id))
	}
	return base
}
