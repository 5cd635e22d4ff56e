package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/pix-payment-service/common/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger writes an access log entry after each request. Requests
// whose path is listed in skip (health probes) are not logged.
func RequestLogger(base *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		entry := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("latency_ms", time.Since(began).Milliseconds()),
			zap.String("ip", c.ClientIP()),
		}
		if uid := GetUserID(c); uid != "" {
			entry = append(entry, zap.String("user_id", uid))
		}
		if n := len(c.Errors); n > 0 {
			entry = append(entry, zap.String("errors", c.Errors.ByType(gin.ErrorTypeAny).String()))
		}

		logger.For(c.Request.Context(), base).Log(accessLevel(status), "request completed", entry...)
	}
}

func accessLevel(status int) zapcore.Level {
	if status >= 500 {
		return zapcore.ErrorLevel
	}
	if status >= 400 {
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
