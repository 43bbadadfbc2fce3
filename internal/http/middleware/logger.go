package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"issuemind.app/triage/common/logger"
)

// Logger writes one record per request. Event streams are logged when
// they close.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}

// TraceHeader echoes the active trace id so callers can quote it.
func TraceHeader(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID := logger.TraceIDFromContext(c.Request.Context()); traceID != "" && name != "" {
			c.Header(name, traceID)
		}
		c.Next()
	}
}
