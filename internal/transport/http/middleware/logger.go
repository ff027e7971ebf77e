package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/logging"
	"ragdesk/internal/pkg/tenantkey"
)

// RequestLogger logs one line per request. Tenant keys appear only as
// fingerprints.
func RequestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if key := TenantKeyFrom(c); key != "" {
			args = append(args, "tenant", tenantkey.Fingerprint(key))
		}
		if len(c.Errors) > 0 {
			args = append(args, "err", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error(c.Request.Context(), "request failed", args...)
		case status >= 400:
			log.Warn(c.Request.Context(), "request rejected", args...)
		default:
			log.Info(c.Request.Context(), "request served", args...)
		}
	}
}
