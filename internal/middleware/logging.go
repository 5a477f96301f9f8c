package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scentmemory/scentmemory/pkg/observability"
)

// RequestLogger logs one line per completed request with method, path,
// status, and latency.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if c.Writer.Status() >= 500 {
			logger.Error("Request failed", fields)
		} else {
			logger.Info("Request completed", fields)
		}
	}
}
