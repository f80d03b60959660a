package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydranamed/internal/metrics"
)

// SlogRequestLogger logs every request at debug level and counts it in the
// API request metric. The route pattern, not the raw path, labels the metric.
func SlogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

		if logger != nil {
			logger.Debug("api request",
				"method", method,
				"path", c.Request.URL.Path,
				"status", status,
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		}
	}
}
