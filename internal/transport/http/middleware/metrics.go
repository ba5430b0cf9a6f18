package middleware

import (
	"strconv"
	"time"

	"github.com/podworks/podworks/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records per-route request counts and latencies. Job execution
// has its own instruments; this covers only the API surface.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
