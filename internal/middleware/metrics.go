package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/campusnet/backend/internal/observability"
)

// Metrics records request counts and latency by route template, so
// /api/posts/:id stays a single series.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
