package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k12share/paperclip-api/internal/service"
)

// Metrics records per-request counters and latency. The route template
// (":id" form) is used as the path label so cardinality stays bounded; raw
// paths are only used for requests that matched no route.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
