package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// noRouteLabel is the path label of requests that matched no route.
const noRouteLabel = "<no-route>"

// MetricsMiddleware counts and times every request by method, route template
// and status. Download and listing routes are labelled by template
// (/package/download/:owner/:name/:version/), never by package.
//
// Register it after gin.Recovery so recovered panics are counted as 500s.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
