package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouteGroup names the part of the inspection surface a request hit: the
// first segment of the matched route. Requests that matched no route share
// the group "unmatched".
func RouteGroup(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		return "unmatched"
	}
	group, _, _ := strings.Cut(strings.TrimPrefix(route, "/"), "/")
	if group == "" {
		return "root"
	}
	return group
}

// RequestLogger logs each inspection request with its route group, the
// object id and query filters it carried, and any handler error. Successful
// reads log at debug, rejected ones at warn.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zerolog.DebugLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}

		event := logger.WithLevel(level).
			Str("group", RouteGroup(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start))
		if id := c.Param("id"); id != "" {
			event = event.Str("object", id)
		}
		if q := c.Request.URL.RawQuery; q != "" {
			event = event.Str("filter", q)
		}
		if err := c.Errors.Last(); err != nil {
			event = event.Str("error", err.Error())
		}
		event.Msg("inspect.request")
	}
}

// RequestMetricsMiddleware counts requests per server, method, route group
// and status.
func RequestMetricsMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(server, c.Request.Method, RouteGroup(c), c.Writer.Status(), time.Since(start))
	}
}
