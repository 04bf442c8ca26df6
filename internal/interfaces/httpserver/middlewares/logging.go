package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// LoggingMiddleware writes one access line per request. Health and scrape
// traffic is logged at debug level only.
func LoggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			if _, quiet := quietPaths[path]; quiet {
				event = logger.Debug()
			} else {
				event = logger.Info()
			}
		}
		if event == nil {
			return
		}

		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			event.Str("trace_id", sc.TraceID().String())
		}
		if requestID := RequestIDFromContext(c); requestID != "" {
			event.Str("request_id", requestID)
		}
		if principal, ok := PrincipalFromContext(c); ok {
			event.Str("user_id", principal.ID).Str("role", string(principal.Role))
		}
		if remaining := c.Writer.Header().Get("X-RateLimit-Remaining"); remaining != "" {
			event.Str("ratelimit_remaining", remaining)
		}
		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		}

		// query strings may carry relay tokens, so only the path is logged
		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
