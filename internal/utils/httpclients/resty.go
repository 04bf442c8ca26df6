package httpclients

import (
	"context"
	"time"

	"resty.dev/v3"

	"github.com/castmatch/castmatch-server/internal/infrastructure/logger"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

type startedAtKey struct{}

// NewClient returns a resty client that logs every call at debug level.
func NewClient(clientName string, timeout time.Duration) *resty.Client {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), startedAtKey{}, time.Now()))
		if requestID := platformerrors.RequestIDFromContext(r.Context()); requestID != "" {
			r.SetHeader("X-Request-ID", requestID)
		}
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		log := logger.GetLogger()
		startTime, _ := r.Request.Context().Value(startedAtKey{}).(time.Time)

		event := log.Debug().
			Str("request_id", platformerrors.RequestIDFromContext(r.Request.Context())).
			Str("client", clientName).
			Int("status", r.StatusCode()).
			Bool("streaming", r.Request.DoNotParseResponse).
			Dur("latency", time.Since(startTime))
		if raw := r.Request.RawRequest; raw != nil {
			event = event.Str("method", raw.Method).Str("path", raw.URL.Path)
		}
		event.Msg("HTTP client request")
		return nil
	})
	return client
}
