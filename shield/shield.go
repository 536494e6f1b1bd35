// Package shield provides the HTTP middleware of the swcache server itself:
// request tracing with a per-request logger, security headers and a rate
// limit for the operator surface.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.TraceID)
//	r.Route("/_sw", func(r chi.Router) {
//	    r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	    r.With(shield.NewRateLimiter(10, time.Minute).Middleware).Post("/activate", h)
//	})
//
// Cached responses are written untouched: none of these middlewares run on
// the intercepted traffic except TraceID.
package shield

import "context"

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey contextKey = "shield_trace_id"
)

// GetTraceID returns the trace ID stored by TraceID, "" if none.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
