package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/swcache/message"
)

// Handler runs one strategy call.
type Handler func(ctx context.Context, c *Call) (*message.Response, error)

// Middleware wraps a Handler without changing its signature.
type Middleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first one is the outermost
// wrapper.
//
//	chain := Chain(Logging(logger), Recovery(logger))
//	wrapped := chain(base)
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, c *Call) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, c)
			dur := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "strategy failed",
					"policy", c.Policy,
					"partition", c.Partition,
					"url", c.Request.URL.String(),
					"duration_ms", dur.Milliseconds(),
					"error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "strategy served",
				"policy", c.Policy,
				"partition", c.Partition,
				"rule", c.Rule,
				"url", c.Request.URL.String(),
				"status", resp.Status,
				"served_by", resp.Header.Get("X-Served-By"),
				"duration_ms", dur.Milliseconds())
			return resp, nil
		}
	}
}

// Recovery converts a panic in a downstream handler into an *ErrPanic.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, c *Call) (resp *message.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "strategy panic recovered",
						"policy", c.Policy,
						"url", c.Request.URL.String(),
						"panic", r,
						"stack", string(debug.Stack()))
					resp, err = nil, &ErrPanic{Value: r}
				}
			}()
			return next(ctx, c)
		}
	}
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("strategy: handler panicked: %v", e.Value)
}
