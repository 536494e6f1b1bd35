// Package worker is the interception point. Each request either bypasses the
// cache (it goes to the native handler untouched) or is answered by a
// caching strategy. Toward the client the worker never fails: a strategy
// error or panic becomes the synthetic 408 response.
package worker

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/swcache/lifecycle"
	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/observability"
	"github.com/hazyhaar/swcache/router"
	"github.com/hazyhaar/swcache/strategy"
)

// Outcome is the interception result. Response is nil for a bypass.
type Outcome struct {
	Bypass   bool
	Decision router.Decision
	Response *message.Response
}

// Worker classifies and serves intercepted requests.
type Worker struct {
	router         *router.Router
	engine         *strategy.Engine
	clients        *lifecycle.Clients
	logger         *slog.Logger
	recorder       observability.Recorder
	trustForwarded bool
	ruleHeader     bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithRecorder sets the event recorder. Default: observability.Nop.
func WithRecorder(r observability.Recorder) Option { return func(w *Worker) { w.recorder = r } }

// WithTrustForwarded takes the request scheme from X-Forwarded-Proto.
func WithTrustForwarded() Option { return func(w *Worker) { w.trustForwarded = true } }

// WithRuleHeader adds X-SW-Rule (the matched routing rule) to intercepted
// responses. Off by default; meant for debugging.
func WithRuleHeader() Option { return func(w *Worker) { w.ruleHeader = true } }

// New builds a Worker.
func New(rt *router.Router, eng *strategy.Engine, clients *lifecycle.Clients, opts ...Option) *Worker {
	w := &Worker{
		router:   rt,
		engine:   eng,
		clients:  clients,
		logger:   slog.Default(),
		recorder: observability.Nop{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Handle intercepts req. Until a version controls clients every request
// bypasses.
func (w *Worker) Handle(ctx context.Context, req *message.Request) (out Outcome) {
	reg, ok := w.clients.Controller()
	if !ok {
		return Outcome{Bypass: true, Decision: router.Decision{Rule: "uncontrolled", Bypass: true}}
	}

	d := w.router.Classify(req)
	if d.Bypass {
		w.recorder.Record(ctx, observability.Event{Kind: observability.Bypass, URL: req.URL.String(), Rule: d.Rule})
		return Outcome{Bypass: true, Decision: d}
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "worker panic recovered", "url", req.URL.String(), "panic", r)
			out = w.fallback(ctx, d, req)
		}
	}()

	resp, err := w.engine.ServeCall(ctx, &strategy.Call{
		Policy:    d.Policy,
		Request:   req,
		Partition: reg.Partition(d.Partition),
		Rule:      d.Rule,
	})
	if err != nil || resp == nil {
		return w.fallback(ctx, d, req)
	}
	return Outcome{Decision: d, Response: resp}
}

func (w *Worker) fallback(ctx context.Context, d router.Decision, req *message.Request) Outcome {
	w.recorder.Record(ctx, observability.Event{Kind: observability.Fallback408, URL: req.URL.String(), Rule: d.Rule})
	return Outcome{Decision: d, Response: message.NetworkError()}
}

// Middleware serves intercepted requests and passes bypassed ones to next.
func (w *Worker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		req := message.FromHTTP(r, w.trustForwarded)
		out := w.Handle(r.Context(), req)
		if out.Bypass {
			next.ServeHTTP(rw, r)
			return
		}
		if w.ruleHeader {
			rw.Header().Set("X-SW-Rule", out.Decision.Rule)
		}
		if err := out.Response.WriteTo(rw); err != nil {
			w.logger.DebugContext(r.Context(), "write response", "url", req.URL.String(), "error", err)
		}
	})
}
