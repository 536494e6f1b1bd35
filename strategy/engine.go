package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/swcache/cachestore"
	"github.com/hazyhaar/swcache/guard"
	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/observability"
)

// Engine runs caching policies against a Store and a Fetcher.
type Engine struct {
	store    cachestore.Store
	fetcher  Fetcher
	logger   *slog.Logger
	recorder observability.Recorder
	flight   *singleflight.Group
	mws      []Middleware
	handler  Handler

	// background tracks stale-while-revalidate refreshes.
	background sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithRecorder sets the event recorder. Default: observability.Nop.
func WithRecorder(r observability.Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithSingleFlight collapses concurrent network fetches for the same
// partition and request into one. Callers each receive their own copy of
// the response.
func WithSingleFlight() Option {
	return func(e *Engine) { e.flight = new(singleflight.Group) }
}

// WithMiddleware appends strategy middlewares, outermost first. Logging and
// Recovery are always installed inside them.
func WithMiddleware(mws ...Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// New builds an Engine.
func New(store cachestore.Store, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		fetcher:  fetcher,
		logger:   slog.Default(),
		recorder: observability.Nop{},
	}
	for _, o := range opts {
		o(e)
	}
	mws := append(append([]Middleware(nil), e.mws...), Logging(e.logger), Recovery(e.logger))
	e.handler = Chain(mws...)(e.dispatch)
	return e
}

// Serve runs policy for req against the named partition.
func (e *Engine) Serve(ctx context.Context, policy Policy, req *message.Request, partition string) (*message.Response, error) {
	return e.ServeCall(ctx, &Call{Policy: policy, Request: req, Partition: partition})
}

// ServeCall runs c through the middleware chain.
func (e *Engine) ServeCall(ctx context.Context, c *Call) (*message.Response, error) {
	return e.handler(ctx, c)
}

// Wait blocks until every background refresh has settled.
func (e *Engine) Wait() {
	e.background.Wait()
}

func (e *Engine) dispatch(ctx context.Context, c *Call) (*message.Response, error) {
	switch c.Policy {
	case CacheFirst:
		return e.cacheFirst(ctx, c)
	case CacheFirstWithHeaders:
		return e.cacheFirstWithHeaders(ctx, c)
	case NetworkFirst:
		return e.networkFirst(ctx, c)
	case NetworkFirstWithHeaders:
		return e.networkFirstWithHeaders(ctx, c)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, c)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Policy)
	}
}

func (e *Engine) record(ctx context.Context, kind observability.Kind, c *Call, detail string) {
	e.recorder.Record(ctx, observability.Event{
		Kind:      kind,
		Partition: c.Partition,
		URL:       c.Request.URL.String(),
		Rule:      c.Rule,
		Detail:    detail,
	})
}

// lookup returns the cached response or nil. Storage failures count as a
// miss.
func (e *Engine) lookup(ctx context.Context, c *Call) *message.Response {
	p, err := e.store.Open(ctx, c.Partition)
	if err == nil {
		var resp *message.Response
		resp, err = p.Match(ctx, c.Request)
		if err == nil {
			return resp
		}
	}
	e.logger.WarnContext(ctx, "partition read failed, treating as miss",
		"partition", c.Partition, "url", c.Request.URL.String(), "error", err)
	e.record(ctx, observability.StoreError, c, "read: "+err.Error())
	return nil
}

// fetch asks the network. With single-flight enabled, concurrent calls for
// the same partition and key share one fetch.
func (e *Engine) fetch(ctx context.Context, c *Call) (*message.Response, error) {
	var resp *message.Response
	var err error
	if e.flight == nil {
		resp, err = e.fetcher.Fetch(ctx, c.Request)
	} else {
		var v any
		v, err, _ = e.flight.Do(c.Partition+"\x00"+c.Request.Key(), func() (any, error) {
			return e.fetcher.Fetch(ctx, c.Request)
		})
		if err == nil {
			resp = v.(*message.Response).Clone()
		}
	}
	if err != nil {
		e.record(ctx, observability.NetworkError, c, err.Error())
		return nil, err
	}
	e.record(ctx, observability.NetworkOK, c, fmt.Sprintf("status %d", resp.Status))
	return resp, nil
}

// admit runs the guard and records a rejection.
func (e *Engine) admit(ctx context.Context, c *Call, resp *message.Response) bool {
	v := guard.Check(c.Request, resp)
	if !v.Cacheable && v.Reason == guard.ReasonHTMLMasquerade {
		e.logger.WarnContext(ctx, "refusing to cache html response",
			"partition", c.Partition, "url", c.Request.URL.String(),
			"content_type", resp.ContentType())
		e.record(ctx, observability.GuardReject, c, v.Reason)
	}
	return v.Cacheable
}

// put writes a copy of resp. Failures are logged and recorded; the caller
// still returns resp.
func (e *Engine) put(ctx context.Context, c *Call, resp *message.Response) {
	p, err := e.store.Open(ctx, c.Partition)
	if err == nil {
		err = p.Put(ctx, c.Request, resp.Clone())
	}
	if err != nil {
		e.logger.WarnContext(ctx, "partition write failed",
			"partition", c.Partition, "url", c.Request.URL.String(), "error", err)
		e.record(ctx, observability.StoreError, c, "write: "+err.Error())
		return
	}
	e.record(ctx, observability.Stored, c, "")
}

func (e *Engine) fallback(ctx context.Context, c *Call) *message.Response {
	e.record(ctx, observability.Fallback408, c, "")
	return message.NetworkError()
}
