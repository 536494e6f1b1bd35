package strategy

import (
	"context"
	"fmt"

	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/observability"
)

// cacheFirst serves a hit verbatim. On a miss it fetches, stores an approved
// copy and returns the network response untouched.
func (e *Engine) cacheFirst(ctx context.Context, c *Call) (*message.Response, error) {
	if hit := e.lookup(ctx, c); hit != nil {
		e.record(ctx, observability.CacheHit, c, "")
		return hit, nil
	}
	e.record(ctx, observability.CacheMiss, c, "")

	resp, err := e.fetch(ctx, c)
	if err != nil {
		return e.fallback(ctx, c), nil
	}
	if e.admit(ctx, c, resp) {
		e.put(ctx, c, resp)
	}
	return resp, nil
}

// cacheFirstWithHeaders is cacheFirst with every served response rewritten
// to the immutable directive and tagged with where it came from.
func (e *Engine) cacheFirstWithHeaders(ctx context.Context, c *Call) (*message.Response, error) {
	if hit := e.lookup(ctx, c); hit != nil {
		e.record(ctx, observability.CacheHit, c, "")
		return hit.WithHeaders(message.ServedByCache), nil
	}
	e.record(ctx, observability.CacheMiss, c, "")

	resp, err := e.fetch(ctx, c)
	if err != nil {
		return e.fallback(ctx, c), nil
	}
	if !e.admit(ctx, c, resp) {
		return resp, nil
	}
	enhanced := resp.WithHeaders(message.ServedByNetwork)
	e.put(ctx, c, enhanced)
	return enhanced, nil
}

// networkFirst returns the network response unmodified, storing an approved
// copy. When the network fails it serves whatever is cached, else 408.
func (e *Engine) networkFirst(ctx context.Context, c *Call) (*message.Response, error) {
	resp, err := e.fetch(ctx, c)
	if err != nil {
		return e.cachedOr408(ctx, c), nil
	}
	if e.admit(ctx, c, resp) {
		e.put(ctx, c, resp)
	}
	return resp, nil
}

// networkFirstWithHeaders is networkFirst for the main bundle: an approved
// network response is rewritten and stored in its rewritten form.
func (e *Engine) networkFirstWithHeaders(ctx context.Context, c *Call) (*message.Response, error) {
	resp, err := e.fetch(ctx, c)
	if err != nil {
		return e.cachedOr408(ctx, c), nil
	}
	if !e.admit(ctx, c, resp) {
		return resp, nil
	}
	enhanced := resp.WithHeaders(message.ServedByNetworkForced)
	e.put(ctx, c, enhanced)
	return enhanced, nil
}

func (e *Engine) cachedOr408(ctx context.Context, c *Call) *message.Response {
	if hit := e.lookup(ctx, c); hit != nil {
		e.record(ctx, observability.CacheHit, c, "network unavailable")
		return hit
	}
	return e.fallback(ctx, c)
}

// staleWhileRevalidate answers from the partition when it can and refreshes
// the entry in the background. With nothing cached the caller waits for the
// network, and a network failure is returned as an error.
func (e *Engine) staleWhileRevalidate(ctx context.Context, c *Call) (*message.Response, error) {
	hit := e.lookup(ctx, c)
	if hit == nil {
		e.record(ctx, observability.CacheMiss, c, "")
		resp, err := e.revalidate(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("strategy: %s: %w", c.Policy, err)
		}
		return resp, nil
	}

	e.record(ctx, observability.CacheHit, c, "")
	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if _, err := e.revalidate(bg, c); err != nil {
			e.logger.DebugContext(bg, "background refresh failed",
				"partition", c.Partition, "url", c.Request.URL.String(), "error", err)
		}
	}()
	return hit, nil
}

func (e *Engine) revalidate(ctx context.Context, c *Call) (*message.Response, error) {
	resp, err := e.fetch(ctx, c)
	if err != nil {
		return nil, err
	}
	if e.admit(ctx, c, resp) {
		e.put(ctx, c, resp)
	}
	return resp, nil
}
