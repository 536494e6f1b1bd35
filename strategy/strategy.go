// Package strategy implements the five caching policies. A policy decides
// whether a request is answered from a partition, from the network, or from
// both, and in which fallback order.
//
// Every network response passes through the guard before it is written to a
// partition. The engine never fails toward the caller on a network or storage
// problem when a fallback exists: cache-first and network-first policies
// degrade to the synthetic 408 response. Stale-while-revalidate with an empty
// partition is the one path that returns the network error itself.
//
// Usage:
//
//	eng := strategy.New(store, fetcher, strategy.WithLogger(logger))
//	resp, err := eng.Serve(ctx, strategy.CacheFirstWithHeaders, req, "v12-images")
//	...
//	eng.Wait() // on shutdown, let background refreshes finish
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/swcache/message"
)

// Policy names a caching strategy.
type Policy string

const (
	CacheFirst              Policy = "cache-first"
	CacheFirstWithHeaders   Policy = "cache-first-with-headers"
	NetworkFirst            Policy = "network-first"
	NetworkFirstWithHeaders Policy = "network-first-with-headers"
	StaleWhileRevalidate    Policy = "stale-while-revalidate"
)

// Policies lists every known policy.
func Policies() []Policy {
	return []Policy{CacheFirst, CacheFirstWithHeaders, NetworkFirst, NetworkFirstWithHeaders, StaleWhileRevalidate}
}

// ErrUnknownPolicy is returned by Serve for a policy it does not implement.
var ErrUnknownPolicy = errors.New("strategy: unknown policy")

// Fetcher performs the network request. An error means the network could
// not produce any response at all; every HTTP status, 5xx included, is a
// response.
type Fetcher interface {
	Fetch(ctx context.Context, req *message.Request) (*message.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *message.Request) (*message.Response, error) {
	return f(ctx, req)
}

// Call is one strategy invocation.
type Call struct {
	Policy    Policy
	Request   *message.Request
	Partition string
	// Rule is the router rule that selected the policy. Informational only.
	Rule string
}

func (c *Call) String() string {
	return fmt.Sprintf("%s %s -> %s", c.Policy, c.Request.Key(), c.Partition)
}
