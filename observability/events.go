// Package observability records what the caching engine does with each
// request (hits, misses, stores, guard rejections, fallbacks) and what the
// lifecycle does with partitions.
//
// Recording never blocks or fails the request path: EventLog buffers in
// memory and flushes to SQLite in batches, dropping events when the buffer
// overflows.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	CacheHit         Kind = "cache_hit"
	CacheMiss        Kind = "cache_miss"
	NetworkOK        Kind = "network_ok"
	NetworkError     Kind = "network_error"
	Stored           Kind = "stored"
	GuardReject      Kind = "guard_reject"
	StoreError       Kind = "store_error"
	Fallback408      Kind = "fallback_408"
	Bypass           Kind = "bypass"
	Install          Kind = "install"
	InstallFailed    Kind = "install_failed"
	Activate         Kind = "activate"
	PartitionDeleted Kind = "partition_deleted"
)

// Event is one recorded occurrence.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Partition string    `json:"partition,omitempty"`
	URL       string    `json:"url,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder accepts events. Implementations must be safe for concurrent use
// and must not block.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Counters is an in-memory Recorder that only counts events per kind.
type Counters struct {
	mu     sync.Mutex
	counts map[Kind]int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[Kind]int64)}
}

func (c *Counters) Record(_ context.Context, ev Event) {
	c.mu.Lock()
	c.counts[ev.Kind]++
	c.mu.Unlock()
}

// Get returns the count for kind.
func (c *Counters) Get(k Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[k]
}

// Snapshot returns a copy of all counts.
func (c *Counters) Snapshot() map[Kind]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Kind]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Kinds returns the kinds seen so far in name order.
func (c *Counters) Kinds() []Kind {
	snap := c.Snapshot()
	out := make([]Kind, 0, len(snap))
	for k := range snap {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
