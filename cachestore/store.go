// Package cachestore provides the named response partitions the caching
// engine reads and writes. A partition maps a request identity (method + URL)
// to a stored response. Partitions are created lazily on first Open and
// deleted wholesale; there is no per-entry expiry.
//
// Two stores are provided: a SQLite store (persistent, shared across process
// restarts) and an in-memory store. Both accept concurrent uncoordinated
// access; concurrent writes to the same key are last-write-wins.
package cachestore

import (
	"context"
	"errors"
	"net/http"

	"github.com/hazyhaar/swcache/message"
)

// ErrNotCacheable is returned when a non-GET request is written.
var ErrNotCacheable = errors.New("cachestore: only GET requests can be stored")

// Store manages the set of named partitions plus the persisted active
// version token.
type Store interface {
	// Open returns the named partition, creating it if needed.
	Open(ctx context.Context, name string) (Partition, error)
	// Names lists existing partitions in name order.
	Names(ctx context.Context) ([]string, error)
	// Delete removes a partition and all its entries. It reports whether
	// the partition existed.
	Delete(ctx context.Context, name string) (bool, error)
	// ActiveVersion returns the last activated version token, "" if none.
	ActiveVersion(ctx context.Context) (string, error)
	// SetActiveVersion records the activated version token.
	SetActiveVersion(ctx context.Context, token string) error
	Close() error
}

// Partition is one named request → response map.
type Partition interface {
	Name() string
	// Match returns the stored response for req, or nil on a miss.
	Match(ctx context.Context, req *message.Request) (*message.Response, error)
	// Put stores a copy of resp under req, replacing any previous entry.
	Put(ctx context.Context, req *message.Request, resp *message.Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// Entry is one request/response pair for PutAll.
type Entry struct {
	Request  *message.Request
	Response *message.Response
}

func checkCacheable(req *message.Request) error {
	if req.Method != http.MethodGet {
		return ErrNotCacheable
	}
	return nil
}
