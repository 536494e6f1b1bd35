// Package admin is the operator surface of swcache: read-only status of the
// controlling version, partitions and cache events, plus re-running
// activation. It is exposed as JSON over HTTP under /_sw/ and as MCP tools.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/swcache/cachestore"
	"github.com/hazyhaar/swcache/lifecycle"
	"github.com/hazyhaar/swcache/observability"
)

// ErrNotInstalled is returned by Activate when the version never installed.
var ErrNotInstalled = errors.New("admin: version is not installed")

// ErrNoEventLog is returned by Events when events are only counted.
var ErrNoEventLog = errors.New("admin: event log not configured")

// Counter exposes live event counts.
type Counter interface {
	Snapshot() map[observability.Kind]int64
}

// EventQuerier reads persisted events.
type EventQuerier interface {
	Query(ctx context.Context, kind observability.Kind, limit int) ([]observability.Event, error)
}

// Service answers operator queries.
type Service struct {
	manager  *lifecycle.Manager
	store    cachestore.Store
	counters Counter
	events   EventQuerier
	logger   *slog.Logger
}

// Config wires a Service. Events may be nil.
type Config struct {
	Manager  *lifecycle.Manager
	Store    cachestore.Store
	Counters Counter
	Events   EventQuerier
	Logger   *slog.Logger
}

// New builds a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Counters == nil {
		cfg.Counters = observability.NewCounters()
	}
	return &Service{
		manager:  cfg.Manager,
		store:    cfg.Store,
		counters: cfg.Counters,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
}

// Status describes the configured and controlling versions.
type Status struct {
	Version    string `json:"version"`
	State      string `json:"state"`
	Controller string `json:"controller,omitempty"`
	Controlled bool   `json:"controlled"`
	Persisted  string `json:"persisted_version,omitempty"`
}

// Status reports the lifecycle state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{
		Version: s.manager.Registry().Token(),
		State:   string(s.manager.State()),
	}
	if reg, ok := s.manager.Clients().Controller(); ok {
		st.Controlled = true
		st.Controller = reg.Token()
	}
	persisted, err := s.store.ActiveVersion(ctx)
	if err != nil {
		return st, fmt.Errorf("admin: status: %w", err)
	}
	st.Persisted = persisted
	return st, nil
}

// PartitionInfo is one partition and its size.
type PartitionInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Owned   bool   `json:"owned"`
}

// Partitions lists every partition with its entry count.
func (s *Service) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	names, err := s.store.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: list partitions: %w", err)
	}
	reg := s.manager.Registry()
	out := make([]PartitionInfo, 0, len(names))
	for _, n := range names {
		p, err := s.store.Open(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("admin: open %s: %w", n, err)
		}
		count, err := p.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("admin: count %s: %w", n, err)
		}
		out = append(out, PartitionInfo{Name: n, Entries: count, Owned: reg.Owns(n)})
	}
	return out, nil
}

// Stats returns event counts since start.
func (s *Service) Stats() map[observability.Kind]int64 {
	return s.counters.Snapshot()
}

// Events returns persisted events, newest first.
func (s *Service) Events(ctx context.Context, kind string, limit int) ([]observability.Event, error) {
	if s.events == nil {
		return nil, ErrNoEventLog
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	evs, err := s.events.Query(ctx, observability.Kind(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("admin: events: %w", err)
	}
	if evs == nil {
		evs = []observability.Event{}
	}
	return evs, nil
}

// Activate re-runs activation. With the same version it deletes nothing.
func (s *Service) Activate(ctx context.Context) (lifecycle.Report, error) {
	switch s.manager.State() {
	case lifecycle.Parsed, lifecycle.Installing, lifecycle.Redundant:
		return lifecycle.Report{}, fmt.Errorf("%w (state %s)", ErrNotInstalled, s.manager.State())
	}
	rep, err := s.manager.Activate(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "admin activate failed", "error", err)
		return rep, err
	}
	return rep, nil
}
