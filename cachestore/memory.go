package cachestore

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/swcache/message"
)

// Memory is a Store held in process memory. Nothing survives a restart.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]*memPartition
	active     string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{partitions: make(map[string]*memPartition)}
}

func (m *Memory) Open(_ context.Context, name string) (Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		p = &memPartition{name: name, entries: make(map[string]*message.Response)}
		m.partitions[name] = p
	}
	return p, nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for n := range m.partitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		return false, nil
	}
	delete(m.partitions, name)
	// Handles already returned by Open keep working on a detached map,
	// just like a deleted SQLite partition stops being listed.
	p.mu.Lock()
	p.entries = make(map[string]*message.Response)
	p.mu.Unlock()
	return true, nil
}

func (m *Memory) ActiveVersion(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

func (m *Memory) SetActiveVersion(_ context.Context, token string) error {
	m.mu.Lock()
	m.active = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

type memPartition struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*message.Response
}

func (p *memPartition) Name() string { return p.name }

func (p *memPartition) Match(_ context.Context, req *message.Request) (*message.Response, error) {
	if req.Method != http.MethodGet {
		return nil, nil
	}
	p.mu.RLock()
	resp, ok := p.entries[req.Key()]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return resp.Clone(), nil
}

func (p *memPartition) Put(_ context.Context, req *message.Request, resp *message.Response) error {
	if err := checkCacheable(req); err != nil {
		return err
	}
	c := resp.Clone()
	c.StoredAt = time.Now()
	p.mu.Lock()
	p.entries[req.Key()] = c
	p.mu.Unlock()
	return nil
}

func (p *memPartition) PutAll(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := checkCacheable(e.Request); err != nil {
			return err
		}
	}
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		c := e.Response.Clone()
		c.StoredAt = now
		p.entries[e.Request.Key()] = c
	}
	return nil
}

func (p *memPartition) Len(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries), nil
}
