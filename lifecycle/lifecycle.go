// Package lifecycle installs and activates one version of the cache.
//
// Install pre-populates the static partition with the manifest, all or
// nothing. Activate deletes every partition the version does not own and
// takes control of clients. Register runs both in sequence; when install
// fails, whichever version was previously active keeps control.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/swcache/cachestore"
	"github.com/hazyhaar/swcache/message"
	"github.com/hazyhaar/swcache/observability"
	"github.com/hazyhaar/swcache/strategy"
	"github.com/hazyhaar/swcache/version"
)

// State is the lifecycle phase of a version.
type State string

const (
	Parsed     State = "parsed"
	Installing State = "installing"
	Installed  State = "installed"
	Activating State = "activating"
	Activated  State = "activated"
	Redundant  State = "redundant"
)

// InstallError reports the manifest entry that failed the install phase.
type InstallError struct {
	URL    string
	Status int
	Err    error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lifecycle: install %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("lifecycle: install %s: status %d", e.URL, e.Status)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Report summarises an activation.
type Report struct {
	Version string   `json:"version"`
	Kept    []string `json:"kept"`
	Deleted []string `json:"deleted"`
}

// Clients holds the registry currently in control of intercepted requests.
// A nil controller means requests go to the network untouched.
type Clients struct {
	current atomic.Pointer[version.Registry]
}

// Claim makes reg the controller.
func (c *Clients) Claim(reg version.Registry) {
	c.current.Store(&reg)
}

// Controller returns the controlling registry, if any.
func (c *Clients) Controller() (version.Registry, bool) {
	p := c.current.Load()
	if p == nil {
		return version.Registry{}, false
	}
	return *p, true
}

// Manager drives one version through install and activate.
type Manager struct {
	registry version.Registry
	store    cachestore.Store
	fetcher  strategy.Fetcher
	clients  *Clients
	manifest []string
	origin   *url.URL
	logger   *slog.Logger
	recorder observability.Recorder

	mu    sync.Mutex
	state State
}

// Config configures a Manager.
type Config struct {
	Registry version.Registry
	Store    cachestore.Store
	Fetcher  strategy.Fetcher
	Clients  *Clients
	// Manifest lists absolute paths, resolved against Origin.
	Manifest []string
	// Origin is the scheme and host the manifest paths are requested on.
	Origin   string
	Logger   *slog.Logger
	Recorder observability.Recorder
}

// New validates cfg and returns a Manager in the parsed state.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry.IsZero() {
		return nil, errors.New("lifecycle: registry is required")
	}
	if cfg.Store == nil || cfg.Fetcher == nil {
		return nil, errors.New("lifecycle: store and fetcher are required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("lifecycle: origin %q must be an absolute URL", cfg.Origin)
	}
	if cfg.Clients == nil {
		cfg.Clients = &Clients{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = observability.Nop{}
	}
	return &Manager{
		registry: cfg.Registry,
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		clients:  cfg.Clients,
		manifest: append([]string(nil), cfg.Manifest...),
		origin:   origin,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		state:    Parsed,
	}, nil
}

// State returns the current phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Registry returns the version this manager drives.
func (m *Manager) Registry() version.Registry { return m.registry }

// Clients returns the shared controller holder.
func (m *Manager) Clients() *Clients { return m.clients }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Install fetches every manifest entry concurrently and commits them to the
// static partition in one write. Any fetch error or non-2xx status fails the
// phase and leaves the partition untouched.
func (m *Manager) Install(ctx context.Context) error {
	m.setState(Installing)
	partition := m.registry.Partition(version.Static)

	entries, err := m.fetchManifest(ctx)
	if err == nil {
		var p cachestore.Partition
		p, err = m.store.Open(ctx, partition)
		if err == nil {
			err = p.PutAll(ctx, entries)
		}
		if err != nil {
			err = fmt.Errorf("lifecycle: commit %s: %w", partition, err)
		}
	}
	if err != nil {
		m.setState(Redundant)
		m.logger.ErrorContext(ctx, "install failed", "version", m.registry.Token(), "error", err)
		m.recorder.Record(ctx, observability.Event{Kind: observability.InstallFailed, Partition: partition, Detail: err.Error()})
		return err
	}

	m.setState(Installed)
	m.logger.InfoContext(ctx, "installed", "version", m.registry.Token(), "entries", len(entries))
	m.recorder.Record(ctx, observability.Event{
		Kind:      observability.Install,
		Partition: partition,
		Detail:    fmt.Sprintf("%d entries", len(entries)),
	})
	return nil
}

func (m *Manager) fetchManifest(ctx context.Context) ([]cachestore.Entry, error) {
	entries := make([]cachestore.Entry, len(m.manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range m.manifest {
		g.Go(func() error {
			req, err := m.manifestRequest(path)
			if err != nil {
				return err
			}
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return &InstallError{URL: req.URL.String(), Err: err}
			}
			if !resp.OK() {
				return &InstallError{URL: req.URL.String(), Status: resp.Status}
			}
			entries[i] = cachestore.Entry{Request: req, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) manifestRequest(path string) (*message.Request, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, &InstallError{URL: path, Err: errors.New("manifest path must be absolute")}
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, &InstallError{URL: path, Err: err}
	}
	return message.NewRequest("GET", m.origin.ResolveReference(ref).String())
}

// Activate deletes every partition the version does not own, records the
// version as active and claims clients. Deletions run in parallel; a failed
// deletion does not stop the others and all failures are joined.
func (m *Manager) Activate(ctx context.Context) (Report, error) {
	m.setState(Activating)
	rep := Report{Version: m.registry.Token()}

	names, err := m.store.Names(ctx)
	if err != nil {
		return rep, fmt.Errorf("lifecycle: list partitions: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, name := range names {
		if m.registry.Owns(name) {
			rep.Kept = append(rep.Kept, name)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			existed, err := m.store.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("lifecycle: delete %s: %w", name, err))
				return
			}
			if existed {
				rep.Deleted = append(rep.Deleted, name)
			}
		}()
	}
	wg.Wait()

	for _, name := range rep.Deleted {
		m.logger.InfoContext(ctx, "partition deleted", "partition", name, "version", m.registry.Token())
		m.recorder.Record(ctx, observability.Event{Kind: observability.PartitionDeleted, Partition: name})
	}
	if err := errors.Join(errs...); err != nil {
		return rep, err
	}

	if err := m.store.SetActiveVersion(ctx, m.registry.Token()); err != nil {
		return rep, fmt.Errorf("lifecycle: persist active version: %w", err)
	}
	m.clients.Claim(m.registry)
	m.setState(Activated)

	m.logger.InfoContext(ctx, "activated",
		"version", m.registry.Token(), "kept", len(rep.Kept), "deleted", len(rep.Deleted))
	m.recorder.Record(ctx, observability.Event{
		Kind:   observability.Activate,
		Detail: fmt.Sprintf("kept %d, deleted %d", len(rep.Kept), len(rep.Deleted)),
	})
	return rep, nil
}

// Register installs then activates immediately. If install fails, the
// version recorded as active by an earlier run keeps control and the
// install error is returned.
func (m *Manager) Register(ctx context.Context) (Report, error) {
	if err := m.Install(ctx); err != nil {
		m.fallbackToPrevious(ctx)
		return Report{}, err
	}
	return m.Activate(ctx)
}

func (m *Manager) fallbackToPrevious(ctx context.Context) {
	prev, err := m.store.ActiveVersion(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "read previous version failed", "error", err)
		return
	}
	if prev == "" {
		m.logger.WarnContext(ctx, "no previous version, requests go to the network")
		return
	}
	reg, err := version.New(prev)
	if err != nil {
		m.logger.WarnContext(ctx, "previous version invalid", "version", prev, "error", err)
		return
	}
	m.clients.Claim(reg)
	m.logger.InfoContext(ctx, "previous version keeps control", "version", prev, "failed", m.registry.Token())
}
