package cachestore

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type config struct {
	driver      string
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

func defaults() config {
	return config{
		driver:      "sqlite",
		busyTimeout: 10_000,
		synchronous: "NORMAL",
	}
}

// Option customises OpenSQLite.
type Option func(*config)

// WithDriver sets the database/sql driver name. Default: "sqlite". The
// driver must understand modernc's _pragma DSN parameters.
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// dsn appends the pragmas as _pragma parameters so the driver applies them
// to every pooled connection, not only the first one.
func dsn(path string, cfg config) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// openDB opens a SQLite handle with the partition pragmas and schema applied.
// The caller must blank-import the driver (modernc.org/sqlite registers
// "sqlite").
func openDB(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("cachestore: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("cachestore: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a distinct database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachestore: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachestore: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite store for tests and registers its
// cleanup on t.
func OpenMemory(t testing.TB) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("cachestore.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
