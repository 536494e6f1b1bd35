package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/swcache/message"
)

const activeVersionKey = "active_version"

// SQLite is a Store persisted in a SQLite database.
type SQLite struct {
	DB *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the store at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := openDB(path, opts...)
	if err != nil {
		return nil, err
	}
	return &SQLite{DB: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// Open returns the named partition, creating its row on first use.
func (s *SQLite) Open(ctx context.Context, name string) (Partition, error) {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO sw_partitions (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("cachestore: open partition %s: %w", name, err)
	}
	return &sqlitePartition{db: s.DB, name: name}, nil
}

// Names lists all partitions.
func (s *SQLite) Names(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM sw_partitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("cachestore: list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("cachestore: scan partition: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Delete removes a partition and its entries in one transaction. Entries
// are deleted explicitly so the result does not depend on foreign_keys.
func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := runTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sw_entries WHERE partition_name = ?`, name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sw_partitions WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cachestore: delete partition %s: %w", name, err)
	}
	return existed, nil
}

// ActiveVersion returns the persisted active token.
func (s *SQLite) ActiveVersion(ctx context.Context) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM sw_meta WHERE key = ?`, activeVersionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cachestore: read active version: %w", err)
	}
	return v, nil
}

// SetActiveVersion persists the active token.
func (s *SQLite) SetActiveVersion(ctx context.Context, token string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sw_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, activeVersionKey, token)
	if err != nil {
		return fmt.Errorf("cachestore: write active version: %w", err)
	}
	return nil
}

type sqlitePartition struct {
	db   *sql.DB
	name string
}

func (p *sqlitePartition) Name() string { return p.name }

func (p *sqlitePartition) Match(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.Method != http.MethodGet {
		return nil, nil
	}

	var (
		resp     message.Response
		header   string
		storedAt int64
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT status, status_text, header, body, stored_at
		FROM sw_entries
		WHERE partition_name = ? AND method = ? AND url = ?`,
		p.name, req.Method, req.URL.String(),
	).Scan(&resp.Status, &resp.StatusText, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cachestore: match %s in %s: %w", req.URL, p.name, err)
	}

	resp.Header = make(http.Header)
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("cachestore: decode header for %s: %w", req.URL, err)
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.StoredAt = time.UnixMilli(storedAt)
	return &resp, nil
}

func (p *sqlitePartition) Put(ctx context.Context, req *message.Request, resp *message.Response) error {
	if err := checkCacheable(req); err != nil {
		return err
	}
	return putEntry(ctx, p.db, p.name, req, resp)
}

func (p *sqlitePartition) PutAll(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := checkCacheable(e.Request); err != nil {
			return err
		}
	}
	return runTx(ctx, p.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := putEntry(ctx, tx, p.name, e.Request, e.Response); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *sqlitePartition) Len(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sw_entries WHERE partition_name = ?`, p.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cachestore: count %s: %w", p.name, err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putEntry(ctx context.Context, db execer, partition string, req *message.Request, resp *message.Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("cachestore: encode header for %s: %w", req.URL, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sw_entries
			(partition_name, method, url, status, status_text, header, body, stored_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(partition_name, method, url) DO UPDATE SET
			status = excluded.status,
			status_text = excluded.status_text,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		partition, req.Method, req.URL.String(),
		resp.Status, resp.StatusText, string(header), body, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cachestore: put %s in %s: %w", req.URL, partition, err)
	}
	return nil
}
