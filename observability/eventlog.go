package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Schema is the DDL for the event log.
const Schema = `
CREATE TABLE IF NOT EXISTS sw_events (
    event_id   TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    partition_name TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    rule       TEXT NOT NULL DEFAULT '',
    detail     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sw_events_kind_time ON sw_events(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sw_events_time ON sw_events(created_at DESC);
`

// Init applies the event log schema.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init: %w", err)
	}
	return nil
}

// EventLog buffers events and flushes them to SQLite in batches. It also
// keeps live per-kind counters.
type EventLog struct {
	*Counters

	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	buffer  []Event
	dropped int64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewEventLog starts the background flusher. Recommended defaults:
// bufferSize=100, flushInterval=5s. The schema must already exist (Init).
func NewEventLog(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *EventLog {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &EventLog{
		Counters:      NewCounters(),
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		logger:        logger,
		buffer:        make([]Event, 0, bufferSize),
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Record counts the event and queues it for persistence. When the buffer
// holds four batches the event is counted but not persisted.
func (l *EventLog) Record(ctx context.Context, ev Event) {
	l.Counters.Record(ctx, ev)
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.Must(uuid.NewV7()).String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	l.mu.Lock()
	if len(l.buffer) >= 4*l.bufferSize {
		l.dropped++
		l.mu.Unlock()
		return
	}
	l.buffer = append(l.buffer, ev)
	full := len(l.buffer) >= l.bufferSize
	l.mu.Unlock()

	if full {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	}
}

// Dropped returns how many events were not persisted due to overflow.
func (l *EventLog) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Flush writes the buffered events now.
func (l *EventLog) Flush() {
	l.mu.Lock()
	batch := l.buffer
	l.buffer = make([]Event, 0, l.bufferSize)
	l.mu.Unlock()
	l.write(batch)
}

// Query returns persisted events, newest first. An empty kind matches all.
func (l *EventLog) Query(ctx context.Context, kind Kind, limit int) ([]Event, error) {
	q := `SELECT event_id, kind, partition_name, url, rule, detail, created_at FROM sw_events`
	args := make([]any, 0, 2)
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY created_at DESC, event_id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var k string
		var at int64
		if err := rows.Scan(&ev.ID, &k, &ev.Partition, &ev.URL, &ev.Rule, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		ev.Kind = Kind(k)
		ev.At = time.UnixMilli(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention and returns the count removed.
func (l *EventLog) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM sw_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining events and stops the flusher.
func (l *EventLog) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *EventLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			l.Flush()
			return
		case <-ticker.C:
			l.Flush()
		case <-l.kick:
			l.Flush()
		}
	}
}

func (l *EventLog) write(batch []Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		l.logger.Error("observability events: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO sw_events
			(event_id, kind, partition_name, url, rule, detail, created_at)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		l.logger.Error("observability events: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.ExecContext(ctx, ev.ID, string(ev.Kind), ev.Partition, ev.URL, ev.Rule, ev.Detail, ev.At.UnixMilli()); err != nil {
			tx.Rollback()
			l.logger.Error("observability events: insert", "error", err, "kind", ev.Kind)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		l.logger.Error("observability events: commit", "error", err)
	}
}
