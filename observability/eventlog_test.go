package observability

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupEventsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInit_CreatesEventsTable(t *testing.T) {
	db := setupEventsDB(t)
	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sw_events'").Scan(&count)
	if count != 1 {
		t.Fatal("sw_events not found")
	}
	// Idempotent.
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestEventLog_RecordAndQuery(t *testing.T) {
	db := setupEventsDB(t)
	log := NewEventLog(db, 100, time.Hour, nil)
	ctx := context.Background()

	log.Record(ctx, Event{Kind: CacheHit, Partition: "v12-images", URL: "https://example.com/a.webp", Rule: "image"})
	log.Record(ctx, Event{Kind: CacheMiss, Partition: "v12-static", URL: "https://example.com/b.js"})
	log.Record(ctx, Event{Kind: CacheHit, Partition: "v12-images", URL: "https://example.com/c.webp"})
	log.Flush()

	hits, err := log.Query(ctx, CacheHit, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	for _, ev := range hits {
		if !strings.HasPrefix(ev.ID, "evt_") {
			t.Errorf("id = %q", ev.ID)
		}
		if ev.Partition != "v12-images" {
			t.Errorf("partition = %q", ev.Partition)
		}
	}

	all, err := log.Query(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}

	limited, _ := log.Query(ctx, "", 1)
	if len(limited) != 1 {
		t.Fatalf("limited = %d, want 1", len(limited))
	}

	if got := log.Get(CacheHit); got != 2 {
		t.Errorf("counter cache_hit = %d, want 2", got)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEventLog_CloseFlushes(t *testing.T) {
	db := setupEventsDB(t)
	log := NewEventLog(db, 100, time.Hour, nil)
	log.Record(context.Background(), Event{Kind: Install, Detail: "6 entries"})
	log.Close()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM sw_events WHERE kind = 'install'").Scan(&n)
	if n != 1 {
		t.Fatalf("persisted = %d, want 1", n)
	}
}

func TestEventLog_FullBufferTriggersFlush(t *testing.T) {
	db := setupEventsDB(t)
	log := NewEventLog(db, 2, time.Hour, nil)
	defer log.Close()

	ctx := context.Background()
	log.Record(ctx, Event{Kind: Stored})
	log.Record(ctx, Event{Kind: Stored})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sw_events").Scan(&n)
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("buffer was not flushed")
}

func TestEventLog_Cleanup(t *testing.T) {
	db := setupEventsDB(t)
	log := NewEventLog(db, 100, time.Hour, nil)
	defer log.Close()
	ctx := context.Background()

	log.Record(ctx, Event{Kind: Activate, At: time.Now().Add(-48 * time.Hour)})
	log.Record(ctx, Event{Kind: Activate})
	log.Flush()

	n, err := log.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	left, _ := log.Query(ctx, Activate, 0)
	if len(left) != 1 {
		t.Fatalf("left = %d, want 1", len(left))
	}
}

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record(context.Background(), Event{Kind: NetworkOK})
		}()
	}
	wg.Wait()
	if got := c.Snapshot()[NetworkOK]; got != 50 {
		t.Fatalf("network_ok = %d, want 50", got)
	}
	if kinds := c.Kinds(); len(kinds) != 1 || kinds[0] != NetworkOK {
		t.Fatalf("kinds = %v", kinds)
	}
}
