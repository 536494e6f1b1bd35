package cachestore

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/swcache/message"
)

func mustRequest(t *testing.T, method, rawURL string) *message.Request {
	t.Helper()
	req, err := message.NewRequest(method, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, OpenMemory(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func TestPutMatchRoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, err := s.Open(ctx, "v1-images")
		if err != nil {
			t.Fatal(err)
		}

		req := mustRequest(t, "GET", "https://example.com/images/logo.webp")
		resp := message.NewResponse(200, http.Header{
			"Content-Type":  {"image/webp"},
			"Cache-Control": {message.ImmutableCacheControl},
		}, []byte("RIFF....WEBP"))

		if err := p.Put(ctx, req, resp); err != nil {
			t.Fatalf("put: %v", err)
		}

		got, err := p.Match(ctx, req)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if got == nil {
			t.Fatal("match: got nil")
		}
		if string(got.Body) != "RIFF....WEBP" {
			t.Errorf("body = %q", got.Body)
		}
		if got.Status != 200 || got.StatusText != "OK" {
			t.Errorf("status = %d %q", got.Status, got.StatusText)
		}
		if got.Header.Get("Cache-Control") != message.ImmutableCacheControl {
			t.Errorf("Cache-Control = %q", got.Header.Get("Cache-Control"))
		}
		if got.StoredAt.IsZero() {
			t.Error("StoredAt not set")
		}

		// Same URL with another query string is a different key.
		other := mustRequest(t, "GET", "https://example.com/images/logo.webp?v=2")
		if miss, _ := p.Match(ctx, other); miss != nil {
			t.Error("expected miss for different query")
		}
	})
}

func TestPutLastWriteWins(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, _ := s.Open(ctx, "v1-dynamic")
		req := mustRequest(t, "GET", "https://api.github.com/users/x")

		p.Put(ctx, req, message.NewResponse(200, nil, []byte("first")))
		p.Put(ctx, req, message.NewResponse(200, nil, []byte("second")))

		got, _ := p.Match(ctx, req)
		if got == nil || string(got.Body) != "second" {
			t.Fatalf("got %v, want body second", got)
		}
		if n, _ := p.Len(ctx); n != 1 {
			t.Errorf("Len = %d, want 1", n)
		}
	})
}

func TestOnlyGETStored(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, _ := s.Open(ctx, "v1-dynamic")
		req := mustRequest(t, "POST", "https://api.emailjs.com/api/v1.0/email/send")

		err := p.Put(ctx, req, message.NewResponse(200, nil, nil))
		if !errors.Is(err, ErrNotCacheable) {
			t.Fatalf("Put POST err = %v, want ErrNotCacheable", err)
		}
		err = p.PutAll(ctx, []Entry{{Request: req, Response: message.NewResponse(200, nil, nil)}})
		if !errors.Is(err, ErrNotCacheable) {
			t.Fatalf("PutAll POST err = %v, want ErrNotCacheable", err)
		}
		if n, _ := p.Len(ctx); n != 0 {
			t.Errorf("Len = %d, want 0", n)
		}
	})
}

func TestNamesAndDelete(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, n := range []string{"v6-static", "v6-dynamic", "v12-static"} {
			p, err := s.Open(ctx, n)
			if err != nil {
				t.Fatal(err)
			}
			p.Put(ctx, mustRequest(t, "GET", "https://example.com/"+n), message.NewResponse(200, nil, []byte(n)))
		}

		names, err := s.Names(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 3 || names[0] != "v12-static" {
			t.Fatalf("names = %v", names)
		}

		ok, err := s.Delete(ctx, "v6-static")
		if err != nil || !ok {
			t.Fatalf("delete: ok=%v err=%v", ok, err)
		}
		ok, err = s.Delete(ctx, "v6-static")
		if err != nil || ok {
			t.Fatalf("second delete: ok=%v err=%v, want false nil", ok, err)
		}

		// Reopening starts empty: entries went with the partition.
		p, _ := s.Open(ctx, "v6-static")
		if n, _ := p.Len(ctx); n != 0 {
			t.Errorf("Len after delete = %d, want 0", n)
		}
	})
}

func TestActiveVersion(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v, err := s.ActiveVersion(ctx)
		if err != nil || v != "" {
			t.Fatalf("initial = %q, %v", v, err)
		}
		s.SetActiveVersion(ctx, "v6")
		s.SetActiveVersion(ctx, "v12")
		if v, _ := s.ActiveVersion(ctx); v != "v12" {
			t.Fatalf("active = %q, want v12", v)
		}
	})
}

func TestSQLitePutAllIsAtomic(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	p, _ := s.Open(ctx, "v1-static")

	_, err := s.DB.Exec(`
		CREATE TRIGGER reject_bad BEFORE INSERT ON sw_entries
		WHEN NEW.url LIKE '%bad%'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END;`)
	if err != nil {
		t.Fatal(err)
	}

	err = p.PutAll(ctx, []Entry{
		{Request: mustRequest(t, "GET", "https://example.com/good"), Response: message.NewResponse(200, nil, []byte("ok"))},
		{Request: mustRequest(t, "GET", "https://example.com/bad"), Response: message.NewResponse(200, nil, []byte("no"))},
	})
	if err == nil {
		t.Fatal("expected PutAll to fail")
	}
	if n, _ := p.Len(ctx); n != 0 {
		t.Fatalf("Len = %d after failed PutAll, want 0", n)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cache.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := s.Open(ctx, "v1-static")
	req := mustRequest(t, "GET", "https://example.com/Portfolio/manifest.json")
	p.Put(ctx, req, message.NewResponse(200, http.Header{"Content-Type": {"application/json"}}, []byte(`{}`)))
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	p, _ = s.Open(ctx, "v1-static")
	got, err := p.Match(ctx, req)
	if err != nil || got == nil {
		t.Fatalf("match after reopen: %v %v", got, err)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
	}
}

func TestSQLiteDeleteWithSecondConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	old, _ := s.Open(ctx, "v6-static")
	req := mustRequest(t, "GET", "https://example.com/static/js/app.js")
	if err := old.Put(ctx, req, message.NewResponse(200, nil, []byte("old v6 js"))); err != nil {
		t.Fatal(err)
	}

	// Hold one connection so the delete runs on another.
	held, err := s.DB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	var fk, busy int
	if err := held.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if err := s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if fk != 1 || busy != 10_000 {
		t.Errorf("pragmas on pooled connections: foreign_keys=%d busy_timeout=%d", fk, busy)
	}

	ok, err := s.Delete(ctx, "v6-static")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	var orphans int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sw_entries`).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("entries left after delete = %d", orphans)
	}

	again, _ := s.Open(ctx, "v6-static")
	if got, _ := again.Match(ctx, req); got != nil {
		t.Errorf("recreated partition returned %q", got.Body)
	}
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/cache.db", defaults())
	for _, want := range []string{"foreign_keys%281%29", "busy_timeout%2810000%29", "journal_mode%28WAL%29", "synchronous%28NORMAL%29"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q missing %q", got, want)
		}
	}
	if strings.Contains(dsn(":memory:", defaults()), "journal_mode") {
		t.Error("memory dsn sets WAL")
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(nil) {
		t.Error("nil is not busy")
	}
	if !IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected busy")
	}
	if IsBusy(errors.New("no such table")) {
		t.Error("unexpected busy")
	}
}
