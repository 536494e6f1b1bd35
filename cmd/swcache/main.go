// Command swcache fronts a static site as a caching intermediary: it routes
// each request through the cache rules, serves intercepted ones from the
// versioned cache or the network, and proxies the rest unchanged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/swcache/admin"
	"github.com/hazyhaar/swcache/auth"
	"github.com/hazyhaar/swcache/cachestore"
	"github.com/hazyhaar/swcache/config"
	"github.com/hazyhaar/swcache/lifecycle"
	"github.com/hazyhaar/swcache/netfetch"
	"github.com/hazyhaar/swcache/observability"
	"github.com/hazyhaar/swcache/router"
	"github.com/hazyhaar/swcache/shield"
	"github.com/hazyhaar/swcache/strategy"
	"github.com/hazyhaar/swcache/version"
	"github.com/hazyhaar/swcache/worker"
)

const appVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional; SWCACHE_* env vars override it)")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	mcpTransport := flag.String("mcp", "", "serve MCP tools on this transport (stdio)")
	mintRole := flag.String("mint-token", "", "print an admin token for this role (operator, viewer) and exit")
	mintSubject := flag.String("token-subject", "cli", "subject of the minted token")
	mintTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the minted token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if *mintRole != "" {
		if err := mintToken(cfg.AdminSecret, *mintSubject, *mintRole, *mintTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// MCP stdio owns stdout, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *mcpTransport, logger); err != nil {
		logger.Error("swcache", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mcpTransport string, logger *slog.Logger) error {
	reg, err := version.New(cfg.Version)
	if err != nil {
		return err
	}

	// Store.
	var store cachestore.Store
	var storeDB *cachestore.SQLite
	switch cfg.Store {
	case config.StoreMemory:
		store = cachestore.NewMemory()
	default:
		storeDB, err = cachestore.OpenSQLite(cfg.DBPath, cachestore.WithMkdirAll())
		if err != nil {
			return err
		}
		store = storeDB
	}
	defer store.Close()

	// Event log: the store database unless a separate one is configured.
	var counters admin.Counter
	var events admin.EventQuerier
	var recorder observability.Recorder
	var evlog *observability.EventLog
	eventsDB := storeDB
	if cfg.EventsDBPath != "" {
		eventsDB, err = cachestore.OpenSQLite(cfg.EventsDBPath, cachestore.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("events db: %w", err)
		}
		defer eventsDB.Close()
	}
	if eventsDB != nil {
		if err := observability.Init(eventsDB.DB); err != nil {
			return err
		}
		evlog = observability.NewEventLog(eventsDB.DB, 256, 2*time.Second, logger)
		defer evlog.Close()
		counters, events, recorder = evlog, evlog, evlog
	} else {
		c := observability.NewCounters()
		counters, recorder = c, c
	}

	// Network.
	fetchOpts := netfetch.Options{
		Origin:      cfg.Origin,
		PublicHosts: cfg.PublicHosts,
		Timeout:     cfg.FetchTimeout,
		MaxBody:     cfg.MaxBodyBytes,
		Logger:      logger,
	}
	fetcher, err := netfetch.New(fetchOpts)
	if err != nil {
		return err
	}
	defer fetcher.Close()
	upstream, err := netfetch.Upstream(fetchOpts)
	if err != nil {
		return err
	}

	// Engine and lifecycle.
	engOpts := []strategy.Option{strategy.WithLogger(logger), strategy.WithRecorder(recorder)}
	if cfg.SingleFlight {
		engOpts = append(engOpts, strategy.WithSingleFlight())
	}
	engine := strategy.New(store, fetcher, engOpts...)
	defer engine.Wait()

	manager, err := lifecycle.New(lifecycle.Config{
		Registry: reg,
		Store:    store,
		Fetcher:  fetcher,
		Manifest: cfg.Manifest,
		Origin:   cfg.Origin,
		Logger:   logger,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}
	if rep, err := manager.Register(ctx); err != nil {
		logger.Error("register failed", "version", reg.Token(), "state", manager.State(), "error", err)
	} else {
		logger.Info("version active", "version", rep.Version, "kept", rep.Kept, "deleted", rep.Deleted)
	}

	var wopts []worker.Option
	wopts = append(wopts, worker.WithLogger(logger), worker.WithRecorder(recorder))
	if cfg.TrustForwarded {
		wopts = append(wopts, worker.WithTrustForwarded())
	}
	if cfg.RuleHeader {
		wopts = append(wopts, worker.WithRuleHeader())
	}
	w := worker.New(router.New(cfg.RouterConfig()), engine, manager.Clients(), wopts...)

	svc := admin.New(admin.Config{
		Manager:  manager,
		Store:    store,
		Counters: counters,
		Events:   events,
		Logger:   logger,
	})

	if mcpTransport != "" {
		if mcpTransport != "stdio" {
			return fmt.Errorf("unknown MCP transport %q", mcpTransport)
		}
		srv := mcp.NewServer(&mcp.Implementation{Name: "swcache", Version: appVersion}, nil)
		svc.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("MCP stdio", "error", err)
			}
		}()
	}

	if evlog != nil {
		go cleanupLoop(ctx, evlog, cfg.EventsRetention, logger)
	}

	root := chi.NewRouter()
	root.Use(shield.TraceID)
	root.Mount("/_sw", svc.Routes(admin.RouteOptions{Secret: []byte(cfg.AdminSecret)}))
	root.NotFound(w.Middleware(upstream).ServeHTTP)
	root.MethodNotAllowed(w.Middleware(upstream).ServeHTTP)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("swcache listening", "addr", cfg.Listen, "origin", cfg.Origin, "version", reg.Token())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func cleanupLoop(ctx context.Context, evlog *observability.EventLog, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := evlog.Cleanup(ctx, retention)
			if err != nil {
				logger.Warn("event cleanup", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("event cleanup", "deleted", n)
			}
		}
	}
}

func mintToken(secret, subject, role string, ttl time.Duration) error {
	if role != auth.RoleOperator && role != auth.RoleViewer {
		return fmt.Errorf("unknown role %q", role)
	}
	if secret == "" {
		return errors.New("admin_secret is not configured")
	}
	token, err := auth.GenerateToken([]byte(secret), subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
