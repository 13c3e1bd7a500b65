package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	storageadapter "github.com/davidshq/forgetfulme-sub002/internal/adapter/outbound/storage"
	"github.com/davidshq/forgetfulme-sub002/internal/adapter/outbound/supabase"
	"github.com/davidshq/forgetfulme-sub002/internal/config"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/cache"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/session"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
	"github.com/davidshq/forgetfulme-sub002/internal/service"
)

// app wires the storage, cache, session, and auth layers for one command
// invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics

	synced   *storageadapter.FileStore
	local    *storageadapter.SQLiteStore
	cache    *cache.Cache
	sessions *session.Store
	manager  *service.Manager
	auth     *service.AuthService

	shutdownTracing func(context.Context) error
}

// buildApp loads configuration, opens both storage namespaces, and
// initializes the auth service.
func buildApp(ctx context.Context) (*app, error) {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(bootLogger)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	shutdownTracing, err := observe.SetupTracing(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	metrics := observe.NewMetrics(prometheus.NewRegistry())

	synced, err := storageadapter.NewFileStore(cfg.SyncedPath(), logger, metrics)
	if err != nil {
		return nil, err
	}
	local, err := storageadapter.NewSQLiteStore(cfg.LocalDBPath(), metrics)
	if err != nil {
		_ = synced.Close()
		return nil, err
	}

	ttl, err := cfg.CacheTTL()
	if err != nil {
		_ = synced.Close()
		_ = local.Close()
		return nil, err
	}
	c := cache.New(cache.Config{TTL: ttl, MaxEntries: cfg.Cache.MaxEntries, Metrics: metrics})

	sessions := session.NewStore(synced, c, logger)
	manager := service.NewManager()

	auth, err := manager.Install(func() (*service.AuthService, error) {
		return service.NewAuthService(
			config.NewStaticProvider(cfg),
			service.DefaultClientFactory(metrics),
			sessions, c, logger, metrics,
		), nil
	})
	if err != nil {
		_ = synced.Close()
		_ = local.Close()
		return nil, err
	}

	if _, err := auth.Initialize(ctx); err != nil {
		manager.Close()
		_ = synced.Close()
		_ = local.Close()
		return nil, err
	}

	return &app{
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		synced:          synced,
		local:           local,
		cache:           c,
		sessions:        sessions,
		manager:         manager,
		auth:            auth,
		shutdownTracing: shutdownTracing,
	}, nil
}

// bookmarks constructs the bookmark service. Requires remote configuration.
func (a *app) bookmarks(ctx context.Context) (*service.BookmarkService, error) {
	rc, err := config.NewStaticProvider(a.cfg).GetRemoteConfig(ctx)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, fmt.Errorf("sync backend is not configured; run 'forgetfulme init' and fill in the supabase section")
	}
	rest := supabase.NewRESTClient(rc.URL, rc.AnonKey, supabase.WithRESTMetrics(a.metrics))
	return service.NewBookmarkService(a.auth, rest, a.cache, a.logger), nil
}

// close tears the app down in reverse construction order.
func (a *app) close(ctx context.Context) {
	a.manager.Close()
	a.sessions.Close()
	_ = a.local.Close()
	_ = a.synced.Close()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("trace shutdown failed", "error", err)
		}
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
