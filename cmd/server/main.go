package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/feedmap/internal/config"
	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/logging"
	"github.com/JonMunkholm/feedmap/internal/store"
	"github.com/JonMunkholm/feedmap/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", storeKind(cfg),
		"schedule_max_concurrent", cfg.Schedule.MaxConcurrent,
		"schedule_timezone", cfg.Schedule.Timezone,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	configStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open config store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	loc, err := cfg.Schedule.Location()
	if err != nil {
		slog.Error("invalid schedule timezone", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(configStore, serviceConfig(cfg, loc))
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		slog.Error("failed to start schedule runner", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop timers and cancel in-flight runs; their snapshots are untouched
		if err := service.Stop(shutdownCtx); err != nil {
			slog.Warn("runs did not stop in time", "error", err)
		}

		limiterStatus := service.Runner().Limiter().Status()
		if limiterStatus.Active > 0 {
			slog.Info("waiting for runs to release workers", "active", limiterStatus.Active)
			if err := service.Runner().Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("workers did not drain in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (core.ConfigStore, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("DATABASE_URL not set, groups and channels are kept in memory")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

func storeKind(cfg *config.Config) string {
	if cfg.Database.URL == "" {
		return "memory"
	}
	return "postgres"
}

// serviceConfig translates application config into pipeline settings.
func serviceConfig(cfg *config.Config, loc *time.Location) core.ServiceConfig {
	retries := cfg.Fetch.MaxRetries
	if retries == 0 {
		// FetcherConfig treats zero as "use the default"
		retries = -1
	}

	return core.ServiceConfig{
		HTTPClient: &http.Client{},
		Fetch: core.FetcherConfig{
			Timeout:     cfg.Fetch.Timeout,
			MaxRetries:  retries,
			BackoffBase: cfg.Fetch.BackoffBase,
			BackoffMax:  cfg.Fetch.BackoffMax,
			MaxBodySize: cfg.Fetch.MaxBodySize,
			UserAgent:   cfg.Fetch.UserAgent,
		},
		Schedule: core.RunnerConfig{
			Location:   loc,
			RunOnStart: cfg.Schedule.RunOnStart,
		},
		MaxConcurrentRuns: cfg.Schedule.MaxConcurrent,
		RunMaxWait:        cfg.Schedule.MaxWaitTime,
		ExportCacheSize:   cfg.Export.CacheSize,
		PreviewLimit:      cfg.Export.PreviewLimit,
	}
}
