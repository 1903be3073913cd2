// Package main is the entry point of the badge admin API.
//
// The server owns the award ledger and recipient search. With Redis it also
// serves staged selections and publishes badge events for cmd/worker; without
// Redis events stay in process and the audit log is written here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/alem-badges/config"
	"github.com/alem-hub/alem-badges/internal/application/command"
	"github.com/alem-hub/alem-badges/internal/application/eventhandler"
	"github.com/alem-hub/alem-badges/internal/application/query"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/alem-badges/internal/interface/http"
	"github.com/alem-hub/alem-badges/internal/interface/http/handlers"
	"github.com/alem-hub/alem-badges/pkg/circuitbreaker"
	"github.com/alem-hub/alem-badges/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting badge server",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.Storage.Driver,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing storage...")
		_ = repos.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	cache := connectRedis(cfg, log)
	if cache != nil {
		defer cache.Close()
	}

	var selection recipient.SelectionStore
	if cache != nil && cfg.SelectionEnabled() {
		breaker := circuitbreaker.RedisBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		})
		selection = redis.NewSelectionStore(cache, cfg.Redis.SelectionTTL, breaker)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, closeBus, err := newEventBus(cfg, cache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	// With Redis the worker owns the audit log.
	var dispatcher *messaging.Dispatcher
	if cfg.Features.AuditLog && cache == nil {
		dispatcher = messaging.NewDispatcher(messaging.DispatcherConfig{
			EventBus: bus,
			Retrier: retry.HandlerRetrier(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying event handler", "attempt", attempt, "error", err, "delay", delay)
			}),
			Logger: log,
		})
		if err := registerAudit(dispatcher, repos, log); err != nil {
			return err
		}
		if err := dispatcher.Start(); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
		defer func() { _ = dispatcher.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	dir := directory.New()
	dir.Fold = repos.Fold
	dir.IncludeSuspended = cfg.Badges.IncludeSuspended

	deps := httpserver.Dependencies{
		AwardBadge:     command.NewAwardBadgeHandler(repos.Awards, bus, log),
		RevokeBadge:    command.NewRevokeBadgeHandler(repos.Awards, repos.Issued, repos.Badges, bus, log),
		FindRecipients: query.NewFindRecipientsHandler(repos.Recipients, dir.Providers(cfg.Badges.EarnCapability), repos.Badges, cfg.Badges.MaxRecipients, log),
		ListUserBadges: query.NewListUserBadgesHandler(repos.Issued),
		Audit:          repos.Audit,
		Selection:      selection,
		HealthChecker:  newHealthChecker(cfg, repos, cache),
		Logger:         log,
		Version:        cfg.App.Version,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
		EnableCORS:         cfg.HTTP.EnableCORS,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		APIKeyHeader:       cfg.HTTP.APIKeyHeader,
		APIKeys:            cfg.HTTP.APIKeys,
		MaxAwardBatch:      cfg.Badges.MaxRecipients,
	}
	server := httpserver.NewServer(httpCfg, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("badge server is running",
		"http_address", server.Address(),
		"redis", cache != nil,
		"selection", selection != nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*persistence.Repositories, error) {
	pool := postgres.DefaultPoolOptions()
	pool.MaxConns = int32(cfg.Database.MaxOpenConns)
	pool.MinConns = int32(cfg.Database.MaxIdleConns)
	pool.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pool.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	repos, err := persistence.Open(ctx, persistence.Options{
		Driver:      cfg.Storage.Driver,
		DatabaseURL: cfg.Database.URL,
		SQLitePath:  cfg.SQLite.Path,
		Pool:        pool,
		Migrate:     cfg.Storage.MigrateOnStart,
		Retrier: retry.New(
			retry.WithMaxAttempts(cfg.Database.ConnectAttempts),
			retry.WithInitialDelay(500*time.Millisecond),
			retry.WithMaxDelay(10*time.Second),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("database not reachable, retrying", "attempt", attempt, "error", err, "delay", delay)
			}),
		),
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return repos, nil
}

// connectRedis returns nil when Redis is disabled or unreachable.
func connectRedis(cfg *config.Config, log *slog.Logger) *redis.Cache {
	if cfg.Redis.Disabled {
		log.Info("redis disabled, running without staged selections")
		return nil
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		log.Warn("failed to connect to Redis, continuing without it", "error", err)
		return nil
	}
	log.Info("redis connection established", "addr", redisCfg.Addr())
	return cache
}

func newEventBus(cfg *config.Config, cache *redis.Cache, log *slog.Logger) (shared.EventBus, func() error, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = true
	local.Logger = log

	if cache == nil {
		bus := messaging.NewInMemoryEventBus(local)
		return bus, bus.Close, nil
	}

	pubsub := redis.NewPubSub(cache)
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         pubsub,
		ChannelName:    cfg.Redis.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}
	return bus, func() error {
		return errors.Join(bus.Close(), pubsub.Close())
	}, nil
}

func registerAudit(d *messaging.Dispatcher, repos *persistence.Repositories, log *slog.Logger) error {
	audit := eventhandler.NewOnBadgeEventHandler(repos.Audit, log)
	d.Use(messaging.RecoveryMiddleware(log))
	d.Use(messaging.LoggingMiddleware(log))
	for _, et := range audit.EventTypes() {
		if err := d.Register(et, "audit_log", audit.Handle); err != nil {
			return fmt.Errorf("failed to register audit handler: %w", err)
		}
	}
	return nil
}

func newHealthChecker(cfg *config.Config, repos *persistence.Repositories, cache *redis.Cache) handlers.HealthChecker {
	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck("database", handlers.NewPingCheck(repos))
	if cache != nil {
		checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}
	return checker
}

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

func parseLevel(level string) slog.Level {
	switch level {
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
