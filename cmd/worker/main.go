// Package main is the entry point of the badge event worker.
//
// The worker subscribes to the Redis event channel that cmd/server publishes
// to and writes every badge awarded and revoked event to the audit log.
// Events whose handler keeps failing end up in the dead letter queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alem-hub/alem-badges/config"
	"github.com/alem-hub/alem-badges/internal/application/eventhandler"
	"github.com/alem-hub/alem-badges/internal/infrastructure/messaging"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/alem-badges/internal/infrastructure/scheduler"
	"github.com/alem-hub/alem-badges/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/alem-badges/internal/interface/http/handlers"
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
	if cfg.Redis.Disabled {
		return errors.New("worker needs Redis: REDIS_DISABLED must be false")
	}

	log := setupLogger(cfg)
	log.Info("starting badge worker", "env", cfg.App.Environment, "channel", cfg.Redis.Channel)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	pool := postgres.DefaultPoolOptions()
	pool.MaxConns = int32(cfg.Database.MaxOpenConns)

	repos, err := persistence.Open(ctx, persistence.Options{
		Driver:      cfg.Storage.Driver,
		DatabaseURL: cfg.Database.URL,
		SQLitePath:  cfg.SQLite.Path,
		Pool:        pool,
		Migrate:     cfg.Storage.MigrateOnStart,
		Retrier: retry.DatabaseRetrier(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not reachable, retrying", "attempt", attempt, "error", err, "delay", delay)
		}),
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		log.Info("closing storage...")
		_ = repos.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS SUBSCRIPTION
	// ─────────────────────────────────────────────────────────────────────────
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.DialTimeout = cfg.Redis.DialTimeout

	var cache *redis.Cache
	err = retry.RedisRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis not reachable, retrying", "attempt", attempt, "error", err, "delay", delay)
	}).Do(ctx, func(context.Context) error {
		var err error
		cache, err = redis.NewCache(redisCfg)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cache.Close()

	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = false
	local.Logger = log

	pubsub := redis.NewPubSub(cache)
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         pubsub,
		ChannelName:    cfg.Redis.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
		_ = pubsub.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus: bus,
		Retrier: retry.HandlerRetrier(func(attempt int, err error, delay time.Duration) {
			log.Warn("audit write failed, retrying", "attempt", attempt, "error", err, "delay", delay)
		}),
		DeadLetterQueueSize: cfg.Worker.DeadLetterQueueSize,
		Logger:              log,
	})
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))

	if cfg.Features.AuditLog {
		audit := eventhandler.NewOnBadgeEventHandler(repos.Audit, log)
		for _, et := range audit.EventTypes() {
			if err := dispatcher.Register(et, "audit_log", audit.Handle); err != nil {
				return fmt.Errorf("failed to register audit handler: %w", err)
			}
		}
	} else {
		log.Warn("audit log disabled, events are received but not stored")
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULED JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log})
	if cfg.Worker.RedeliverInterval > 0 && dispatcher.DeadLetterQueue() != nil {
		job := jobs.NewRedeliverDeadLettersJob(dispatcher, cfg.Worker.RedeliverBatch, log)
		if err := sched.Register(job, scheduler.Every(cfg.Worker.RedeliverInterval)); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HEALTH ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck("database", handlers.NewPingCheck(repos))
	checker.AddCheck("redis", handlers.NewPingCheck(cache))
	checker.AddOptionalCheck("dead_letters", func(context.Context) error {
		if dlq := dispatcher.DeadLetterQueue(); dlq != nil && dlq.Size() > 0 {
			return fmt.Errorf("%d events in dead letter queue", dlq.Size())
		}
		return nil
	})

	var healthServer *http.Server
	if cfg.Worker.HealthPort > 0 {
		healthServer = newHealthServer(cfg.Worker.HealthPort, checker, func() workerStats {
			stats := workerStats{
				Bus:  bus.Metrics().Snapshot(),
				Jobs: sched.ListJobs(),
			}
			if dlq := dispatcher.DeadLetterQueue(); dlq != nil {
				stats.DeadLetters = dlq.Size()
			}
			return stats
		})
		go func() {
			if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("health server error", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("badge worker is running", "instance_id", bus.InstanceID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	_ = sched.Stop()
	_ = dispatcher.Stop()
	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop health server", "error", err)
		}
	}

	if dlq := dispatcher.DeadLetterQueue(); dlq != nil && dlq.Size() > 0 {
		for _, entry := range dlq.Entries() {
			log.Error("undelivered badge event",
				"event_type", entry.Event.EventType(),
				"aggregate_id", entry.Event.AggregateID(),
				"handler", entry.HandlerName,
				"attempts", entry.Attempts,
				"error", entry.Error,
			)
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// workerStats is served on /stats.
type workerStats struct {
	Bus         messaging.EventBusMetricsSnapshot `json:"event_bus"`
	DeadLetters int                               `json:"dead_letters"`
	Jobs        []scheduler.JobInfo               `json:"jobs"`
}

func newHealthServer(port int, checker handlers.HealthChecker, stats func() workerStats) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())
		code := http.StatusOK
		if !status.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, stats())
	})

	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name+"-worker")
	slog.SetDefault(log)
	return log
}
