// Package persistence opens the configured storage backend and exposes its
// repositories behind the domain interfaces.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/alem-badges/pkg/retry"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and tunes the backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Pool        postgres.PoolOptions

	// Migrate applies pending PostgreSQL migrations. SQLite always migrates.
	Migrate bool

	// Retrier wraps the first PostgreSQL connect. Nil means one attempt.
	Retrier *retry.Retrier

	Logger *slog.Logger
}

// Repositories bundles one backend's repositories.
type Repositories struct {
	Driver     string
	Awards     badge.AwardRepository
	Issued     badge.IssuedRepository
	Badges     badge.BadgeRepository
	Audit      badge.AuditRepository
	Recipients recipient.Store

	// Fold is the SQL case-folding function for directory searches.
	Fold string

	ping  func(context.Context) error
	close func() error
}

// Ping checks the backend connection.
func (r *Repositories) Ping(ctx context.Context) error {
	return r.ping(ctx)
}

// Close releases the backend.
func (r *Repositories) Close() error {
	return r.close()
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (*Repositories, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Driver {
	case DriverPostgres:
		return openPostgres(ctx, opts, logger)
	case DriverSQLite:
		return openSQLite(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", opts.Driver)
	}
}

func openPostgres(ctx context.Context, opts Options, logger *slog.Logger) (*Repositories, error) {
	connect := func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.Connect(ctx, opts.DatabaseURL, opts.Pool)
	}

	var (
		conn *postgres.Connection
		err  error
	)
	if opts.Retrier != nil {
		err = opts.Retrier.Do(ctx, func(ctx context.Context) error {
			conn, err = connect(ctx)
			return err
		})
	} else {
		conn, err = connect(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: connect postgres: %w", err)
	}
	logger.Info("database connection established", "driver", DriverPostgres)

	if opts.Migrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("persistence: migrate: %w", err)
		}
		logger.Info("database schema is up to date")
	}

	return &Repositories{
		Driver:     DriverPostgres,
		Awards:     postgres.NewAwardRepository(conn),
		Issued:     postgres.NewIssuedRepository(conn),
		Badges:     postgres.NewBadgeRepository(conn),
		Audit:      postgres.NewAuditRepository(conn),
		Recipients: postgres.NewRecipientStore(conn),
		Fold:       directory.DefaultFold,
		ping:       conn.Ping,
		close: func() error {
			conn.Close()
			return nil
		},
	}, nil
}

func openSQLite(ctx context.Context, opts Options, logger *slog.Logger) (*Repositories, error) {
	store, err := sqlite.Open(ctx, opts.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	logger.Info("database opened", "driver", DriverSQLite, "path", opts.SQLitePath)

	return &Repositories{
		Driver:     DriverSQLite,
		Awards:     store.Awards(),
		Issued:     store.Issued(),
		Badges:     store.Badges(),
		Audit:      store.Audit(),
		Recipients: store.Recipients(),
		Fold:       sqlite.FoldFunc,
		ping:       store.Ping,
		close:      store.Close,
	}, nil
}
