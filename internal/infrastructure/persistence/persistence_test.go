package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/persistence/sqlite"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	repos, err := Open(ctx, Options{Driver: DriverSQLite, SQLitePath: sqlite.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	assert.Equal(t, DriverSQLite, repos.Driver)
	assert.Equal(t, sqlite.FoldFunc, repos.Fold)
	require.NoError(t, repos.Ping(ctx))

	b := &badge.Badge{Name: "Mentor", ContextID: 5}
	require.NoError(t, repos.Badges.Create(ctx, b))

	got, err := repos.Badges.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ContextID(5), got.ContextID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestOpen_PostgresBadURL(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: DriverPostgres, DatabaseURL: "://nope"})
	require.Error(t, err)
}
