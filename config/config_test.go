package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "APP_NAME", "APP_DEBUG", "APP_VERSION", "APP_SHUTDOWN_TIMEOUT",
		"STORAGE_DRIVER", "STORAGE_MIGRATE", "SQLITE_PATH",
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"REDIS_HOST", "REDIS_PORT", "REDIS_DISABLED", "REDIS_SELECTION_TTL", "REDIS_EVENT_CHANNEL",
		"HTTP_PORT", "HTTP_API_KEYS", "HTTP_RATE_LIMIT", "HTTP_ALLOWED_ORIGINS",
		"BADGES_EARN_CAPABILITY", "BADGES_MAX_RECIPIENTS",
		"FEATURE_SELECTION", "FEATURE_AUDIT_LOG",
		"WORKER_HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_SQLiteDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "SQLite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "alem-badges.db", cfg.SQLite.Path)
	assert.Equal(t, "moodle/badges:earnbadge", cfg.Badges.EarnCapability)
	assert.Equal(t, 100, cfg.Badges.MaxRecipients)
	assert.Equal(t, 30*time.Minute, cfg.Redis.SelectionTTL)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.SelectionEnabled())
}

func TestLoad_PostgresFromComponents(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "badges")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "lms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://badges:pw@db.internal:5432/lms?sslmode=require", cfg.Database.URL)
}

func TestLoad_ParsesLists(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("HTTP_API_KEYS", " k1, ,k2 ")
	t.Setenv("REDIS_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.False(t, cfg.SelectionEnabled())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "mysql")
	t.Setenv("BADGES_MAX_RECIPIENTS", "0")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("HTTP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "STORAGE_DRIVER")
	assert.Contains(t, msg, "BADGES_MAX_RECIPIENTS")
	assert.Contains(t, msg, "LOG_LEVEL")
	assert.Contains(t, msg, "HTTP_PORT")
}

func TestValidate_ProductionRules(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_API_KEYS")
	assert.Contains(t, err.Error(), ":memory:")
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")

	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
}
