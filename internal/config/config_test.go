package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msomdec/movie-catalogue/internal/config"
	"github.com/msomdec/movie-catalogue/internal/domain"
)

// clearEnv blanks every variable Load may consult so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CATALOGUE_ENV", "CATALOGUE_STORAGE_MODE", "CATALOGUE_SQLITE_PATH",
		"CATALOGUE_DATABASE_URL", "DATABASE_URL",
		"CATALOGUE_POSTGRES_HOST", "POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
		"CATALOGUE_POOL_MAX_CONNS", "CATALOGUE_POOL_MIN_CONNS", "CATALOGUE_POOL_ACQUIRE_TIMEOUT",
		"CATALOGUE_AUTH_SECRET", "CATALOGUE_LOG_LEVEL", "CATALOGUE_CACHE_TTL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ModeMemory, s.Mode)
	assert.Equal(t, "development", s.Env)
	assert.Equal(t, filepath.Join("data", "catalogue-development.db"), s.SQLite.Path)
	assert.Equal(t, int32(10), s.Postgres.MaxConns)
	assert.Equal(t, 3*time.Second, s.Postgres.AcquireTimeout)
	assert.Equal(t, ":8080", s.HTTP.Addr)
	assert.True(t, s.AutoMigrate)
	assert.Equal(t, "memory://", s.EffectiveURL())
}

func TestLoad_SQLiteDefaultsPerEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOGUE_STORAGE_MODE", "embedded-file")
	t.Setenv("CATALOGUE_ENV", "test")

	s, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ModeSQLite, s.Mode)
	assert.Equal(t, "file:"+filepath.Join("data", "catalogue-test.db"), s.EffectiveURL())
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOGUE_STORAGE_MODE", "postgres")

	_, err := config.Load("")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoad_PostgresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOGUE_STORAGE_MODE", "network-database")
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/movies")

	s, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ModePostgres, s.Mode)
	assert.Equal(t, "postgres://app:secret@db:5432/movies", s.EffectiveURL())
	assert.NotContains(t, s.RedactedURL(), "secret")
}

func TestLoad_PostgresURLFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOGUE_STORAGE_MODE", "postgresql")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "app")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "movies")

	s, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:pw@db:5432/movies?sslmode=disable", s.Postgres.URL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"unknown mode":    {"CATALOGUE_STORAGE_MODE", "redis"},
		"bad pool size":   {"CATALOGUE_POOL_MAX_CONNS", "zero"},
		"bad duration":    {"CATALOGUE_POOL_ACQUIRE_TIMEOUT", "soon"},
		"short secret":    {"CATALOGUE_AUTH_SECRET", "too-short"},
		"negative cache":  {"CATALOGUE_CACHE_TTL", "-1s"},
		"min exceeds max": {"CATALOGUE_POOL_MIN_CONNS", "50"},
	}

	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])

			_, err := config.Load("")
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestLoad_Idempotent(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOGUE_STORAGE_MODE", "sqlite")

	a, err := config.Load("")
	require.NoError(t, err)
	b, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotSame(t, a, b)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "catalogue.env")
	require.NoError(t, os.WriteFile(file, []byte("STORAGE_MODE=sqlite\nSQLITE_PATH=/tmp/x.db\nLOG_LEVEL=debug\n"), 0o600))

	s, err := config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSQLite, s.Mode)
	assert.Equal(t, "/tmp/x.db", s.SQLite.Path)
	assert.Equal(t, "debug", s.Log.Level)

	t.Setenv("CATALOGUE_LOG_LEVEL", "warn")
	s, err = config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.Log.Level, "environment overrides the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]domain.StorageMode{
		"":                 domain.ModeMemory,
		"MEMORY":           domain.ModeMemory,
		"file":             domain.ModeSQLite,
		"network-database": domain.ModePostgres,
	} {
		got, err := config.ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
