// Package testutil provides helpers shared by tests of storage engines.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// PostgresURLEnv names the environment variable with the base URL
// of the PostgreSQL server used by tests.
const PostgresURLEnv = "CATALOGUE_TEST_DATABASE_URL"

// Logger returns a logger that writes to the test log.
func Logger(tb testing.TB) *zap.Logger {
	return zaptest.NewLogger(tb, zaptest.Level(zap.DebugLevel))
}

// PostgresAvailable reports whether tests against PostgreSQL should run.
func PostgresAvailable() bool {
	return !testing.Short() && os.Getenv(PostgresURLEnv) != ""
}

// PostgresURL creates a fresh database named after the test and returns
// its URL. The database is dropped after the test unless it failed.
//
// The test is skipped in -short mode or when PostgresURLEnv is not set.
func PostgresURL(tb testing.TB) string {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping in -short mode")
	}

	baseURL := os.Getenv(PostgresURLEnv)
	if baseURL == "" {
		tb.Skipf("%s is not set", PostgresURLEnv)
	}

	ctx := context.Background()

	u, err := url.Parse(baseURL)
	require.NoError(tb, err)

	name := DatabaseName(tb)
	u.Path = name

	p, err := pgxpool.New(ctx, baseURL)
	require.NoError(tb, err)

	q := fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{name}.Sanitize())
	_, err = p.Exec(ctx, q)
	require.NoError(tb, err)

	q = fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
	_, err = p.Exec(ctx, q)
	require.NoError(tb, err)

	tb.Cleanup(func() {
		defer p.Close()

		if tb.Failed() {
			tb.Logf("Keeping database %s (%s) for debugging.", name, u.Redacted())
			return
		}

		q := fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", pgx.Identifier{name}.Sanitize())
		_, err := p.Exec(context.Background(), q)
		require.NoError(tb, err)
	})

	return u.String()
}

// DatabaseName returns a database name unique to the test and its package,
// as packages are tested in parallel.
func DatabaseName(tb testing.TB) string {
	tb.Helper()

	wd, err := os.Getwd()
	require.NoError(tb, err)

	name := strings.ToLower("catalogue_" + filepath.Base(wd) + "_" + tb.Name())
	name = strings.NewReplacer("/", "_", " ", "_", "-", "_", "#", "_").Replace(name)

	// PostgreSQL truncates identifiers longer than 63 bytes
	require.Less(tb, len(name), 64, "database name %q is too long", name)

	return name
}
