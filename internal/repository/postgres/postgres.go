// Package postgres provides the network-database storage engine.
//
// It keeps a bounded pgx connection pool. Each session holds one pooled
// connection for its lifetime; connections are probed before they are
// handed out, and a bounded wait for a free connection ends with
// domain.ErrPoolExhausted.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	zapadapter "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/migrations"
)

// probeTimeout bounds the liveness check of a connection before it is handed out.
const probeTimeout = time.Second

// NewOpts represents options for New.
type NewOpts struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
	Echo              bool
	L                 *zap.Logger
}

// DB is the PostgreSQL storage engine.
type DB struct {
	pool           *pgxpool.Pool
	migrator       *migrations.Manager
	acquireTimeout time.Duration
	l              *zap.Logger
}

// New creates a connection pool and checks connectivity.
//
// Passed context is used only by the first checking connection.
func New(ctx context.Context, opts *NewOpts) (*DB, error) {
	config, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse PostgreSQL URL: %w", domain.ErrConfiguration, err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	config.MinConns = opts.MinConns

	if opts.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = opts.HealthCheckPeriod
	}

	// stale connections are destroyed instead of being handed out
	config.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		if err := conn.Ping(ctx); err != nil {
			opts.L.Warn("Discarding stale connection.", zap.Error(err))
			return false
		}

		return true
	}

	config.ConnConfig.RuntimeParams["timezone"] = "UTC"
	config.ConnConfig.RuntimeParams["application_name"] = "movie-catalogue"

	level := tracelog.LogLevelWarn
	if opts.Echo {
		level = tracelog.LogLevelDebug
	}

	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zapadapter.NewLogger(opts.L.Named("pgx")),
		LogLevel: level,
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", convertErr(err, ""))
	}

	db := &DB{
		pool:           pool,
		acquireTimeout: opts.AcquireTimeout,
		l:              opts.L,
	}

	if err = db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if db.migrator, err = migrations.NewManager(db, opts.L.Named("migrations")); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

// Mode implements domain.Engine.
func (db *DB) Mode() domain.StorageMode {
	return domain.ModePostgres
}

// Begin implements domain.Engine.
func (db *DB) Begin(ctx context.Context, writable bool) (domain.Session, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		return nil, err
	}

	opts := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if !writable {
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin transaction: %w", convertErr(err, ""))
	}

	return &session{
		conn:     conn,
		tx:       tx,
		writable: writable,
	}, nil
}

// acquire waits up to the acquire timeout for a free connection.
func (db *DB) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if db.acquireTimeout <= 0 {
		if db.exhausted() {
			return nil, domain.ErrPoolExhausted
		}

		conn, err := db.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", convertErr(err, ""))
		}

		return conn, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()

	conn, err := db.pool.Acquire(acquireCtx)
	if err == nil {
		return conn, nil
	}

	// the bounded wait ran out, not the caller
	if ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no connection within %s", domain.ErrPoolExhausted, db.acquireTimeout)
	}

	return nil, fmt.Errorf("acquire connection: %w", convertErr(err, ""))
}

// exhausted reports whether every connection the pool may open is in use.
func (db *DB) exhausted() bool {
	stat := db.pool.Stat()
	return stat.AcquiredConns() >= stat.MaxConns()
}

// Ping implements domain.Engine.
func (db *DB) Ping(ctx context.Context) error {
	conn, err := db.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return convertErr(err, "")
	}

	return nil
}

// Migrator implements domain.Engine.
func (db *DB) Migrator() domain.Migrator {
	return db.migrator
}

// Close implements domain.Engine.
// It waits for acquired connections to be released.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Dialect implements migrations.Target.
func (db *DB) Dialect() migrations.Dialect {
	return migrations.Postgres
}

// EnsureHistory implements migrations.Target.
func (db *DB) EnsureHistory(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			revision TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return convertErr(err, "")
}

// AppliedRevisions implements migrations.Target.
func (db *DB) AppliedRevisions(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, "SELECT revision FROM schema_migrations ORDER BY revision")
	if err != nil {
		return nil, convertErr(err, "")
	}

	res, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, convertErr(err, "")
	}

	return res, nil
}

// ApplyRevision implements migrations.Target.
func (db *DB) ApplyRevision(ctx context.Context, id, script string, up bool) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		// without arguments the script runs over the simple protocol,
		// which allows several statements
		if _, err := tx.Exec(ctx, script); err != nil {
			return fmt.Errorf("execute sql: %w", err)
		}

		record := "INSERT INTO schema_migrations (revision) VALUES ($1)"
		if !up {
			record = "DELETE FROM schema_migrations WHERE revision = $1"
		}

		if _, err := tx.Exec(ctx, record, id); err != nil {
			return fmt.Errorf("record revision: %w", err)
		}

		return nil
	})
}

// check interfaces
var (
	_ domain.Engine     = (*DB)(nil)
	_ migrations.Target = (*DB)(nil)
)
