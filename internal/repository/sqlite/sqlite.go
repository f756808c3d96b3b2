// Package sqlite provides the embedded-file storage engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/migrations"
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

// NewOpts represents options for New.
type NewOpts struct {
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
	Echo        bool
	L           *zap.Logger
}

// DB is the SQLite storage engine.
type DB struct {
	sqlDB    *sql.DB
	migrator *migrations.Manager
	echo     bool
	l        *zap.Logger
}

// New opens the SQLite database at opts.Path, creating the file and its
// directory if needed, and configures it for use.
// It enables WAL mode, foreign keys and the busy timeout on every connection.
func New(ctx context.Context, opts *NewOpts) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: empty SQLite path", domain.ErrConfiguration)
	}

	memory := opts.Path == MemoryPath

	if !memory {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(opts.Path, opts.BusyTimeout, memory))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	// every connection to :memory: is a separate database
	if memory || opts.MaxConns <= 1 {
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(opts.MaxConns)
		sqlDB.SetMaxOpenConns(opts.MaxConns)
	}

	db := &DB{
		sqlDB: sqlDB,
		echo:  opts.Echo,
		l:     opts.L,
	}

	if err := db.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if db.migrator, err = migrations.NewManager(db, opts.L.Named("migrations")); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// dsn returns the modernc.org/sqlite URI for the given path.
func dsn(path string, busyTimeout time.Duration, memory bool) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))

	if !memory {
		q.Add("_pragma", "journal_mode(wal)")
	}

	q.Set("_time_format", "sqlite")

	return "file:" + path + "?" + q.Encode()
}

// Mode implements domain.Engine.
func (db *DB) Mode() domain.StorageMode {
	return domain.ModeSQLite
}

// Begin implements domain.Engine.
//
// The session owns one connection until it is finished. Writable sessions
// take the database write lock up front, so concurrent writers wait for
// the busy timeout and then fail with domain.ErrLocked.
func (db *DB) Begin(ctx context.Context, writable bool) (domain.Session, error) {
	conn, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return nil, convertErr(err, "")
	}

	s := &session{
		conn:     conn,
		writable: writable,
		echo:     db.echo,
		l:        db.l,
	}

	begin := "BEGIN"
	if writable {
		begin = "BEGIN IMMEDIATE"
	}

	if err = s.exec(ctx, begin); err != nil {
		_ = conn.Close()
		return nil, convertErr(err, "")
	}

	if writable {
		if err = s.exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, errors.Join(convertErr(err, ""), s.Rollback(context.WithoutCancel(ctx)))
		}
	}

	return s, nil
}

// Ping implements domain.Engine.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return convertErr(err, "")
	}

	return nil
}

// Migrator implements domain.Engine.
func (db *DB) Migrator() domain.Migrator {
	return db.migrator
}

// Close implements domain.Engine.
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// Dialect implements migrations.Target.
func (db *DB) Dialect() migrations.Dialect {
	return migrations.SQLite
}

// EnsureHistory implements migrations.Target.
func (db *DB) EnsureHistory(ctx context.Context) error {
	_, err := db.sqlDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			revision TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return convertErr(err, "")
}

// AppliedRevisions implements migrations.Target.
func (db *DB) AppliedRevisions(ctx context.Context) ([]string, error) {
	rows, err := db.sqlDB.QueryContext(ctx, "SELECT revision FROM schema_migrations ORDER BY revision")
	if err != nil {
		return nil, convertErr(err, "")
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}

	return res, rows.Err()
}

// ApplyRevision implements migrations.Target.
func (db *DB) ApplyRevision(ctx context.Context, id, script string, up bool) (err error) {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", convertErr(err, ""))
	}

	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute sql: %w", err)
	}

	record := "INSERT INTO schema_migrations (revision) VALUES (?)"
	if !up {
		record = "DELETE FROM schema_migrations WHERE revision = ?"
	}

	if _, err = tx.ExecContext(ctx, record, id); err != nil {
		return fmt.Errorf("record revision: %w", err)
	}

	return tx.Commit()
}

// check interfaces
var (
	_ domain.Engine     = (*DB)(nil)
	_ migrations.Target = (*DB)(nil)
)
