package domain

import "context"

// StorageMode selects the storage engine for the lifetime of a process.
type StorageMode string

const (
	ModeMemory   StorageMode = "memory"
	ModeSQLite   StorageMode = "sqlite"
	ModePostgres StorageMode = "postgres"
)

// Engine is a storage engine behind the repository facade.
// Each implementation (memory, SQLite, PostgreSQL) owns its own
// migration strategy, ensuring the entire backend is swappable.
type Engine interface {
	Mode() StorageMode
	// Begin starts a request-scoped unit of work. Read-only sessions
	// must not be used for writes.
	Begin(ctx context.Context, writable bool) (Session, error)
	// Ping performs a trivial round-trip against the engine.
	Ping(ctx context.Context) error
	Migrator() Migrator
	Close() error
}

// Session is a unit of work owned by a single request.
// Exactly one of Commit or Rollback must be called; both release
// the underlying connection or lock.
type Session interface {
	Store
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Migrator applies and reverts schema revisions.
type Migrator interface {
	// CurrentRevision returns the newest applied revision, or "" if none.
	CurrentRevision(ctx context.Context) (string, error)
	// Upgrade applies unapplied revisions up to target ("" means latest)
	// and returns the ids it applied.
	Upgrade(ctx context.Context, target string) ([]string, error)
	// Downgrade reverts the newest steps revisions and returns their ids.
	Downgrade(ctx context.Context, steps int) ([]string, error)
}
