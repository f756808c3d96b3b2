// Package repository is the single persistence facade of the service.
//
// Resolve selects the storage engine once, from settings, and every caller
// reaches storage through Update and View afterwards. Nothing outside this
// package switches on the storage mode.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/config"
	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/repository/memory"
	"github.com/msomdec/movie-catalogue/internal/repository/postgres"
	"github.com/msomdec/movie-catalogue/internal/repository/sqlite"
)

// errNotCompleted is returned when a unit of work exits without returning,
// for example through runtime.Goexit.
var errNotCompleted = errors.New("unit of work was not completed")

// Repository provides scoped access to the resolved storage engine.
type Repository struct {
	engine domain.Engine
	l      *zap.Logger

	inFlight   atomic.Int64
	committed  atomic.Int64
	rolledBack atomic.Int64
	retries    atomic.Int64
}

// Resolve creates the storage engine selected by s and applies pending
// schema revisions if s.AutoMigrate is set.
//
// reg may be nil; otherwise session and engine metrics are registered there.
func Resolve(ctx context.Context, s *config.Settings, l *zap.Logger, reg prometheus.Registerer) (*Repository, error) {
	var engine domain.Engine
	var err error

	switch s.Mode {
	case domain.ModeMemory:
		engine = memory.New()

	case domain.ModeSQLite:
		engine, err = sqlite.New(ctx, &sqlite.NewOpts{
			Path:        s.SQLite.Path,
			BusyTimeout: s.SQLite.BusyTimeout,
			MaxConns:    s.SQLite.MaxConns,
			Echo:        s.Echo,
			L:           l.Named("sqlite"),
		})

	case domain.ModePostgres:
		engine, err = postgres.New(ctx, &postgres.NewOpts{
			URL:               s.Postgres.URL,
			MaxConns:          s.Postgres.MaxConns,
			MinConns:          s.Postgres.MinConns,
			AcquireTimeout:    s.Postgres.AcquireTimeout,
			HealthCheckPeriod: s.Postgres.HealthCheckPeriod,
			Echo:              s.Echo,
			L:                 l.Named("postgres"),
		})

	default:
		return nil, fmt.Errorf("%w: unknown storage mode %q", domain.ErrConfiguration, s.Mode)
	}

	if err != nil {
		return nil, fmt.Errorf("open %s engine: %w", s.Mode, err)
	}

	r := New(engine, l)

	if reg != nil {
		collectors := []prometheus.Collector{r}
		if c, ok := engine.(prometheus.Collector); ok {
			collectors = append(collectors, c)
		}

		for _, c := range collectors {
			if err = reg.Register(c); err != nil {
				_ = engine.Close()
				return nil, fmt.Errorf("register metrics: %w", err)
			}
		}
	}

	if s.AutoMigrate {
		applied, err := engine.Migrator().Upgrade(ctx, "")
		if err != nil {
			_ = engine.Close()
			return nil, err
		}

		if len(applied) > 0 {
			l.Info("Schema upgraded.", zap.Strings("revisions", applied))
		}
	}

	l.Info("Storage resolved.", zap.String("mode", string(s.Mode)), zap.String("url", s.RedactedURL()))

	return r, nil
}

// New wraps an already opened engine.
func New(engine domain.Engine, l *zap.Logger) *Repository {
	return &Repository{
		engine: engine,
		l:      l,
	}
}

// Update runs fn in a writable unit of work.
//
// The unit of work is committed if fn returns nil and rolled back if fn
// returns an error or panics. The session is released on every path,
// including cancellation of ctx.
func (r *Repository) Update(ctx context.Context, fn func(domain.Store) error) error {
	return r.run(ctx, true, fn)
}

// View runs fn in a read-only unit of work. It is always rolled back.
func (r *Repository) View(ctx context.Context, fn func(domain.Store) error) error {
	return r.run(ctx, false, fn)
}

func (r *Repository) run(ctx context.Context, writable bool, fn func(domain.Store) error) (err error) {
	s, err := r.begin(ctx, writable)
	if err != nil {
		return err
	}

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	// finishing must not be skipped because the request went away
	finishCtx := context.WithoutCancel(ctx)

	var done bool
	defer func() {
		if done {
			return
		}

		if err == nil {
			err = errNotCompleted
		}

		r.rollback(finishCtx, s)
	}()

	err = fn(&checkedStore{s: s})

	if err == nil {
		err = ctx.Err()
	}

	if err != nil || !writable {
		done = true
		r.rollback(finishCtx, s)
		return err
	}

	done = true

	if err = s.Commit(finishCtx); err != nil {
		r.rolledBack.Add(1)
		return err
	}

	r.committed.Add(1)

	return nil
}

// begin opens a session, retrying once if the connection was lost.
func (r *Repository) begin(ctx context.Context, writable bool) (domain.Session, error) {
	s, err := r.engine.Begin(ctx, writable)
	if err == nil || !errors.Is(err, domain.ErrConnectionLost) || ctx.Err() != nil {
		return s, err
	}

	r.retries.Add(1)
	r.l.Warn("Connection lost, retrying once.", zap.Error(err))

	return r.engine.Begin(ctx, writable)
}

func (r *Repository) rollback(ctx context.Context, s domain.Session) {
	r.rolledBack.Add(1)

	if err := s.Rollback(ctx); err != nil {
		r.l.Warn("Rollback failed.", zap.Error(err))
	}
}

// InFlight returns the number of open sessions.
func (r *Repository) InFlight() int64 {
	return r.inFlight.Load()
}

// Mode returns the resolved storage mode.
func (r *Repository) Mode() domain.StorageMode {
	return r.engine.Mode()
}

// Ping performs a trivial round-trip against the storage engine.
func (r *Repository) Ping(ctx context.Context) error {
	return r.engine.Ping(ctx)
}

// Migrator returns the schema migrator of the storage engine.
func (r *Repository) Migrator() domain.Migrator {
	return r.engine.Migrator()
}

// Close closes the storage engine.
func (r *Repository) Close() error {
	return r.engine.Close()
}
