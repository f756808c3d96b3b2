package migrations

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

var (
	// ErrDrift is returned when the applied revisions are not a prefix
	// of the canonical revision order.
	ErrDrift = errors.New("applied revisions diverge from canonical order")

	// ErrUnknownRevision is returned for a target that is not a known revision.
	ErrUnknownRevision = errors.New("unknown revision")
)

// Target is a SQL engine the runner can migrate.
type Target interface {
	Dialect() Dialect
	// EnsureHistory creates the schema_migrations table if it is missing.
	EnsureHistory(ctx context.Context) error
	// AppliedRevisions returns applied revision ids in ascending order.
	AppliedRevisions(ctx context.Context) ([]string, error)
	// ApplyRevision runs script and records (up) or erases (down) the
	// revision in the history table, all in one transaction.
	ApplyRevision(ctx context.Context, id, script string, up bool) error
}

// RevisionStatus reports whether a canonical revision is applied.
type RevisionStatus struct {
	ID      string
	Applied bool
}

// Manager applies revisions to a Target in canonical order.
type Manager struct {
	target    Target
	revisions []Revision
	l         *zap.Logger
}

// NewManager creates a Manager for the target's dialect.
func NewManager(t Target, l *zap.Logger) (*Manager, error) {
	revs, err := Load(t.Dialect())
	if err != nil {
		return nil, fmt.Errorf("load revisions: %w", err)
	}

	return &Manager{
		target:    t,
		revisions: revs,
		l:         l,
	}, nil
}

// Revisions returns the canonical revisions.
func (m *Manager) Revisions() []Revision {
	return slices.Clone(m.revisions)
}

// CurrentRevision implements domain.Migrator.
func (m *Manager) CurrentRevision(ctx context.Context) (string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}
	return applied[len(applied)-1], nil
}

// Status returns every canonical revision with its applied flag.
func (m *Manager) Status(ctx context.Context) ([]RevisionStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]RevisionStatus, len(m.revisions))
	for i, rev := range m.revisions {
		res[i] = RevisionStatus{ID: rev.ID, Applied: i < len(applied)}
	}
	return res, nil
}

// Upgrade implements domain.Migrator.
//
// Revisions are applied one at a time in strict order. A failing revision
// is rolled back as a whole and reported as *domain.MigrationError; earlier
// revisions of the same run stay applied. Cancellation is only observed
// between revisions.
func (m *Manager) Upgrade(ctx context.Context, target string) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	end := len(m.revisions)
	if target != "" {
		i := m.index(target)
		if i < 0 {
			return nil, &domain.MigrationError{Revision: target, Err: ErrUnknownRevision}
		}
		if i+1 < len(applied) {
			return nil, &domain.MigrationError{
				Revision: target,
				Err:      fmt.Errorf("target is behind current revision %s", applied[len(applied)-1]),
			}
		}
		end = i + 1
	}

	done := []string{}
	for _, rev := range m.revisions[len(applied):end] {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		if err := m.target.ApplyRevision(context.WithoutCancel(ctx), rev.ID, rev.Up, true); err != nil {
			m.l.Error("Revision failed.", zap.String("revision", rev.ID), zap.Error(err))
			return done, &domain.MigrationError{Revision: rev.ID, Err: err}
		}

		m.l.Info("Revision applied.", zap.String("revision", rev.ID))
		done = append(done, rev.ID)
	}

	if len(done) == 0 {
		m.l.Debug("Schema is up to date.")
	}

	return done, nil
}

// Downgrade implements domain.Migrator.
//
// It reverts up to steps of the newest revisions, newest first.
func (m *Manager) Downgrade(ctx context.Context, steps int) ([]string, error) {
	if steps < 0 {
		return nil, fmt.Errorf("%w: steps must not be negative", domain.ErrValidation)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	steps = min(steps, len(applied))

	done := []string{}
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		rev := m.revisions[i]
		if err := m.target.ApplyRevision(context.WithoutCancel(ctx), rev.ID, rev.Down, false); err != nil {
			m.l.Error("Revision revert failed.", zap.String("revision", rev.ID), zap.Error(err))
			return done, &domain.MigrationError{Revision: rev.ID, Err: err}
		}

		m.l.Info("Revision reverted.", zap.String("revision", rev.ID))
		done = append(done, rev.ID)
	}

	return done, nil
}

// applied returns applied revisions after checking they are a prefix
// of the canonical order.
func (m *Manager) applied(ctx context.Context) ([]string, error) {
	if err := m.target.EnsureHistory(ctx); err != nil {
		return nil, fmt.Errorf("ensure history table: %w", err)
	}

	applied, err := m.target.AppliedRevisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied revisions: %w", err)
	}

	for i, id := range applied {
		if i >= len(m.revisions) || m.revisions[i].ID != id {
			return nil, &domain.MigrationError{Revision: id, Err: ErrDrift}
		}
	}

	return applied, nil
}

func (m *Manager) index(id string) int {
	return slices.IndexFunc(m.revisions, func(rev Revision) bool { return rev.ID == id })
}

// Noop is the migrator of engines without a persisted schema.
type Noop struct{}

// CurrentRevision implements domain.Migrator.
func (Noop) CurrentRevision(context.Context) (string, error) { return "", nil }

// Upgrade implements domain.Migrator. It never applies anything.
func (Noop) Upgrade(context.Context, string) ([]string, error) { return []string{}, nil }

// Downgrade implements domain.Migrator. It never reverts anything.
func (Noop) Downgrade(context.Context, int) ([]string, error) { return []string{}, nil }

// check interfaces
var (
	_ domain.Migrator = (*Manager)(nil)
	_ domain.Migrator = Noop{}
)
