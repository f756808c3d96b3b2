package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// convertErr translates SQLite errors into domain errors.
// entity names the row being written, if any.
func convertErr(err error, entity string) error {
	if err == nil {
		return nil
	}

	var e *sqlite.Error
	if !errors.As(err, &e) {
		return err
	}

	switch code := e.Code(); {
	case code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE, isConstraint(e, "UNIQUE"):
		return domain.NewError(domain.ErrDuplicateKey, "movie", "title")
	case code == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY, isConstraint(e, "FOREIGN KEY"):
		return domain.NewError(domain.ErrForeignKeyViolation, "rating", "movie_id")
	case code == sqlitelib.SQLITE_CONSTRAINT_CHECK, isConstraint(e, "CHECK"):
		return domain.NewError(domain.ErrValidation, entity, "")
	}

	// primary result code is the low byte of an extended code
	switch e.Code() & 0xff {
	case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", domain.ErrLocked, err)
	}

	return err
}

// isConstraint reports a constraint error of the given kind for drivers
// that do not report extended result codes.
func isConstraint(e *sqlite.Error, kind string) bool {
	return e.Code() == sqlitelib.SQLITE_CONSTRAINT && strings.Contains(e.Error(), kind+" constraint failed")
}
