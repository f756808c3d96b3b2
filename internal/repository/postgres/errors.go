package postgres

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// convertErr translates pgx errors into domain errors.
// entity names the row being written, if any.
func convertErr(err error, entity string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return domain.NewError(domain.ErrDuplicateKey, "movie", "title")
		case pgErr.Code == pgerrcode.ForeignKeyViolation:
			return domain.NewError(domain.ErrForeignKeyViolation, "rating", "movie_id")
		case pgErr.Code == pgerrcode.CheckViolation:
			return domain.NewError(domain.ErrValidation, entity, "")
		case pgErr.Code == pgerrcode.LockNotAvailable,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %w", domain.ErrLocked, err)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return fmt.Errorf("%w: %w", domain.ErrConnectionLost, err)
		}

		return err
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", domain.ErrConnectionLost, err)
	}

	return err
}

// isConnectionError reports failures of the connection itself
// rather than of the statement.
func isConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.SafeToRetry(err) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
