package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

// writeDomainError maps err to a response.
//
// Only domain errors are shown to the client; anything else is logged and
// reported with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, l *zap.Logger, err error) {
	status, message := statusFor(err)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	if status >= 500 {
		l.Error("Request failed.",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	writeError(w, l, status, message)
}

func statusFor(err error) (int, string) {
	var de *domain.Error
	message := func(fallback string) string {
		if errors.As(err, &de) {
			return de.Error()
		}
		return fallback
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, message(domain.ErrValidation.Error())
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, message(domain.ErrNotFound.Error())
	case errors.Is(err, domain.ErrForeignKeyViolation):
		return http.StatusNotFound, message(domain.ErrForeignKeyViolation.Error())
	case errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict, message(domain.ErrDuplicateKey.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, domain.ErrUnauthorized.Error()
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "storage temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
