package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrNotFound            = errors.New("not found")
	ErrLocked              = errors.New("storage locked")
	ErrConnectionLost      = errors.New("connection lost")
	ErrPoolExhausted       = errors.New("connection pool exhausted")
	ErrMigrationFailed     = errors.New("migration failed")
	ErrConfiguration       = errors.New("configuration error")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Error is a domain error bound to an entity field.
// Its message names only the kind and the field, never storage details.
type Error struct {
	Kind   error
	Entity string
	Field  string
}

// NewError returns an error of the given kind for entity.field.
func NewError(kind error, entity, field string) *Error {
	return &Error{Kind: kind, Entity: entity, Field: field}
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Entity)
	}
	return fmt.Sprintf("%s: %s.%s", e.Kind, e.Entity, e.Field)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// MigrationError reports the revision that could not be applied or reverted.
type MigrationError struct {
	Revision string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: revision %s: %v", ErrMigrationFailed, e.Revision, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is makes every MigrationError match ErrMigrationFailed.
func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}

// IsRetryable reports whether err is a transient storage failure
// the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrPoolExhausted)
}
