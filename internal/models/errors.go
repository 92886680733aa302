package models

import "errors"

var (
	// ErrNotFound is returned by every store when the addressed record or blob
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input that will never succeed on retry.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// ValidationError carries the message shown to the caller.
type ValidationError struct {
	Msg string
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }
