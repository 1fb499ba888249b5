package storage

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no memory has the requested id.
	ErrNotFound = errors.New("storage: memory not found")

	// ErrConflict is returned when a version or tier precondition fails, or
	// when saving an id that already exists.
	ErrConflict = errors.New("storage: conflict")

	// ErrInvalidInput is returned for records the store refuses to persist.
	ErrInvalidInput = errors.New("storage: invalid input")
)

// IsPermanent reports whether err must not be retried: precondition and
// lookup failures, and caller cancellation.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
