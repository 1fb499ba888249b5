// Package core provides the tiered memory engine: the Client that stores,
// retrieves, consolidates and forgets memories on top of a storage.Store and
// an embedder.Provider.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanbase/tiermem-go/pkg/storage"
)

// Predefined errors for common failure scenarios. Every error returned by
// the Client matches one of them with errors.Is, except context errors which
// are returned as they are.
var (
	// ErrValidation indicates malformed input. The caller must fix the request.
	ErrValidation = errors.New("validation failed")

	// ErrMemoryRejected indicates that a memory scored below the storage
	// threshold and was not persisted.
	ErrMemoryRejected = errors.New("memory rejected")

	// ErrMemoryNotFound indicates an unknown, foreign or deleted memory.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrStorage indicates a storage backend failure.
	ErrStorage = errors.New("storage operation failed")

	// ErrEmbeddingProvider indicates that embedding generation failed.
	ErrEmbeddingProvider = errors.New("embedding provider failed")

	// ErrVersionConflict indicates a lost update: the memory changed since
	// the caller read it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConsolidationInProgress indicates that another consolidation of the
	// same tenant holds the lease.
	ErrConsolidationInProgress = errors.New("consolidation already in progress")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed indicates a call on a closed client.
	ErrClosed = errors.New("client is closed")
)

// ValidationError describes one invalid request field.
//
// Example:
//
//	var verr *core.ValidationError
//	if errors.As(err, &verr) {
//	    log.Printf("bad field %s: %s", verr.Field, verr.Reason)
//	}
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RejectedError reports a memory whose importance fell below the storage
// threshold. It is an expected outcome rather than a failure.
type RejectedError struct {
	Score     float64
	Threshold float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("importance %.3f below threshold %.2f", e.Score, e.Threshold)
}

// Is makes RejectedError match ErrMemoryRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrMemoryRejected
}

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Store",
//	    Err: ErrEmbeddingProvider,
//	}
//	// Error() returns: "tiermem: Store: embedding provider failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "tiermem: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("tiermem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Store", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// ItemError records the failure of one memory inside a batch operation.
type ItemError struct {
	MemoryID string `json:"memory_id"`
	Action   string `json:"action"`
	Err      error  `json:"-"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.MemoryID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// storageErr translates a storage error into the engine taxonomy.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrMemoryNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	case errors.Is(err, storage.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// embedErr translates an embedding provider error.
func embedErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
	}
}
