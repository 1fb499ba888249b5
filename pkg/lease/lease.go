// Package lease provides named mutual exclusion with bounded waiting.
//
// The engine serializes writes per (tenant, user) and runs consolidation
// single-flight per tenant. Local serves a single process; Redis extends the
// same guarantee to several processes sharing one storage backend.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait
// bound.
var ErrTimeout = errors.New("lease: timed out waiting for lock")

// Release gives a lock back. Calling it more than once is safe.
type Release func()

// Locker hands out exclusive locks by key.
type Locker interface {
	// Acquire blocks until the lock for key is held, wait elapses or ctx is
	// done. A zero wait means wait for ctx only. Timeouts return ErrTimeout;
	// a cancelled ctx returns ctx.Err().
	Acquire(ctx context.Context, key string, wait time.Duration) (Release, error)

	// Close releases resources held by the locker.
	Close() error
}

// waitContext bounds ctx by wait.
func waitContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, wait)
}

// acquireErr maps a failed wait onto ErrTimeout unless the caller gave up.
func acquireErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}
