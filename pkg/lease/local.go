package lease

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Local is an in-process Locker backed by one weighted semaphore per key.
// Idle keys are dropped so the map does not grow with the key space.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	sem  *semaphore.Weighted
	refs int
}

var _ Locker = (*Local)(nil)

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localEntry)}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	e := l.ref(key)

	waitCtx, cancel := waitContext(ctx, wait)
	defer cancel()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key, e)
		return nil, acquireErr(ctx)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

// Held reports how many keys are currently locked or waited on.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Close implements Locker.
func (l *Local) Close() error { return nil }

func (l *Local) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{sem: semaphore.NewWeighted(1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
