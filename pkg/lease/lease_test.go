package lease_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/lease"
)

func lockers(t *testing.T) map[string]lease.Locker {
	out := map[string]lease.Locker{"local": lease.NewLocal()}
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		r, err := lease.NewRedis(context.Background(), lease.RedisConfig{
			Addr:         addr,
			Prefix:       "tiermem:test:" + uuid.NewString() + ":",
			TTL:          time.Second,
			PollInterval: 5 * time.Millisecond,
		})
		require.NoError(t, err)
		out["redis"] = r
	}
	return out
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()

			var inside, maxInside, total atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Acquire(context.Background(), "acme/u1", 0)
					if !assert.NoError(t, err) {
						return
					}
					defer release()
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					total.Add(1)
					inside.Add(-1)
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), maxInside.Load())
			assert.Equal(t, int32(8), total.Load())
		})
	}
}

func TestLocker_Timeout(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()
			ctx := context.Background()

			release, err := l.Acquire(ctx, "acme", 0)
			require.NoError(t, err)

			_, err = l.Acquire(ctx, "acme", 20*time.Millisecond)
			assert.ErrorIs(t, err, lease.ErrTimeout)

			// Other keys are independent.
			other, err := l.Acquire(ctx, "beta", 20*time.Millisecond)
			require.NoError(t, err)
			other()

			release()
			release()

			again, err := l.Acquire(ctx, "acme", 20*time.Millisecond)
			require.NoError(t, err)
			again()
		})
	}
}

func TestLocker_CanceledContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			defer l.Close()

			release, err := l.Acquire(context.Background(), "k", 0)
			require.NoError(t, err)
			defer release()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = l.Acquire(ctx, "k", time.Second)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestLocal_DropsIdleKeys(t *testing.T) {
	l := lease.NewLocal()
	release, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Held())
	release()
	assert.Zero(t, l.Held())
}

func TestRedis_LeaseOutlivesTTL(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis test: REDIS_TEST_ADDR not set")
	}
	r, err := lease.NewRedis(context.Background(), lease.RedisConfig{
		Addr:   addr,
		Prefix: "tiermem:test:" + uuid.NewString() + ":",
		TTL:    300 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	release, err := r.Acquire(context.Background(), "long", 0)
	require.NoError(t, err)
	defer release()

	time.Sleep(time.Second)
	_, err = r.Acquire(context.Background(), "long", 50*time.Millisecond)
	assert.ErrorIs(t, err, lease.ErrTimeout)
}

func TestNewRedis_MissingAddr(t *testing.T) {
	_, err := lease.NewRedis(context.Background(), lease.RedisConfig{})
	assert.Error(t, err)
}
