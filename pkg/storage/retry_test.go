package storage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/storage/memory"
	"github.com/oceanbase/tiermem-go/pkg/storage/storagetest"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

var errTransient = errors.New("connection reset")

// flakyStore fails Get a fixed number of times before delegating.
type flakyStore struct {
	storage.Store
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errTransient
	}
	return f.Store.Get(ctx, id)
}

func fastRetry() storage.RetryConfig {
	return storage.RetryConfig{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func newFlaky(t *testing.T, failures int32) *flakyStore {
	inner := memory.NewClient()
	require.NoError(t, inner.Save(context.Background(), storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))
	return &flakyStore{Store: inner, failures: failures}
}

func TestRetryingStore_RecoversFromTransientErrors(t *testing.T) {
	flaky := newFlaky(t, 2)
	store := storage.WithRetry(flaky, fastRetry())

	got, err := store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryingStore_GivesUp(t *testing.T) {
	flaky := newFlaky(t, 10)
	store := storage.WithRetry(flaky, fastRetry())

	_, err := store.Get(context.Background(), "1")
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestRetryingStore_PermanentErrorsAreNotRetried(t *testing.T) {
	flaky := newFlaky(t, 0)
	store := storage.WithRetry(flaky, fastRetry())

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestRetryingStore_Defaults(t *testing.T) {
	store := storage.WithRetry(memory.NewClient(), storage.RetryConfig{})
	assert.NotNil(t, store.Unwrap())
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, storage.IsPermanent(storage.ErrConflict))
	assert.True(t, storage.IsPermanent(context.Canceled))
	assert.False(t, storage.IsPermanent(errTransient))
}
