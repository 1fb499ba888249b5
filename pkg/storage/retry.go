package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// RetryConfig bounds the exponential backoff applied to backend failures.
type RetryConfig struct {
	// MaxTries is the total number of attempts, including the first.
	// Default: 3
	MaxTries uint `json:"max_tries" yaml:"max_tries"`

	// InitialInterval is the delay before the first retry.
	// Default: 50ms
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`

	// MaxInterval caps the delay between retries.
	// Default: 2s
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`

	// MaxElapsedTime caps the total time spent retrying one call.
	// Default: 10s
	MaxElapsedTime time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// RetryingStore retries transient backend failures of the wrapped store with
// bounded exponential backoff. Permanent errors (see IsPermanent) are
// returned immediately.
//
// Example usage:
//
//	store = storage.WithRetry(sqliteClient, storage.DefaultRetryConfig())
type RetryingStore struct {
	inner Store
	cfg   RetryConfig
}

// WithRetry wraps s with retries. Zero config fields take their defaults.
func WithRetry(s Store, cfg RetryConfig) *RetryingStore {
	def := DefaultRetryConfig()
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxElapsedTime == 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	return &RetryingStore{inner: s, cfg: cfg}
}

// Unwrap returns the wrapped store.
func (r *RetryingStore) Unwrap() Store {
	return r.inner
}

func retry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && IsPermanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithMaxElapsedTime(cfg.MaxElapsedTime),
	)
}

func retryErr(ctx context.Context, cfg RetryConfig, op func() error) error {
	_, err := retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (r *RetryingStore) Save(ctx context.Context, memory *types.Memory) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.Save(ctx, memory) })
}

func (r *RetryingStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	return retry(ctx, r.cfg, func() (*types.Memory, error) { return r.inner.Get(ctx, id) })
}

func (r *RetryingStore) Update(ctx context.Context, id string, patch *Patch) (*types.Memory, error) {
	return retry(ctx, r.cfg, func() (*types.Memory, error) { return r.inner.Update(ctx, id, patch) })
}

func (r *RetryingStore) SoftDelete(ctx context.Context, id string) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.SoftDelete(ctx, id) })
}

func (r *RetryingStore) HardDelete(ctx context.Context, id string) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.HardDelete(ctx, id) })
}

func (r *RetryingStore) VectorSearch(ctx context.Context, vector []float64, tenantID, userID string, filters *SearchFilters) ([]SearchResult, error) {
	return retry(ctx, r.cfg, func() ([]SearchResult, error) {
		return r.inner.VectorSearch(ctx, vector, tenantID, userID, filters)
	})
}

func (r *RetryingStore) CountByUser(ctx context.Context, tenantID, userID string) (int, error) {
	return retry(ctx, r.cfg, func() (int, error) { return r.inner.CountByUser(ctx, tenantID, userID) })
}

func (r *RetryingStore) CountByTier(ctx context.Context, tenantID, userID string, tier types.Tier) (int, error) {
	return retry(ctx, r.cfg, func() (int, error) { return r.inner.CountByTier(ctx, tenantID, userID, tier) })
}

func (r *RetryingStore) GetForConsolidation(ctx context.Context, tenantID, userID string, query *ConsolidationQuery) ([]*types.Memory, error) {
	return retry(ctx, r.cfg, func() ([]*types.Memory, error) {
		return r.inner.GetForConsolidation(ctx, tenantID, userID, query)
	})
}

func (r *RetryingStore) FindByCriteria(ctx context.Context, criteria *Criteria) ([]*types.Memory, error) {
	return retry(ctx, r.cfg, func() ([]*types.Memory, error) { return r.inner.FindByCriteria(ctx, criteria) })
}

func (r *RetryingStore) UpdateTier(ctx context.Context, id string, from, to types.Tier) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.UpdateTier(ctx, id, from, to) })
}

func (r *RetryingStore) UpdateDecay(ctx context.Context, id string, score float64, calculatedAt time.Time) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.UpdateDecay(ctx, id, score, calculatedAt) })
}

func (r *RetryingStore) UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error {
	return retryErr(ctx, r.cfg, func() error { return r.inner.UpdateAccess(ctx, id, accessedAt) })
}

func (r *RetryingStore) Close() error {
	return r.inner.Close()
}
