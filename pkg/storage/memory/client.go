// Package memory provides an in-process implementation of storage.Store.
//
// Records live in a map guarded by a RWMutex and vector search is a linear
// cosine scan. The store suits tests, single-process deployments and the
// working tier of a larger system. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Client implements storage.Store in memory.
type Client struct {
	mu       sync.RWMutex
	memories map[string]*types.Memory
	now      func() time.Time
	closed   bool
}

// Option configures the in-memory store.
type Option func(*Client)

// WithClock overrides the clock used to stamp updates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates an empty in-memory store.
func NewClient(opts ...Option) *Client {
	c := &Client{
		memories: make(map[string]*types.Memory),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ storage.Store = (*Client)(nil)

// Save inserts a copy of memory.
func (c *Client) Save(ctx context.Context, memory *types.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, ok := c.memories[memory.ID]; ok {
		return fmt.Errorf("%w: memory %s already exists", storage.ErrConflict, memory.ID)
	}
	stored := memory.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	c.memories[memory.ID] = stored
	return nil
}

// Get returns a copy of the memory.
func (c *Client) Get(ctx context.Context, id string) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	m, ok := c.memories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return m.Clone(), nil
}

// Update applies a patch.
func (c *Client) Update(ctx context.Context, id string, patch *storage.Patch) (*types.Memory, error) {
	return c.mutate(ctx, id, storage.PatchMutation(patch, c.now()))
}

// SoftDelete marks the memory deleted.
func (c *Client) SoftDelete(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, id, storage.SoftDeleteMutation(c.now()))
	return err
}

// HardDelete removes the memory.
func (c *Client) HardDelete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if _, ok := c.memories[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(c.memories, id)
	return nil
}

// VectorSearch scans the scope and ranks by cosine similarity.
func (c *Client) VectorSearch(ctx context.Context, vector []float64, tenantID, userID string, filters *storage.SearchFilters) ([]storage.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filters == nil {
		filters = &storage.SearchFilters{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var results []storage.SearchResult
	for _, m := range c.memories {
		if m.TenantID != tenantID || m.UserID != userID || !filters.Matches(m) {
			continue
		}
		sim := intelligence.CosineSimilarity(vector, m.Embedding.Vector)
		if sim < filters.MinSimilarity {
			continue
		}
		results = append(results, storage.SearchResult{Memory: m.Clone(), Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if filters.Limit > 0 && len(results) > filters.Limit {
		results = results[:filters.Limit]
	}
	return results, nil
}

// CountByUser counts non-deleted memories of a user.
func (c *Client) CountByUser(ctx context.Context, tenantID, userID string) (int, error) {
	return c.count(ctx, func(m *types.Memory) bool {
		return m.TenantID == tenantID && m.UserID == userID
	})
}

// CountByTier counts non-deleted memories of a user in one tier.
func (c *Client) CountByTier(ctx context.Context, tenantID, userID string, tier types.Tier) (int, error) {
	return c.count(ctx, func(m *types.Memory) bool {
		return m.TenantID == tenantID && m.UserID == userID && m.Tier == tier
	})
}

func (c *Client) count(ctx context.Context, match func(*types.Memory) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range c.memories {
		if !m.IsDeleted && match(m) {
			n++
		}
	}
	return n, nil
}

// GetForConsolidation returns a batch of candidates ordered by id.
func (c *Client) GetForConsolidation(ctx context.Context, tenantID, userID string, query *storage.ConsolidationQuery) ([]*types.Memory, error) {
	if query == nil {
		query = &storage.ConsolidationQuery{}
	}
	return c.scan(ctx, query.Limit, func(m *types.Memory) bool {
		if m.TenantID != tenantID || m.IsDeleted {
			return false
		}
		if userID != "" && m.UserID != userID {
			return false
		}
		if !query.CreatedBefore.IsZero() && m.Metadata.CreatedAt.After(query.CreatedBefore) {
			return false
		}
		return m.ID > query.AfterID
	})
}

// FindByCriteria returns memories matching criteria ordered by id.
func (c *Client) FindByCriteria(ctx context.Context, criteria *storage.Criteria) ([]*types.Memory, error) {
	if criteria == nil || criteria.TenantID == "" {
		return nil, fmt.Errorf("%w: criteria requires a tenant id", storage.ErrInvalidInput)
	}
	return c.scan(ctx, criteria.Limit, criteria.Matches)
}

func (c *Client) scan(ctx context.Context, limit int, match func(*types.Memory) bool) ([]*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var out []*types.Memory
	for _, m := range c.memories {
		if match(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTier moves a memory between tiers.
func (c *Client) UpdateTier(ctx context.Context, id string, from, to types.Tier) error {
	_, err := c.mutate(ctx, id, storage.TierMutation(from, to, c.now()))
	return err
}

// UpdateDecay stores a recalculated decay score.
func (c *Client) UpdateDecay(ctx context.Context, id string, score float64, calculatedAt time.Time) error {
	_, err := c.mutate(ctx, id, storage.DecayMutation(score, calculatedAt))
	return err
}

// UpdateAccess records a retrieval.
func (c *Client) UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error {
	_, err := c.mutate(ctx, id, storage.AccessMutation(accessedAt))
	return err
}

// Close marks the store closed. Later calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Len returns the number of stored memories, deleted ones included.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memories)
}

func (c *Client) mutate(ctx context.Context, id string, fn storage.Mutation) (*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	current, ok := c.memories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current.Clone(), nil
	}
	c.memories[id] = next
	return next.Clone(), nil
}

func (c *Client) checkOpen() error {
	if c.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}
