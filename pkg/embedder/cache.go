package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached embeddings.
	MaxEntries int64
}

// CachedProvider memoizes embeddings of identical texts. Entries are keyed
// by model and text so a model switch never serves stale vectors.
//
// Example usage:
//
//	cached, err := embedder.NewCachedProvider(provider, embedder.CacheConfig{MaxEntries: 10000})
//	emb, err := cached.Embed(ctx, "User works at DNB")
type CachedProvider struct {
	Provider
	cache *ristretto.Cache
}

// NewCachedProvider wraps p with a bounded in-process cache.
func NewCachedProvider(p Provider, cfg CacheConfig) (*CachedProvider, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
		// Cost is counted in entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedProvider{Provider: p, cache: cache}, nil
}

// Embed returns a cached embedding or delegates to the wrapped provider.
func (c *CachedProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	key := c.Provider.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		cached := v.(*Embedding)
		return &Embedding{Vector: append([]float64(nil), cached.Vector...), Model: cached.Model}, nil
	}

	emb, err := c.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := &Embedding{Vector: append([]float64(nil), emb.Vector...), Model: emb.Model}
	c.cache.Set(key, stored, 1)
	return emb, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedProvider) Wait() {
	c.cache.Wait()
}

// Close releases the cache and closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Close()
	return c.Provider.Close()
}
