package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/core"
	"github.com/oceanbase/tiermem-go/pkg/embedder"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/storage/memory"
	"github.com/oceanbase/tiermem-go/pkg/storage/storagetest"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

const (
	testDims  = 64
	testModel = "test"

	// Texts without a pinned vector get their own axis, starting here, so
	// they are orthogonal to each other and to pinned vectors.
	firstFreeAxis = 16
)

// stubEmbedder returns pinned vectors for known texts and a fresh unit axis
// for any other text.
type stubEmbedder struct {
	mu     sync.Mutex
	pinned map[string][]float64
	axes   map[string]int
	err    error
	calls  int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{pinned: make(map[string][]float64), axes: make(map[string]int)}
}

func (s *stubEmbedder) pin(text string, v []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[text] = v
}

func (s *stubEmbedder) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.pinned[text]; ok {
		return &embedder.Embedding{Vector: append([]float64(nil), v...), Model: testModel}, nil
	}
	axis, ok := s.axes[text]
	if !ok {
		axis = firstFreeAxis + len(s.axes)
		if axis >= testDims {
			return nil, errors.New("stub embedder: out of free axes")
		}
		s.axes[text] = axis
	}
	v := make([]float64, testDims)
	v[axis] = 1
	return &embedder.Embedding{Vector: v, Model: testModel}, nil
}

func (s *stubEmbedder) Dimensions() int { return testDims }
func (s *stubEmbedder) Model() string   { return testModel }
func (s *stubEmbedder) Close() error    { return nil }

// vec builds a test vector from its leading components.
func vec(components ...float64) []float64 {
	v := make([]float64, testDims)
	copy(v, components)
	return v
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	client *core.Client
	store  *memory.Client
	emb    *stubEmbedder
	clock  *fakeClock
}

func newFixture(t *testing.T, opts ...core.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, nil, opts...)
}

// newFixtureOn is newFixture with the engine talking to wrap(store) instead
// of the store itself. A nil wrap uses the store directly.
func newFixtureOn(t *testing.T, wrap func(storage.Store) storage.Store, opts ...core.Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: storagetest.Base}
	store := memory.NewClient(memory.WithClock(clock.Now))
	emb := newStubEmbedder()

	var backend storage.Store = store
	if wrap != nil {
		backend = wrap(store)
	}
	all := append([]core.Option{core.WithClock(clock.Now)}, opts...)
	client, err := core.New(backend, emb, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, store: store, emb: emb, clock: clock}
}

// engineConfig returns the default engine config changed by fn.
func engineConfig(fn func(cfg *core.EngineConfig)) core.Option {
	cfg := core.DefaultEngineConfig()
	fn(&cfg)
	return core.WithEngineConfig(cfg)
}

func (f *fixture) store1(t *testing.T, content string) *types.Memory {
	t.Helper()
	res, err := f.client.Store(context.Background(), &core.StoreRequest{
		TenantID: "acme",
		UserID:   "u1",
		Type:     types.TypeFact,
		Content:  content,
		Source:   types.SourceExplicitStatement,
	})
	require.NoError(t, err)
	return res.Memory
}

// seed saves a memory directly into the store, bypassing scoring. created is
// the age of the memory relative to the fixture clock.
func (f *fixture) seed(t *testing.T, id string, created time.Duration, mutate func(m *types.Memory)) *types.Memory {
	t.Helper()
	now := f.clock.Now()
	m := storagetest.NewMemory(id, "acme", "u1", vec(1))
	m.Metadata.CreatedAt = now.Add(-created)
	m.Metadata.UpdatedAt = m.Metadata.CreatedAt
	m.Decay.LastCalculated = m.Metadata.CreatedAt
	m.Confidence.LastUpdated = m.Metadata.CreatedAt
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, f.store.Save(context.Background(), m))
	return m
}

var errDiskFull = errors.New("disk full")

// failingStore fails every write to the memories in ids.
type failingStore struct {
	storage.Store
	ids map[string]bool
}

func failWritesTo(ids ...string) func(storage.Store) storage.Store {
	return func(s storage.Store) storage.Store {
		f := &failingStore{Store: s, ids: make(map[string]bool)}
		for _, id := range ids {
			f.ids[id] = true
		}
		return f
	}
}

func (s *failingStore) check(id string) error {
	if s.ids[id] {
		return errDiskFull
	}
	return nil
}

func (s *failingStore) Update(ctx context.Context, id string, patch *storage.Patch) (*types.Memory, error) {
	if err := s.check(id); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, id, patch)
}

func (s *failingStore) SoftDelete(ctx context.Context, id string) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.Store.SoftDelete(ctx, id)
}

func (s *failingStore) HardDelete(ctx context.Context, id string) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.Store.HardDelete(ctx, id)
}

func (s *failingStore) UpdateTier(ctx context.Context, id string, from, to types.Tier) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.Store.UpdateTier(ctx, id, from, to)
}

func (s *failingStore) UpdateDecay(ctx context.Context, id string, score float64, at time.Time) error {
	if err := s.check(id); err != nil {
		return err
	}
	return s.Store.UpdateDecay(ctx, id, score, at)
}
