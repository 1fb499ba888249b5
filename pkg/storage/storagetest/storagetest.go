// Package storagetest provides a conformance suite for storage.Store
// implementations.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Dimensions is the vector size used by every suite fixture.
const Dimensions = 4

// Base is the creation time of suite fixtures.
var Base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// NewMemory returns a valid short-term fact owned by tenant/user.
func NewMemory(id, tenant, user string, vector []float64) *types.Memory {
	return &types.Memory{
		ID:              id,
		TenantID:        tenant,
		UserID:          user,
		Type:            types.TypeFact,
		Content:         "memory " + id,
		ImportanceScore: 0.5,
		Confidence: types.Confidence{
			Score:          0.9,
			Basis:          types.BasisExplicit,
			Reinforcements: 1,
			LastUpdated:    Base,
		},
		Tier: types.TierShortTerm,
		Decay: types.Decay{
			Score:          1,
			RatePerDay:     0.1,
			LastCalculated: Base,
		},
		Metadata: types.Metadata{
			CreatedAt: Base,
			UpdatedAt: Base,
			Source:    types.SourceExplicitStatement,
		},
		Embedding: types.Embedding{
			Vector:      vector,
			Model:       "test",
			Dimension:   len(vector),
			GeneratedAt: Base,
		},
	}
}

// Run exercises a store against the storage.Store contract. open must
// return an empty store whose embedding dimension is Dimensions.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"SaveAndGet", testSaveAndGet},
		{"SaveDuplicate", testSaveDuplicate},
		{"SaveInvalid", testSaveInvalid},
		{"Update", testUpdate},
		{"UpdateVersionConflict", testUpdateVersionConflict},
		{"SoftDelete", testSoftDelete},
		{"HardDelete", testHardDelete},
		{"VectorSearchRanking", testVectorSearchRanking},
		{"VectorSearchFilters", testVectorSearchFilters},
		{"Counts", testCounts},
		{"GetForConsolidationPaging", testGetForConsolidationPaging},
		{"FindByCriteria", testFindByCriteria},
		{"UpdateTier", testUpdateTier},
		{"UpdateDecay", testUpdateDecay},
		{"UpdateAccess", testUpdateAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testSaveAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := NewMemory("1001", "acme", "u1", []float64{1, 0, 0, 0})
	m.Tags = []string{"work", "employer"}
	m.ScopeID = "bot"
	m.StructuredData = &types.StructuredData{Type: types.TypeFact, Attributes: map[string]string{"employer": "DNB"}}
	m.Metadata.Custom = types.Custom{"channel": "chat"}
	require.NoError(t, s.Save(ctx, m))

	got, err := s.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, []string{"work", "employer"}, got.Tags)
	assert.Equal(t, "bot", got.ScopeID)
	assert.Equal(t, "DNB", got.StructuredData.Attributes["employer"])
	assert.Equal(t, "chat", got.Metadata.Custom["channel"])
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.Metadata.CreatedAt.Equal(Base))
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0}, got.Embedding.Vector, 1e-6)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSaveDuplicate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))
	err := s.Save(ctx, NewMemory("1", "acme", "u1", []float64{0, 1, 0, 0}))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func testSaveInvalid(t *testing.T, s storage.Store) {
	m := NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
	m.ImportanceScore = 1.5
	assert.ErrorIs(t, s.Save(context.Background(), m), storage.ErrInvalidInput)
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	content := "User works at DNB"
	importance := 0.8
	tags := []string{"job"}
	updated, err := s.Update(ctx, "1", &storage.Patch{
		Content:         &content,
		ImportanceScore: &importance,
		Tags:            &tags,
	})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
	assert.InDelta(t, 0.8, got.ImportanceScore, 1e-9)
	assert.Equal(t, []string{"job"}, got.Tags)
	assert.Equal(t, int64(2), got.Version)

	bad := 2.0
	_, err = s.Update(ctx, "1", &storage.Patch{ImportanceScore: &bad})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.Update(ctx, "missing", &storage.Patch{Content: &content})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdateVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	first := "first"
	_, err := s.Update(ctx, "1", &storage.Patch{Content: &first, ExpectedVersion: 1})
	require.NoError(t, err)

	second := "second"
	_, err = s.Update(ctx, "1", &storage.Patch{Content: &second, ExpectedVersion: 1})
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
}

func testSoftDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))
	require.NoError(t, s.SoftDelete(ctx, "1"))
	require.NoError(t, s.SoftDelete(ctx, "1"))

	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	n, err := s.CountByUser(ctx, "acme", "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err := s.VectorSearch(ctx, []float64{1, 0, 0, 0}, "acme", "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.SoftDelete(ctx, "missing"), storage.ErrNotFound)
}

func testHardDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))
	require.NoError(t, s.HardDelete(ctx, "1"))

	_, err := s.Get(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.HardDelete(ctx, "1"), storage.ErrNotFound)
}

func saveAll(t *testing.T, s storage.Store, memories ...*types.Memory) {
	for _, m := range memories {
		require.NoError(t, s.Save(context.Background(), m))
	}
}

func testVectorSearchRanking(t *testing.T, s storage.Store) {
	ctx := context.Background()
	saveAll(t, s,
		NewMemory("a", "acme", "u1", []float64{1, 0, 0, 0}),
		NewMemory("b", "acme", "u1", []float64{0.8, 0.6, 0, 0}),
		NewMemory("c", "acme", "u1", []float64{0.3, 0.954, 0, 0}),
		NewMemory("other-user", "acme", "u2", []float64{1, 0, 0, 0}),
		NewMemory("other-tenant", "beta", "u1", []float64{1, 0, 0, 0}),
	)

	results, err := s.VectorSearch(ctx, []float64{1, 0, 0, 0}, "acme", "u1", &storage.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Memory.ID)
	assert.Equal(t, "b", results[1].Memory.ID)
	assert.Equal(t, "c", results[2].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-4)

	results, err = s.VectorSearch(ctx, []float64{1, 0, 0, 0}, "acme", "u1", &storage.SearchFilters{MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.VectorSearch(ctx, []float64{1, 0, 0, 0}, "acme", "u1", &storage.SearchFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Memory.ID)
}

func testVectorSearchFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	expired := Base.Add(time.Hour)

	working := NewMemory("w", "acme", "u1", []float64{1, 0, 0, 0})
	working.Tier = types.TierWorking
	working.ExpiresAt = &expired

	tagged := NewMemory("t", "acme", "u1", []float64{0.9, 0.1, 0, 0})
	tagged.Tags = []string{"job", "finance"}

	pref := NewMemory("p", "acme", "u1", []float64{0.8, 0.2, 0, 0})
	pref.Type = types.TypePreference
	pref.ScopeID = "bot"

	saveAll(t, s, working, tagged, pref)
	q := []float64{1, 0, 0, 0}

	ids := func(rs []storage.SearchResult) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.Memory.ID)
		}
		return out
	}

	tests := []struct {
		name    string
		filters *storage.SearchFilters
		want    []string
	}{
		{"tiers", &storage.SearchFilters{Tiers: []types.Tier{types.TierShortTerm}}, []string{"t", "p"}},
		{"types", &storage.SearchFilters{Types: []types.MemoryType{types.TypePreference}}, []string{"p"}},
		{"tags", &storage.SearchFilters{Tags: []string{"finance", "absent"}}, []string{"t"}},
		{"scope", &storage.SearchFilters{ScopeID: "bot"}, []string{"p"}},
		{"exclude", &storage.SearchFilters{ExcludeIDs: []string{"w", "t"}}, []string{"p"}},
		{"not expired", &storage.SearchFilters{NotExpiredAt: expired}, []string{"t", "p"}},
		{"before expiry", &storage.SearchFilters{NotExpiredAt: Base}, []string{"w", "t", "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.VectorSearch(ctx, q, "acme", "u1", tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(results))
		})
	}
}

func testCounts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	long := NewMemory("2", "acme", "u1", []float64{0, 1, 0, 0})
	long.Tier = types.TierLongTerm
	saveAll(t, s,
		NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0}),
		long,
		NewMemory("3", "acme", "u2", []float64{1, 0, 0, 0}),
	)

	n, err := s.CountByUser(ctx, "acme", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountByTier(ctx, "acme", "u1", types.TierLongTerm)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountByTier(ctx, "acme", "u1", types.TierWorking)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testGetForConsolidationPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	late := NewMemory("105", "acme", "u1", []float64{1, 0, 0, 0})
	late.Metadata.CreatedAt = Base.Add(48 * time.Hour)
	deleted := NewMemory("104", "acme", "u1", []float64{1, 0, 0, 0})
	deleted.IsDeleted = true
	saveAll(t, s,
		NewMemory("103", "acme", "u1", []float64{1, 0, 0, 0}),
		NewMemory("101", "acme", "u1", []float64{1, 0, 0, 0}),
		NewMemory("102", "acme", "u2", []float64{1, 0, 0, 0}),
		deleted, late,
	)

	cutoff := Base.Add(time.Hour)
	batch, err := s.GetForConsolidation(ctx, "acme", "", &storage.ConsolidationQuery{CreatedBefore: cutoff, Limit: 2})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "101", batch[0].ID)
	assert.Equal(t, "102", batch[1].ID)

	batch, err = s.GetForConsolidation(ctx, "acme", "", &storage.ConsolidationQuery{CreatedBefore: cutoff, AfterID: "102", Limit: 2})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "103", batch[0].ID)

	batch, err = s.GetForConsolidation(ctx, "acme", "u1", &storage.ConsolidationQuery{})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "105", batch[2].ID)
}

func testFindByCriteria(t *testing.T, s storage.Store) {
	ctx := context.Background()
	stale := NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
	stale.Decay.Score = 0.05
	stale.Tags = []string{"old"}
	fresh := NewMemory("2", "acme", "u1", []float64{1, 0, 0, 0})
	pref := NewMemory("3", "acme", "u1", []float64{1, 0, 0, 0})
	pref.Type = types.TypePreference
	saveAll(t, s, stale, fresh, pref)

	maxDecay := 0.1
	got, err := s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", UserID: "u1", MaxDecay: &maxDecay})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	got, err = s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", Types: []types.MemoryType{types.TypePreference}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	got, err = s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", IDs: []string{"2", "3"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	require.NoError(t, s.SoftDelete(ctx, "1"))
	got, err = s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", Tags: []string{"old"}})
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", Tags: []string{"old"}, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = s.FindByCriteria(ctx, &storage.Criteria{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testUpdateTier(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	require.NoError(t, s.UpdateTier(ctx, "1", types.TierShortTerm, types.TierLongTerm))
	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, types.TierLongTerm, got.Tier)
	assert.Equal(t, int64(2), got.Version)

	// Repeating a completed move is a no-op.
	require.NoError(t, s.UpdateTier(ctx, "1", types.TierShortTerm, types.TierLongTerm))

	err = s.UpdateTier(ctx, "1", types.TierWorking, types.TierEpisodic)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func testUpdateDecay(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	at := Base.Add(72 * time.Hour)
	require.NoError(t, s.UpdateDecay(ctx, "1", 0.42, at))
	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, got.Decay.Score, 1e-9)
	assert.True(t, got.Decay.LastCalculated.Equal(at))

	maxDecay := 0.5
	found, err := s.FindByCriteria(ctx, &storage.Criteria{TenantID: "acme", MaxDecay: &maxDecay})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func testUpdateAccess(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	at := Base.Add(time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpdateAccess(ctx, "1", at))
	}
	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Metadata.AccessCount)
	require.NotNil(t, got.Metadata.LastAccessedAt)
	assert.True(t, got.Metadata.LastAccessedAt.Equal(at))
	assert.Equal(t, int64(1), got.Version)

	assert.ErrorIs(t, s.UpdateAccess(ctx, "missing", at), storage.ErrNotFound)
}
