package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/storage/storagetest"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

var now = storagetest.Base.Add(24 * time.Hour)

func TestApplyPatch(t *testing.T) {
	m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
	exp := now.Add(time.Hour)
	m.ExpiresAt = &exp
	m.StructuredData = &types.StructuredData{Type: types.TypeFact}

	content := "new content"
	tier := types.TierLongTerm
	refs := []string{"conv-1"}
	custom := types.Custom{"k": "v"}
	err := storage.ApplyPatch(m, &storage.Patch{
		Content:             &content,
		Tier:                &tier,
		SourceRefs:          &refs,
		Custom:              &custom,
		ClearExpiresAt:      true,
		ClearStructuredData: true,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, content, m.Content)
	assert.Equal(t, types.TierLongTerm, m.Tier)
	assert.Equal(t, []string{"conv-1"}, m.Metadata.SourceRefs)
	assert.Equal(t, "v", m.Metadata.Custom["k"])
	assert.Nil(t, m.ExpiresAt)
	assert.Nil(t, m.StructuredData)
	assert.Equal(t, now, m.Metadata.UpdatedAt)
	assert.Equal(t, int64(1), m.Version)

	refs[0] = "mutated"
	assert.Equal(t, "conv-1", m.Metadata.SourceRefs[0])
}

func TestApplyPatch_Errors(t *testing.T) {
	tests := []struct {
		name  string
		patch *storage.Patch
		want  error
	}{
		{"nil patch", nil, storage.ErrInvalidInput},
		{"version mismatch", &storage.Patch{ExpectedVersion: 7}, storage.ErrConflict},
		{"invalid importance", &storage.Patch{ImportanceScore: ptr(1.2)}, storage.ErrInvalidInput},
		{"empty content", &storage.Patch{Content: ptr("")}, storage.ErrInvalidInput},
		{"wrong dimension", &storage.Patch{Embedding: &types.Embedding{Vector: []float64{1}, Dimension: 2}}, storage.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
			assert.ErrorIs(t, storage.ApplyPatch(m, tt.patch, now), tt.want)
		})
	}
}

func TestMutations(t *testing.T) {
	t.Run("tier", func(t *testing.T) {
		m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
		changed, err := storage.TierMutation(types.TierShortTerm, types.TierEpisodic, now)(m)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, types.TierEpisodic, m.Tier)
		assert.Equal(t, int64(1), m.Version)

		changed, err = storage.TierMutation(types.TierShortTerm, types.TierEpisodic, now)(m)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = storage.TierMutation(types.TierWorking, types.TierShortTerm, now)(m)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("decay clamps", func(t *testing.T) {
		m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
		_, err := storage.DecayMutation(-0.3, now)(m)
		require.NoError(t, err)
		assert.Zero(t, m.Decay.Score)
		assert.Equal(t, now, m.Decay.LastCalculated)
	})

	t.Run("access keeps version", func(t *testing.T) {
		m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
		_, err := storage.AccessMutation(now)(m)
		require.NoError(t, err)
		assert.Equal(t, 1, m.Metadata.AccessCount)
		assert.Equal(t, now, *m.Metadata.LastAccessedAt)
		assert.Zero(t, m.Version)
	})

	t.Run("soft delete idempotent", func(t *testing.T) {
		m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
		changed, err := storage.SoftDeleteMutation(now)(m)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = storage.SoftDeleteMutation(now)(m)
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestSearchFilters_Matches(t *testing.T) {
	m := storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})
	m.Tags = []string{"a"}

	var nilFilters *storage.SearchFilters
	assert.True(t, nilFilters.Matches(m))
	assert.True(t, (&storage.SearchFilters{Tags: []string{"a", "b"}}).Matches(m))
	assert.False(t, (&storage.SearchFilters{Tags: []string{"b"}}).Matches(m))
	assert.False(t, (&storage.SearchFilters{Tiers: []types.Tier{types.TierWorking}}).Matches(m))

	m.IsDeleted = true
	assert.False(t, nilFilters.Matches(m))
}

func ptr[T any](v T) *T { return &v }
