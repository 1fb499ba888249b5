package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/core"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

func float64Ptr(v float64) *float64 { return &v }

func TestForget_ByDecaySkipsImportant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "faded", 0, func(m *types.Memory) {
		m.Decay.Score = 0.1
		m.ImportanceScore = 0.4
	})
	f.seed(t, "faded-important", 0, func(m *types.Memory) {
		m.Decay.Score = 0.1
		m.ImportanceScore = 0.85
	})
	f.seed(t, "fresh", 0, nil)

	res, err := f.client.Forget(ctx, &core.ForgetRequest{
		TenantID:           "acme",
		UserID:             "u1",
		DecayThreshold:     float64Ptr(0.2),
		SkipHighImportance: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evaluated)
	assert.Equal(t, []string{"faded"}, res.Forgotten)
	assert.Equal(t, []string{"faded-important"}, res.Skipped)
	assert.Empty(t, res.Errors)

	_, err = f.client.Get(ctx, "acme", "u1", "faded")
	assert.ErrorIs(t, err, core.ErrMemoryNotFound)
	for _, id := range []string{"faded-important", "fresh"} {
		_, err = f.client.Get(ctx, "acme", "u1", id)
		assert.NoError(t, err, id)
	}

	// Soft deletes keep the record.
	m, err := f.store.Get(ctx, "faded")
	require.NoError(t, err)
	assert.True(t, m.IsDeleted)
}

func TestForget_ExplicitImportanceThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold *float64
		forgotten []string
		skipped   []string
	}{
		{"default threshold", nil, []string{"low", "mid"}, []string{"high"}},
		{"explicit threshold", float64Ptr(0.4), []string{"low"}, []string{"high", "mid"}},
		{"zero protects everything", float64Ptr(0), []string{}, []string{"high", "low", "mid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "high", 0, func(m *types.Memory) { m.ImportanceScore = 0.85 })
			f.seed(t, "low", 0, func(m *types.Memory) { m.ImportanceScore = 0.2 })
			f.seed(t, "mid", 0, func(m *types.Memory) { m.ImportanceScore = 0.5 })

			res, err := f.client.Forget(context.Background(), &core.ForgetRequest{
				TenantID:            "acme",
				UserID:              "u1",
				SkipHighImportance:  true,
				ImportanceThreshold: tt.threshold,
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.forgotten, res.Forgotten)
			assert.ElementsMatch(t, tt.skipped, res.Skipped)
		})
	}
}

func TestForget_Keywords(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "k1", 0, func(m *types.Memory) { m.Content = "User works at DNB" })
	f.seed(t, "k2", 0, func(m *types.Memory) { m.Content = "User likes JAZZ" })
	f.seed(t, "k3", 0, func(m *types.Memory) { m.Content = "User cycles to work" })

	res, err := f.client.Forget(context.Background(), &core.ForgetRequest{
		TenantID:         "acme",
		UserID:           "u1",
		ContainsKeywords: []string{"jazz", "dnb"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, res.Forgotten)
	assert.Equal(t, []string{"k3"}, res.Skipped)
}

func TestForget_ByIDsAndTags(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "t1", 0, func(m *types.Memory) { m.Tags = []string{"travel"} })
	f.seed(t, "t2", 0, func(m *types.Memory) { m.Tags = []string{"travel"} })
	f.seed(t, "t3", 0, func(m *types.Memory) { m.Tags = []string{"work"} })

	res, err := f.client.Forget(context.Background(), &core.ForgetRequest{
		TenantID:  "acme",
		Tags:      []string{"travel"},
		MemoryIDs: []string{"t2", "t3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, res.Forgotten)
}

func TestForget_OlderThan(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "old", 40*day, nil)
	f.seed(t, "new", 2*day, nil)

	res, err := f.client.Forget(context.Background(), &core.ForgetRequest{
		TenantID:      "acme",
		UserID:        "u1",
		OlderThanDays: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, res.Forgotten)
}

func TestForget_HardDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "gone", 0, nil)
	f.seed(t, "tombstoned", 0, func(m *types.Memory) { m.IsDeleted = true })

	res, err := f.client.Forget(ctx, &core.ForgetRequest{TenantID: "acme", UserID: "u1", HardDelete: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone", "tombstoned"}, res.Forgotten)

	for _, id := range []string{"gone", "tombstoned"} {
		_, err := f.store.Get(ctx, id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func TestForget_ItemFailuresDoNotAbort(t *testing.T) {
	for _, hard := range []bool{false, true} {
		f := newFixtureOn(t, failWritesTo("f2"))
		ctx := context.Background()
		for _, id := range []string{"f1", "f2", "f3"} {
			f.seed(t, id, 0, nil)
		}

		res, err := f.client.Forget(ctx, &core.ForgetRequest{TenantID: "acme", UserID: "u1", HardDelete: hard})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Evaluated)
		assert.ElementsMatch(t, []string{"f1", "f3"}, res.Forgotten, "hard %v", hard)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, "f2", res.Errors[0].MemoryID)
		assert.Equal(t, "forget", res.Errors[0].Action)
		assert.ErrorIs(t, res.Errors[0], core.ErrStorage)
		assert.ErrorIs(t, res.Errors[0], errDiskFull)

		_, err = f.client.Get(ctx, "acme", "u1", "f2")
		assert.NoError(t, err)
	}
}

func TestForget_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  *core.ForgetRequest
	}{
		{"nil request", nil},
		{"missing tenant", &core.ForgetRequest{UserID: "u1"}},
		{"decay threshold out of range", &core.ForgetRequest{TenantID: "acme", DecayThreshold: float64Ptr(1.5)}},
		{"importance threshold out of range", &core.ForgetRequest{TenantID: "acme", ImportanceThreshold: float64Ptr(-0.1)}},
		{"unknown type", &core.ForgetRequest{TenantID: "acme", Types: []types.MemoryType{"rumour"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.Forget(context.Background(), tt.req)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}
