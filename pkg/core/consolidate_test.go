package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/core"
	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/lease"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

const day = 24 * time.Hour

func consolidateReq() *core.ConsolidateRequest {
	return &core.ConsolidateRequest{TenantID: "acme", IncludePlan: true}
}

// seedLifecycle seeds one memory per consolidation outcome.
func seedLifecycle(t *testing.T, f *fixture) map[intelligence.Action]string {
	t.Helper()
	ids := map[intelligence.Action]string{}

	ids[intelligence.ActionDelete] = f.seed(t, "a-delete", 2*day, func(m *types.Memory) {
		m.Decay.Score = 0.08
	}).ID
	ids[intelligence.ActionDemote] = f.seed(t, "b-demote", 2*day, func(m *types.Memory) {
		m.Tier = types.TierLongTerm
		m.ImportanceScore = 0.2
		m.Decay.Score = 0.25
		m.Decay.RatePerDay = 0.02
	}).ID
	ids[intelligence.ActionPromote] = f.seed(t, "c-promote", 2*day, func(m *types.Memory) {
		m.ImportanceScore = 0.8
		m.Metadata.AccessCount = 5
	}).ID
	ids[intelligence.ActionArchive] = f.seed(t, "d-archive", 100*day, func(m *types.Memory) {
		m.Tier = types.TierLongTerm
		m.ImportanceScore = 0.6
		m.Decay.RatePerDay = 0.02
	}).ID
	ids[intelligence.ActionKeep] = f.seed(t, "e-keep", 2*day, nil).ID
	return ids
}

func TestConsolidate_AppliesLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedLifecycle(t, f)

	res, err := f.client.Consolidate(ctx, consolidateReq())
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Demoted)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Batches)
	require.Len(t, res.Plan, 5)

	_, err = f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionDelete])
	assert.ErrorIs(t, err, core.ErrMemoryNotFound)

	demoted, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionDemote])
	require.NoError(t, err)
	assert.Equal(t, types.TierShortTerm, demoted.Tier)
	assert.InDelta(t, 0.1, demoted.Decay.RatePerDay, 1e-9)

	promoted, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionPromote])
	require.NoError(t, err)
	assert.Equal(t, types.TierLongTerm, promoted.Tier)
	assert.InDelta(t, 0.02, promoted.Decay.RatePerDay, 1e-9)
	assert.Less(t, promoted.Decay.Score, 1.0)
	assert.Equal(t, f.clock.Now(), promoted.Decay.LastCalculated)

	archived, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionArchive])
	require.NoError(t, err)
	assert.Equal(t, types.TierEpisodic, archived.Tier)

	kept, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionKeep])
	require.NoError(t, err)
	assert.Equal(t, types.TierShortTerm, kept.Tier)
	assert.Less(t, kept.Decay.Score, 1.0)
	assert.Equal(t, f.clock.Now(), kept.Decay.LastCalculated)
}

func TestConsolidate_DryRunIsPure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedLifecycle(t, f)

	before := map[string]*types.Memory{}
	for _, id := range ids {
		m, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		before[id] = m
	}

	req := consolidateReq()
	req.DryRun = true
	planned, err := f.client.Consolidate(ctx, req)
	require.NoError(t, err)
	assert.True(t, planned.DryRun)

	for id, want := range before {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "dry run changed %s", id)
	}

	applied, err := f.client.Consolidate(ctx, consolidateReq())
	require.NoError(t, err)
	assert.Equal(t, planned.Processed, applied.Processed)
	assert.Equal(t, planned.Deleted, applied.Deleted)
	assert.Equal(t, planned.Demoted, applied.Demoted)
	assert.Equal(t, planned.Promoted, applied.Promoted)
	assert.Equal(t, planned.Archived, applied.Archived)
	assert.Equal(t, planned.Kept, applied.Kept)
}

func TestConsolidate_SkipsYoungMemories(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "young", time.Hour, func(m *types.Memory) {
		m.Decay.Score = 0.01
	})

	res, err := f.client.Consolidate(context.Background(), consolidateReq())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	_, err = f.client.Get(context.Background(), "acme", "u1", "young")
	assert.NoError(t, err)
}

func TestConsolidate_Batches(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		f.seed(t, id, 2*day, nil)
	}

	req := consolidateReq()
	req.BatchSize = 2
	res, err := f.client.Consolidate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 3, res.Batches)

	req.MaxBatches = 2
	res, err = f.client.Consolidate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 2, res.Batches)
}

func TestConsolidate_PromotionRespectsCapacity(t *testing.T) {
	policy := types.DefaultTierPolicy()
	long := policy[types.TierLongTerm]
	long.MaxMemories = 1
	policy[types.TierLongTerm] = long
	f := newFixture(t, core.WithTierPolicy(policy))

	for _, id := range []string{"p1", "p2"} {
		f.seed(t, id, 2*day, func(m *types.Memory) {
			m.ImportanceScore = 0.8
			m.Metadata.AccessCount = 5
		})
	}

	req := consolidateReq()
	req.DryRun = true
	planned, err := f.client.Consolidate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, planned.Promoted)
	assert.Equal(t, 1, planned.Kept)

	res, err := f.client.Consolidate(context.Background(), consolidateReq())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 1, res.Kept)
}

func TestConsolidate_DryRunSeesFreedCapacity(t *testing.T) {
	policy := types.DefaultTierPolicy()
	long := policy[types.TierLongTerm]
	long.MaxMemories = 1
	policy[types.TierLongTerm] = long

	seed := func(t *testing.T, f *fixture) {
		// Batch 1 demotes the only long-term memory, batch 2 promotes into
		// the slot it frees.
		f.seed(t, "a-demote", 2*day, func(m *types.Memory) {
			m.Tier = types.TierLongTerm
			m.ImportanceScore = 0.2
			m.Decay.Score = 0.25
			m.Decay.RatePerDay = 0.02
		})
		f.seed(t, "b-promote", 2*day, func(m *types.Memory) {
			m.ImportanceScore = 0.8
			m.Metadata.AccessCount = 5
		})
	}

	for _, dryRun := range []bool{true, false} {
		f := newFixture(t, core.WithTierPolicy(policy))
		seed(t, f)

		req := consolidateReq()
		req.BatchSize = 1
		req.DryRun = dryRun
		res, err := f.client.Consolidate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Batches, "dry run %v", dryRun)
		assert.Equal(t, 1, res.Demoted, "dry run %v", dryRun)
		assert.Equal(t, 1, res.Promoted, "dry run %v", dryRun)
		assert.Equal(t, 0, res.Kept, "dry run %v", dryRun)
	}
}

func TestConsolidate_ItemFailuresDoNotAbortBatch(t *testing.T) {
	f := newFixtureOn(t, failWritesTo("a-delete", "c-promote"))
	ctx := context.Background()
	ids := seedLifecycle(t, f)

	res, err := f.client.Consolidate(ctx, consolidateReq())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 0, res.Promoted)
	assert.Equal(t, 1, res.Demoted)
	assert.Equal(t, 1, res.Archived)
	assert.Equal(t, 1, res.Kept)

	require.Len(t, res.Errors, 2)
	failed := map[string]string{}
	for _, itemErr := range res.Errors {
		failed[itemErr.MemoryID] = itemErr.Action
		assert.ErrorIs(t, itemErr, core.ErrStorage)
		assert.ErrorIs(t, itemErr, errDiskFull)
	}
	assert.Equal(t, map[string]string{"a-delete": "delete", "c-promote": "promote"}, failed)

	demoted, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionDemote])
	require.NoError(t, err)
	assert.Equal(t, types.TierShortTerm, demoted.Tier)
	archived, err := f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionArchive])
	require.NoError(t, err)
	assert.Equal(t, types.TierEpisodic, archived.Tier)
	_, err = f.client.Get(ctx, "acme", "u1", ids[intelligence.ActionDelete])
	assert.NoError(t, err)
}

func TestConsolidate_MergeMemberFailure(t *testing.T) {
	f := newFixtureOn(t, failWritesTo("x2"))
	ctx := context.Background()
	f.seed(t, "x1", 2*day, func(m *types.Memory) { m.ImportanceScore = 0.7 })
	f.seed(t, "x2", 2*day, nil)
	f.seed(t, "x3", 2*day, nil)

	req := consolidateReq()
	req.Merge = true
	res, err := f.client.Consolidate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "x2", res.Errors[0].MemoryID)
	assert.Equal(t, "merge", res.Errors[0].Action)

	_, err = f.client.Get(ctx, "acme", "u1", "x2")
	assert.NoError(t, err)
	_, err = f.client.Get(ctx, "acme", "u1", "x3")
	assert.ErrorIs(t, err, core.ErrMemoryNotFound)
}

func TestConsolidate_Merge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "x1", 2*day, func(m *types.Memory) {
		m.Content = "User works at DNB"
		m.ImportanceScore = 0.7
		m.Tags = []string{"work"}
	})
	f.seed(t, "x2", 2*day, func(m *types.Memory) {
		m.Content = "User works at DNB in Oslo"
		m.Embedding.Vector = vec(1, 0.05)
		m.Tags = []string{"oslo"}
	})
	f.seed(t, "x3", 2*day, func(m *types.Memory) {
		m.Content = "User is at DNB"
		m.Embedding.Vector = vec(1, 0, 0.05)
	})
	f.seed(t, "y1", 2*day, func(m *types.Memory) {
		m.Content = "User likes jazz"
		m.Embedding.Vector = vec(0, 1)
	})

	req := consolidateReq()
	req.Merge = true
	res, err := f.client.Consolidate(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Merged)

	target, err := f.client.Get(ctx, "acme", "u1", "x1")
	require.NoError(t, err)
	assert.Equal(t, "User works at DNB in Oslo", target.Content)
	assert.Equal(t, 3, target.Confidence.Reinforcements)
	assert.Equal(t, types.BasisRepeated, target.Confidence.Basis)
	assert.ElementsMatch(t, []string{"work", "oslo"}, target.Tags)

	for _, id := range []string{"x2", "x3"} {
		_, err := f.client.Get(ctx, "acme", "u1", id)
		assert.ErrorIs(t, err, core.ErrMemoryNotFound)
	}
	_, err = f.client.Get(ctx, "acme", "u1", "y1")
	assert.NoError(t, err)
}

func TestConsolidate_LeaseBusy(t *testing.T) {
	locker := lease.NewLocal()
	f := newFixture(t, core.WithLocker(locker), engineConfig(func(cfg *core.EngineConfig) {
		cfg.LockTimeout = 20 * time.Millisecond
	}))

	release, err := locker.Acquire(context.Background(), "consolidate:acme", 0)
	require.NoError(t, err)
	defer release()

	_, err = f.client.Consolidate(context.Background(), consolidateReq())
	assert.ErrorIs(t, err, core.ErrConsolidationInProgress)

	// Other tenants are not blocked.
	_, err = f.client.Consolidate(context.Background(), &core.ConsolidateRequest{TenantID: "globex"})
	assert.NoError(t, err)
}

func TestConsolidate_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "m1", 2*day, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.Consolidate(ctx, consolidateReq())
	assert.ErrorIs(t, err, context.Canceled)
}
