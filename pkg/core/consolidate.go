package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/lease"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Consolidate moves the memories of a tenant, or of one user, through the
// tiers.
//
// Only one consolidation per tenant runs at a time; a second caller waits
// up to EngineConfig.LockTimeout and then fails with
// ErrConsolidationInProgress. Memories younger than MinAge are skipped.
// Candidates are processed in id order, BatchSize at a time, for at most
// MaxBatches batches.
//
// Each memory gets exactly one action, the first rule that matches:
// delete when decay is below 0.1, demote when importance and decay are both
// below 0.3, promote when importance exceeds the tier threshold with more
// than 3 accesses and the target tier has room, archive long-term memories
// older than 90 days with importance above 0.5, otherwise keep with the
// recalculated decay. With req.Merge, near-identical memories of a batch
// are folded into their most important member.
//
// A failure on one memory is recorded in the result and does not stop the
// run. With req.DryRun nothing is written and the counts are the planned
// ones; they equal those of a real run over the same data.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The tenant, optional user and run options
//
// Returns the run report. When ctx is cancelled mid-run the report of the
// work done so far is returned together with the context error.
//
// Example:
//
//	res, err := client.Consolidate(ctx, &core.ConsolidateRequest{
//	    TenantID: "acme",
//	    DryRun:   true,
//	})
//	fmt.Printf("would promote %d, delete %d\n", res.Promoted, res.Deleted)
func (c *Client) Consolidate(ctx context.Context, req *ConsolidateRequest) (res *ConsolidationResult, err error) {
	if req == nil {
		return nil, NewMemoryError("Consolidate", &ValidationError{Field: "request", Reason: "is required"})
	}
	ctx, end := c.begin(ctx, "Consolidate", req.TenantID, req.UserID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Consolidate", err)
	}
	if err := validateRequest(req); err != nil {
		return nil, NewMemoryError("Consolidate", err)
	}

	release, err := c.locker.Acquire(ctx, "consolidate:"+req.TenantID, c.cfg.LockTimeout)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, lease.ErrTimeout):
			return nil, NewMemoryError("Consolidate", fmt.Errorf("%w: tenant %s", ErrConsolidationInProgress, req.TenantID))
		default:
			return nil, NewMemoryError("Consolidate", fmt.Errorf("%w: %w", ErrStorage, err))
		}
	}
	defer release()

	minAge, batchSize, maxBatches := c.cfg.MinAge, c.cfg.BatchSize, c.cfg.MaxBatches
	if req.MinAge > 0 {
		minAge = req.MinAge
	}
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}
	if req.MaxBatches > 0 {
		maxBatches = req.MaxBatches
	}

	now := c.now()
	run := &consolidation{
		client:  c,
		req:     req,
		now:     now,
		res:     &ConsolidationResult{DryRun: req.DryRun},
		planned: make(map[string]int),
	}
	cursor := ""
	for run.res.Batches < maxBatches {
		if err := ctx.Err(); err != nil {
			return run.res, err
		}
		batch, err := c.store.GetForConsolidation(ctx, req.TenantID, req.UserID, &storage.ConsolidationQuery{
			CreatedBefore: now.Add(-minAge),
			AfterID:       cursor,
			Limit:         batchSize,
		})
		if err != nil {
			return run.res, NewMemoryError("Consolidate", storageErr(err))
		}
		if len(batch) == 0 {
			break
		}
		run.res.Batches++
		cursor = batch[len(batch)-1].ID
		run.batch(ctx, batch)
		if len(batch) < batchSize {
			break
		}
	}

	c.metrics.observeConsolidation(run.res)
	c.logger.Info("consolidation finished",
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", req.UserID),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("processed", run.res.Processed),
		zap.Int("promoted", run.res.Promoted),
		zap.Int("demoted", run.res.Demoted),
		zap.Int("archived", run.res.Archived),
		zap.Int("merged", run.res.Merged),
		zap.Int("deleted", run.res.Deleted),
		zap.Int("errors", len(run.res.Errors)))
	return run.res, nil
}

// consolidation is the state of one Consolidate run.
type consolidation struct {
	client *Client
	req    *ConsolidateRequest
	now    time.Time
	res    *ConsolidationResult

	// planned is the net change of each (user, tier) not yet visible to
	// CountByTier: the moves into it planned in the current batch, and in a
	// dry run the moves in and out of every earlier batch.
	planned map[string]int
}

func (r *consolidation) batch(ctx context.Context, memories []*types.Memory) {
	c := r.client
	r.res.Processed += len(memories)

	plan := make([]*PlannedAction, len(memories))
	byID := make(map[string]*PlannedAction, len(memories))
	for i, m := range memories {
		d := c.lifecycle.Decide(m, r.now, r.hasRoom(ctx, m.UserID))
		if d.To != "" {
			r.planned[capacityKey(m.UserID, d.To)]++
		}
		plan[i] = &PlannedAction{MemoryID: m.ID, UserID: m.UserID, Decision: d}
		byID[m.ID] = plan[i]
	}

	var groups []*intelligence.MergeGroup
	if r.req.Merge {
		groups = r.mergeGroups(memories, byID)
	}
	if r.req.IncludePlan {
		r.res.Plan = append(r.res.Plan, plan...)
	}

	if r.req.DryRun {
		for _, p := range plan {
			if p.MergedInto != "" {
				r.res.Merged++
				r.release(p)
				continue
			}
			r.count(p.Action)
			if p.Action != intelligence.ActionKeep {
				r.planned[capacityKey(p.UserID, p.From)]--
			}
		}
		return
	}

	for i, p := range plan {
		if p.MergedInto != "" {
			continue
		}
		if err := r.apply(ctx, memories[i], p.Decision); err != nil {
			r.fail(p.MemoryID, string(p.Action), err)
			continue
		}
		r.count(p.Action)
	}
	for _, g := range groups {
		r.res.Merged += r.merge(ctx, g)
	}
	clear(r.planned)
}

// release books a merged-away memory as leaving its tier and drops the move
// its own decision planned, which a real run never applies.
func (r *consolidation) release(p *PlannedAction) {
	if p.To != "" {
		r.planned[capacityKey(p.UserID, p.To)]--
	}
	r.planned[capacityKey(p.UserID, p.From)]--
}

// hasRoom reports whether a tier can take one more memory of the user,
// counting moves planned earlier in this run. A failed count is treated as
// a full tier.
func (r *consolidation) hasRoom(ctx context.Context, userID string) func(types.Tier) bool {
	c := r.client
	return func(t types.Tier) bool {
		limit := c.policy.Config(t).MaxMemories
		if limit <= 0 {
			return true
		}
		n, err := c.store.CountByTier(ctx, r.req.TenantID, userID, t)
		if err != nil {
			c.logger.Warn("tier count failed, skipping promotion",
				zap.String("user_id", userID), zap.String("tier", string(t)), zap.Error(err))
			return false
		}
		return n+r.planned[capacityKey(userID, t)] < limit
	}
}

// mergeGroups groups the surviving memories of each (user, scope) and marks
// the merged-away members in the plan.
func (r *consolidation) mergeGroups(memories []*types.Memory, byID map[string]*PlannedAction) []*intelligence.MergeGroup {
	var order []string
	scopes := make(map[string][]*types.Memory)
	for _, m := range memories {
		if byID[m.ID].Action == intelligence.ActionDelete {
			continue
		}
		key := m.UserID + "\x00" + m.ScopeID
		if _, ok := scopes[key]; !ok {
			order = append(order, key)
		}
		scopes[key] = append(scopes[key], m)
	}

	var groups []*intelligence.MergeGroup
	for _, key := range order {
		for _, g := range intelligence.GroupSimilar(scopes[key], r.client.cfg.MergeThreshold) {
			for _, o := range g.Others {
				byID[o.ID].MergedInto = g.Target.ID
			}
			groups = append(groups, g)
		}
	}
	return groups
}

// apply writes one lifecycle decision.
func (r *consolidation) apply(ctx context.Context, m *types.Memory, d intelligence.Decision) error {
	c := r.client
	switch d.Action {
	case intelligence.ActionDelete:
		return storageErr(c.store.SoftDelete(ctx, m.ID))

	case intelligence.ActionPromote, intelligence.ActionDemote, intelligence.ActionArchive:
		if err := c.store.UpdateTier(ctx, m.ID, d.From, d.To); err != nil {
			return storageErr(err)
		}
		decay := m.Decay
		decay.Score = d.Decay
		decay.RatePerDay = c.lifecycle.DecayRateFor(d.To)
		decay.LastCalculated = r.now
		patch := &storage.Patch{Decay: &decay}
		if exp := c.policy.ExpiryFor(d.To, r.now); exp != nil {
			patch.ExpiresAt = exp
		} else if c.policy.Config(d.From).TTL != nil {
			patch.ClearExpiresAt = true
		}
		_, err := c.store.Update(ctx, m.ID, patch)
		return storageErr(err)

	case intelligence.ActionKeep:
		return storageErr(c.store.UpdateDecay(ctx, m.ID, d.Decay, r.now))
	}
	return fmt.Errorf("%w: unknown action %q", ErrValidation, d.Action)
}

// merge folds a group into its target: the target takes the longest
// content and its embedding, and one reinforcement per merged member.
// Members are soft-deleted only after the target was updated. It returns
// the number of members merged away.
func (r *consolidation) merge(ctx context.Context, g *intelligence.MergeGroup) int {
	c := r.client
	target, err := c.store.Get(ctx, g.Target.ID)
	if err == nil && target.IsDeleted {
		err = fmt.Errorf("%w: %s", ErrMemoryNotFound, target.ID)
	}
	if err != nil {
		r.fail(g.Target.ID, "merge", storageErr(err))
		return 0
	}

	conf := target.Confidence
	conf.Reinforcements += len(g.Others)
	conf.Score = types.Clamp01(conf.Score + c.decayCfg.ConfidenceStep*float64(len(g.Others)))
	conf.Basis = types.BasisRepeated
	conf.LastUpdated = r.now

	tags, refs := target.Tags, target.Metadata.SourceRefs
	for _, o := range g.Others {
		tags = unionStrings(tags, o.Tags)
		refs = unionStrings(refs, o.Metadata.SourceRefs)
	}
	patch := &storage.Patch{
		Confidence:      &conf,
		Tags:            &tags,
		SourceRefs:      &refs,
		ExpectedVersion: target.Version,
	}
	if g.Longest.ID != target.ID {
		content, emb := g.Longest.Content, g.Longest.Embedding
		patch.Content = &content
		patch.Embedding = &emb
	}
	if _, err := c.store.Update(ctx, target.ID, patch); err != nil {
		r.fail(target.ID, "merge", storageErr(err))
		return 0
	}

	merged := 0
	for _, o := range g.Others {
		if err := c.store.SoftDelete(ctx, o.ID); err != nil {
			r.fail(o.ID, "merge", storageErr(err))
			continue
		}
		merged++
	}
	return merged
}

func (r *consolidation) count(a intelligence.Action) {
	switch a {
	case intelligence.ActionPromote:
		r.res.Promoted++
	case intelligence.ActionDemote:
		r.res.Demoted++
	case intelligence.ActionArchive:
		r.res.Archived++
	case intelligence.ActionDelete:
		r.res.Deleted++
	case intelligence.ActionKeep:
		r.res.Kept++
	}
}

func (r *consolidation) fail(id, action string, err error) {
	r.client.logger.Warn("consolidation step failed",
		zap.String("memory_id", id), zap.String("action", action), zap.Error(err))
	r.res.Errors = append(r.res.Errors, &ItemError{MemoryID: id, Action: action, Err: err})
}

func capacityKey(userID string, t types.Tier) string {
	return userID + "\x00" + string(t)
}
