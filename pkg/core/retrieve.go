package core

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Relevance weights of the ranking formula.
const (
	similarityWeight = 0.5
	recencyWeight    = 0.2
	importanceWeight = 0.2
	decayWeight      = 0.1
)

// Retrieve returns the memories of a user most relevant to a query.
//
// Candidates come from a vector search over the vector-indexed tiers (or
// req.Tiers), over-fetched by EngineConfig.OverFetchFactor. Each candidate
// is ranked by
//
//	similarity*0.5 + recency*0.2 + importance*0.2 + decay*0.1
//
// where recency is exp(-days since last activity / RecencyScaleDays) and
// decay is recalculated at query time. The boost options scale the recency
// and importance terms. Expired memories are never returned.
//
// Access counts of the returned memories are updated in the background; a
// failure there is logged and never fails the call.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The query and its filters
//   - opts: Ranking options (WithLimit, WithDiversitySampling, ...)
//
// Returns at most the requested number of memories, best first.
//
// Example:
//
//	res, err := client.Retrieve(ctx, &core.RetrieveRequest{
//	    Query:    "where does the user work",
//	    TenantID: "acme",
//	    UserID:   "user_001",
//	}, core.WithLimit(5), core.WithDiversitySampling(0))
func (c *Client) Retrieve(ctx context.Context, req *RetrieveRequest, opts ...RetrieveOption) (res *RetrieveResult, err error) {
	if req == nil {
		return nil, NewMemoryError("Retrieve", &ValidationError{Field: "request", Reason: "is required"})
	}
	ctx, end := c.begin(ctx, "Retrieve", req.TenantID, req.UserID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Retrieve", err)
	}
	if err := validateRequest(req); err != nil {
		return nil, NewMemoryError("Retrieve", err)
	}
	options := applyRetrieveOptions(c.cfg, opts)

	emb, err := c.embed(ctx, req.Query)
	if err != nil {
		return nil, NewMemoryError("Retrieve", err)
	}

	now := c.now()
	results, err := c.store.VectorSearch(ctx, emb.Vector, req.TenantID, req.UserID, c.toSearchFilters(req, options, now))
	if err != nil {
		return nil, NewMemoryError("Retrieve", storageErr(err))
	}

	scored := make([]*ScoredMemory, 0, len(results))
	for _, r := range results {
		if r.Memory.Expired(now) || r.Similarity < options.SimilarityThreshold {
			continue
		}
		if r.Memory.Embedding.Model != emb.Model {
			c.logger.Debug("skipping memory embedded by another model",
				zap.String("memory_id", r.Memory.ID),
				zap.String("model", r.Memory.Embedding.Model))
			continue
		}
		scored = append(scored, c.rank(r.Memory, r.Similarity, now, options))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})
	total := len(scored)

	if options.DiversitySampling && len(scored) > 1 {
		vectors := make([][]float64, len(scored))
		for i, s := range scored {
			vectors[i] = s.Memory.Embedding.Vector
		}
		admitted := intelligence.DiversitySample(vectors, options.DiversityThreshold)
		diverse := make([]*ScoredMemory, 0, len(admitted))
		for _, i := range admitted {
			diverse = append(diverse, scored[i])
		}
		scored = diverse
	}
	if len(scored) > options.Limit {
		scored = scored[:options.Limit]
	}

	c.recordAccess(scored, now)
	return &RetrieveResult{Memories: scored, TotalCandidates: total}, nil
}

func (c *Client) rank(m *types.Memory, similarity float64, now time.Time, opts *RetrieveOptions) *ScoredMemory {
	days := now.Sub(m.LastActivity()).Hours() / 24
	if days < 0 {
		days = 0
	}
	s := &ScoredMemory{
		Memory:     m,
		Similarity: similarity,
		Recency:    math.Exp(-days / c.cfg.RecencyScaleDays),
		Importance: m.ImportanceScore,
		Decay:      c.decay.Recalculate(m, now),
	}
	s.Relevance = s.Similarity*similarityWeight +
		s.Recency*opts.RecencyBoost*recencyWeight +
		s.Importance*opts.ImportanceBoost*importanceWeight +
		s.Decay*decayWeight
	return s
}

// recordAccess bumps the access counters of retrieved memories in the
// background.
func (c *Client) recordAccess(scored []*ScoredMemory, at time.Time) {
	if len(scored) == 0 {
		return
	}
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.Memory.ID
	}
	c.goBackground("access_update", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.BackgroundTimeout)
		defer cancel()
		var errs []error
		for _, id := range ids {
			if err := c.store.UpdateAccess(ctx, id, at); err != nil {
				errs = append(errs, storageErr(err))
			}
		}
		return errors.Join(errs...)
	})
}
