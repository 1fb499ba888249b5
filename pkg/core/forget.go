package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// defaultProtectedImportance protects memories from Forget when the caller
// asks for protection without giving a threshold.
const defaultProtectedImportance = 0.8

// Forget removes the memories matching every criterion of req.
//
// Storage filters on identity, scope, types, tags, ids, decay and age; the
// keyword and importance filters are applied here. With SkipHighImportance,
// memories at or above ImportanceThreshold (0.8 when nil) are kept and
// reported in Skipped, as are memories matching no keyword.
//
// Deletion is soft unless req.HardDelete is set. A failure on one memory is
// recorded in the result and does not stop the others.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The selection criteria
//
// Returns the ids that were forgotten and those that were skipped.
//
// Example:
//
//	threshold := 0.2
//	res, err := client.Forget(ctx, &core.ForgetRequest{
//	    TenantID:           "acme",
//	    UserID:             "user_001",
//	    DecayThreshold:     &threshold,
//	    SkipHighImportance: true,
//	})
func (c *Client) Forget(ctx context.Context, req *ForgetRequest) (res *ForgetResult, err error) {
	if req == nil {
		return nil, NewMemoryError("Forget", &ValidationError{Field: "request", Reason: "is required"})
	}
	ctx, end := c.begin(ctx, "Forget", req.TenantID, req.UserID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Forget", err)
	}
	if err := validateRequest(req); err != nil {
		return nil, NewMemoryError("Forget", err)
	}

	candidates, err := c.store.FindByCriteria(ctx, toCriteria(req, c.now()))
	if err != nil {
		return nil, NewMemoryError("Forget", storageErr(err))
	}

	threshold := defaultProtectedImportance
	if req.ImportanceThreshold != nil {
		threshold = *req.ImportanceThreshold
	}

	res = &ForgetResult{Forgotten: []string{}, Skipped: []string{}, Evaluated: len(candidates)}
	for _, m := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !c.forgettable(m, req, threshold) {
			res.Skipped = append(res.Skipped, m.ID)
			continue
		}

		var delErr error
		if req.HardDelete {
			delErr = c.store.HardDelete(ctx, m.ID)
		} else {
			delErr = c.store.SoftDelete(ctx, m.ID)
		}
		if delErr != nil {
			c.logger.Warn("forget failed", zap.String("memory_id", m.ID), zap.Error(delErr))
			res.Errors = append(res.Errors, &ItemError{MemoryID: m.ID, Action: "forget", Err: storageErr(delErr)})
			continue
		}
		res.Forgotten = append(res.Forgotten, m.ID)
	}

	c.metrics.observeForget(len(res.Forgotten), req.HardDelete)
	c.logger.Info("forget finished",
		zap.String("tenant_id", req.TenantID),
		zap.String("user_id", req.UserID),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("forgotten", len(res.Forgotten)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Bool("hard", req.HardDelete))
	return res, nil
}

func (c *Client) forgettable(m *types.Memory, req *ForgetRequest, importanceThreshold float64) bool {
	if len(req.ContainsKeywords) > 0 && !containsAnyFold(m.Content, req.ContainsKeywords) {
		return false
	}
	if req.SkipHighImportance && m.ImportanceScore >= importanceThreshold {
		return false
	}
	return true
}
