package core

import (
	"strings"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// toSearchFilters converts a retrieval request into storage search filters.
// The candidate set is over-fetched so that re-ranking has room to work.
func (c *Client) toSearchFilters(req *RetrieveRequest, opts *RetrieveOptions, now time.Time) *storage.SearchFilters {
	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = c.policy.IndexedTiers()
	}
	return &storage.SearchFilters{
		ScopeID:       req.ScopeID,
		Tiers:         tiers,
		Types:         req.Types,
		Tags:          req.Tags,
		MinSimilarity: opts.SimilarityThreshold,
		ExcludeIDs:    req.ExcludeIDs,
		NotExpiredAt:  now,
		Limit:         opts.Limit * c.cfg.OverFetchFactor,
	}
}

// toCriteria converts a forget request into storage criteria. Keyword and
// importance filters are applied by the caller.
func toCriteria(req *ForgetRequest, now time.Time) *storage.Criteria {
	criteria := &storage.Criteria{
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		ScopeID:        req.ScopeID,
		Types:          req.Types,
		Tags:           req.Tags,
		IDs:            req.MemoryIDs,
		MaxDecay:       req.DecayThreshold,
		IncludeDeleted: req.HardDelete,
	}
	if req.OlderThanDays > 0 {
		cutoff := now.Add(-time.Duration(req.OlderThanDays * float64(24*time.Hour)))
		criteria.CreatedBefore = &cutoff
	}
	return criteria
}

// newStructuredData wraps attributes in a StructuredData of the memory's
// type. Empty attributes yield nil.
func newStructuredData(t types.MemoryType, attrs map[string]string) *types.StructuredData {
	if len(attrs) == 0 {
		return nil
	}
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &types.StructuredData{Type: t, Attributes: copied}
}

// unionStrings appends the values of add missing from base, keeping order
// and dropping blanks. The result never aliases base.
func unionStrings(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			if strings.TrimSpace(s) == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// mergeCustom returns base overlaid with add. Nil when both are empty.
func mergeCustom(base, add types.Custom) types.Custom {
	if len(base) == 0 && len(add) == 0 {
		return nil
	}
	out := make(types.Custom, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// containsAnyFold reports whether s contains one of the keywords, ignoring
// case.
func containsAnyFold(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func requireIDs(tenantID, userID, id string) error {
	switch {
	case strings.TrimSpace(tenantID) == "":
		return &ValidationError{Field: "TenantID", Reason: "is required"}
	case strings.TrimSpace(userID) == "":
		return &ValidationError{Field: "UserID", Reason: "is required"}
	case strings.TrimSpace(id) == "":
		return &ValidationError{Field: "ID", Reason: "is required"}
	}
	return nil
}
