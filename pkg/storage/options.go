package storage

import (
	"time"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// SearchFilters contains options for vector search.
type SearchFilters struct {
	// ScopeID restricts results to one sub-scope of the user.
	ScopeID string

	// Tiers restricts results to the given tiers. Empty means all tiers.
	Tiers []types.Tier

	// Types restricts results to the given memory types. Empty means all.
	Types []types.MemoryType

	// Tags keeps memories carrying at least one of the tags. Empty means all.
	Tags []string

	// MinSimilarity drops results below this cosine similarity.
	MinSimilarity float64

	// ExcludeIDs drops the listed memories.
	ExcludeIDs []string

	// NotExpiredAt, when set, drops memories whose ExpiresAt is at or before it.
	NotExpiredAt time.Time

	// Limit sets the maximum number of results to return. Zero means no limit.
	Limit int
}

// ConsolidationQuery selects a batch of consolidation candidates.
type ConsolidationQuery struct {
	// CreatedBefore keeps memories created at or before this time.
	CreatedBefore time.Time

	// AfterID is the pagination cursor: only ids greater than it are returned.
	AfterID string

	// Limit is the batch size. Zero means no limit.
	Limit int
}

// Criteria is the filter used by forget and administrative scans.
type Criteria struct {
	// TenantID is required.
	TenantID string

	// UserID restricts to one user. Empty means the whole tenant.
	UserID string

	ScopeID string
	Types   []types.MemoryType

	// Tags keeps memories carrying at least one of the tags.
	Tags []string

	// IDs restricts to the listed memories.
	IDs []string

	// MaxDecay keeps memories whose decay score is at or below it.
	MaxDecay *float64

	// CreatedBefore keeps memories created at or before this time.
	CreatedBefore *time.Time

	// IncludeDeleted also returns soft-deleted memories.
	IncludeDeleted bool

	// Limit sets the maximum number of results. Zero means no limit.
	Limit int
}

// Matches reports whether m satisfies the criteria. Stores that cannot push
// every condition down to the backend use it as a final filter.
func (c *Criteria) Matches(m *types.Memory) bool {
	if m.TenantID != c.TenantID {
		return false
	}
	if c.UserID != "" && m.UserID != c.UserID {
		return false
	}
	if c.ScopeID != "" && m.ScopeID != c.ScopeID {
		return false
	}
	if !c.IncludeDeleted && m.IsDeleted {
		return false
	}
	if len(c.Types) > 0 && !containsType(c.Types, m.Type) {
		return false
	}
	if !m.HasAnyTag(c.Tags) {
		return false
	}
	if len(c.IDs) > 0 && !containsString(c.IDs, m.ID) {
		return false
	}
	if c.MaxDecay != nil && m.Decay.Score > *c.MaxDecay {
		return false
	}
	if c.CreatedBefore != nil && m.Metadata.CreatedAt.After(*c.CreatedBefore) {
		return false
	}
	return true
}

// Matches reports whether m passes the non-vector search filters.
func (f *SearchFilters) Matches(m *types.Memory) bool {
	if f == nil {
		return !m.IsDeleted
	}
	if m.IsDeleted {
		return false
	}
	if f.ScopeID != "" && m.ScopeID != f.ScopeID {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, m.Tier) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if !m.HasAnyTag(f.Tags) {
		return false
	}
	if len(f.ExcludeIDs) > 0 && containsString(f.ExcludeIDs, m.ID) {
		return false
	}
	if !f.NotExpiredAt.IsZero() && m.Expired(f.NotExpiredAt) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsTier(list []types.Tier, t types.Tier) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsType(list []types.MemoryType, t types.MemoryType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
