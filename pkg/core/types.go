package core

import (
	"time"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// StoreRequest describes one observed memory.
//
// Example:
//
//	req := &core.StoreRequest{
//	    TenantID: "acme",
//	    UserID:   "user_001",
//	    Type:     types.TypeFact,
//	    Content:  "User works at DNB",
//	    Source:   types.SourceExplicitStatement,
//	    Tags:     []string{"work"},
//	}
type StoreRequest struct {
	TenantID string `json:"tenant_id" validate:"notblank"`
	UserID   string `json:"user_id" validate:"notblank"`

	// ScopeID optionally narrows the memory to a sub-scope of the user.
	// Deduplication only looks inside the same scope when it is set.
	ScopeID string `json:"scope_id,omitempty"`

	Type    types.MemoryType `json:"type" validate:"memtype"`
	Content string           `json:"content" validate:"notblank"`
	Source  types.Source     `json:"source" validate:"source"`

	// StructuredData holds typed attributes. Its type is the memory type.
	StructuredData map[string]string `json:"structured_data,omitempty"`

	Tags       []string     `json:"tags,omitempty" validate:"dive,notblank"`
	SourceRefs []string     `json:"source_refs,omitempty"`
	Custom     types.Custom `json:"custom,omitempty"`

	// ExpiresAt overrides the tier's time-to-live.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Hints carry scoring signals the text cannot reveal.
	Hints intelligence.ScoringContext `json:"-"`
}

// StoreResult is the outcome of a successful Store.
type StoreResult struct {
	// Memory is the created or reinforced memory.
	Memory *types.Memory

	// Reinforced is true when an existing near-duplicate absorbed the input.
	Reinforced bool

	// Similarity is the similarity to the reinforced memory.
	Similarity float64

	// Importance is the score computed for the input and its breakdown.
	Importance intelligence.FamilyScores
}

// RetrieveRequest describes a retrieval query. Ranking knobs are passed as
// RetrieveOption values.
type RetrieveRequest struct {
	Query    string `json:"query" validate:"notblank"`
	TenantID string `json:"tenant_id" validate:"notblank"`
	UserID   string `json:"user_id" validate:"notblank"`
	ScopeID  string `json:"scope_id,omitempty"`

	// Tiers restricts the search. Empty means the vector-indexed tiers of
	// the tier policy.
	Tiers      []types.Tier       `json:"tiers,omitempty" validate:"dive,tier"`
	Types      []types.MemoryType `json:"types,omitempty" validate:"dive,memtype"`
	Tags       []string           `json:"tags,omitempty"`
	ExcludeIDs []string           `json:"exclude_ids,omitempty"`
}

// ScoredMemory is a retrieved memory with its relevance breakdown:
//
//	Relevance = Similarity*0.5 + Recency*0.2 + Importance*0.2 + Decay*0.1
type ScoredMemory struct {
	Memory *types.Memory `json:"memory"`

	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
	Decay      float64 `json:"decay"`
	Relevance  float64 `json:"relevance"`
}

// RetrieveResult is the ranked outcome of Retrieve.
type RetrieveResult struct {
	Memories []*ScoredMemory `json:"memories"`

	// TotalCandidates is the size of the candidate set before diversity
	// sampling and trimming.
	TotalCandidates int `json:"total_candidates"`
}

// ConsolidateRequest selects what a consolidation run processes.
type ConsolidateRequest struct {
	TenantID string `json:"tenant_id" validate:"notblank"`

	// UserID restricts the run to one user. Empty means the whole tenant.
	UserID string `json:"user_id,omitempty"`

	// DryRun computes the plan without touching storage.
	DryRun bool `json:"dry_run,omitempty"`

	// Merge folds near-identical memories of each batch into one.
	Merge bool `json:"merge,omitempty"`

	// IncludePlan returns the per-memory plan in the result.
	IncludePlan bool `json:"include_plan,omitempty"`

	// MinAge, BatchSize and MaxBatches override the engine defaults when
	// positive.
	MinAge     time.Duration `json:"min_age,omitempty" validate:"gte=0"`
	BatchSize  int           `json:"batch_size,omitempty" validate:"gte=0"`
	MaxBatches int           `json:"max_batches,omitempty" validate:"gte=0"`
}

// PlannedAction is the consolidation step of one memory.
type PlannedAction struct {
	MemoryID string `json:"memory_id"`
	UserID   string `json:"user_id"`
	intelligence.Decision

	// MergedInto names the surviving memory when this one is merged away.
	MergedInto string `json:"merged_into,omitempty"`
}

// ConsolidationResult reports a consolidation run. In a dry run the counts
// are the planned ones.
type ConsolidationResult struct {
	Processed int  `json:"processed"`
	Promoted  int  `json:"promoted"`
	Demoted   int  `json:"demoted"`
	Archived  int  `json:"archived"`
	Merged    int  `json:"merged"`
	Deleted   int  `json:"deleted"`
	Kept      int  `json:"kept"`
	Batches   int  `json:"batches"`
	DryRun    bool `json:"dry_run"`

	Errors []*ItemError     `json:"errors,omitempty"`
	Plan   []*PlannedAction `json:"plan,omitempty"`
}

// ForgetRequest selects memories to forget. All set criteria must hold.
type ForgetRequest struct {
	TenantID  string             `json:"tenant_id" validate:"notblank"`
	UserID    string             `json:"user_id,omitempty"`
	ScopeID   string             `json:"scope_id,omitempty"`
	Types     []types.MemoryType `json:"types,omitempty" validate:"dive,memtype"`
	Tags      []string           `json:"tags,omitempty"`
	MemoryIDs []string           `json:"memory_ids,omitempty"`

	// DecayThreshold keeps memories whose decay score is at or below it.
	DecayThreshold *float64 `json:"decay_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`

	// OlderThanDays keeps memories created at least this many days ago.
	OlderThanDays float64 `json:"older_than_days,omitempty" validate:"gte=0"`

	// ContainsKeywords keeps memories whose content contains at least one
	// keyword, ignoring case.
	ContainsKeywords []string `json:"contains_keywords,omitempty"`

	// SkipHighImportance protects memories whose importance is at or above
	// ImportanceThreshold, 0.8 when nil.
	SkipHighImportance  bool     `json:"skip_high_importance,omitempty"`
	ImportanceThreshold *float64 `json:"importance_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`

	// HardDelete erases memories instead of tombstoning them. Hard deletes
	// also reach memories that are already soft-deleted.
	HardDelete bool `json:"hard_delete,omitempty"`
}

// ForgetResult reports a forget run.
type ForgetResult struct {
	Forgotten []string     `json:"forgotten"`
	Skipped   []string     `json:"skipped"`
	Evaluated int          `json:"evaluated"`
	Errors    []*ItemError `json:"errors,omitempty"`
}

// UpdateRequest edits a memory. Nil fields are left unchanged.
type UpdateRequest struct {
	TenantID string `json:"tenant_id" validate:"notblank"`
	UserID   string `json:"user_id" validate:"notblank"`
	ID       string `json:"id" validate:"notblank"`

	// Content replaces the text. The memory is re-embedded and re-scored.
	Content *string `json:"content,omitempty" validate:"omitempty,notblank"`

	Tags           *[]string          `json:"tags,omitempty"`
	StructuredData *map[string]string `json:"structured_data,omitempty"`
	Custom         *types.Custom      `json:"custom,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	ClearExpiresAt bool               `json:"clear_expires_at,omitempty"`

	// ExpectedVersion, when non-zero, must match the stored version or the
	// update fails with ErrVersionConflict.
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}
