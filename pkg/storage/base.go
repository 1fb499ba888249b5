// Package storage defines the storage port of the memory engine.
//
// It defines the Store interface that all storage implementations must satisfy,
// along with the query and patch types they accept. Implementations live in
// subpackages: memory (in-process), sqlite, postgres (pgvector) and oceanbase,
// the last three sharing the database/sql client in sqlstore.
package storage

import (
	"context"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// SearchResult is a memory returned by vector search together with its
// cosine similarity to the query.
type SearchResult struct {
	Memory     *types.Memory
	Similarity float64
}

// Store defines the interface for storage backends.
//
// All storage implementations (memory, SQLite, PostgreSQL, OceanBase) must
// implement this interface. Implementations must be safe for concurrent use.
//
// Errors: a missing id yields ErrNotFound, a failed version or tier
// precondition yields ErrConflict, a malformed record yields ErrInvalidInput.
// Anything else is a backend failure and may be retried.
type Store interface {
	// Save inserts a new memory. Saving an existing id returns ErrConflict.
	Save(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by id, including soft-deleted ones.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Update applies a patch and returns the updated memory.
	//
	// If patch.ExpectedVersion is non-zero and differs from the stored
	// version, the update fails with ErrConflict. Every successful update
	// bumps the version by one.
	Update(ctx context.Context, id string, patch *Patch) (*types.Memory, error)

	// SoftDelete marks a memory as deleted. Deleting an already deleted
	// memory is a no-op.
	SoftDelete(ctx context.Context, id string) error

	// HardDelete permanently removes a memory.
	HardDelete(ctx context.Context, id string) error

	// VectorSearch returns non-deleted memories of one (tenant, user) scope
	// ordered by cosine similarity to vector, highest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - vector: Query embedding vector
	//   - tenantID, userID: The scope to search; never crossed
	//   - filters: Scope, tier, type, tag and similarity filters (nil means none)
	VectorSearch(ctx context.Context, vector []float64, tenantID, userID string, filters *SearchFilters) ([]SearchResult, error)

	// CountByUser counts the non-deleted memories of a user.
	CountByUser(ctx context.Context, tenantID, userID string) (int, error)

	// CountByTier counts the non-deleted memories of a user in one tier.
	CountByTier(ctx context.Context, tenantID, userID string, tier types.Tier) (int, error)

	// GetForConsolidation returns non-deleted consolidation candidates of a
	// tenant (optionally one user) ordered by id.
	GetForConsolidation(ctx context.Context, tenantID, userID string, query *ConsolidationQuery) ([]*types.Memory, error)

	// FindByCriteria returns memories matching a criteria filter.
	FindByCriteria(ctx context.Context, criteria *Criteria) ([]*types.Memory, error)

	// UpdateTier moves a memory from one tier to another. It is a no-op when
	// the memory is already in tier to, and fails with ErrConflict when it is
	// in neither from nor to.
	UpdateTier(ctx context.Context, id string, from, to types.Tier) error

	// UpdateDecay stores a decay score recalculated at calculatedAt.
	UpdateDecay(ctx context.Context, id string, score float64, calculatedAt time.Time) error

	// UpdateAccess increments the access count and records the access time.
	UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error

	// Close closes the store and releases resources.
	Close() error
}
