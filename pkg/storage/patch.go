package storage

import (
	"fmt"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Patch is a partial update of a memory. Nil fields are left unchanged.
type Patch struct {
	Content        *string
	Embedding      *types.Embedding
	Tags           *[]string
	StructuredData *types.StructuredData

	// ClearStructuredData removes the structured payload.
	ClearStructuredData bool

	ImportanceScore *float64
	Confidence      *types.Confidence
	Decay           *types.Decay
	Tier            *types.Tier
	SourceRefs      *[]string
	Custom          *types.Custom
	ExpiresAt       *time.Time

	// ClearExpiresAt removes the expiry.
	ClearExpiresAt bool

	IsDeleted *bool

	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64
}

// ApplyPatch applies p to m in place, stamps UpdatedAt and bumps the
// version. It checks ExpectedVersion and the record invariants, so every
// Store implementation shares the same update semantics.
func ApplyPatch(m *types.Memory, p *Patch, now time.Time) error {
	if p == nil {
		return fmt.Errorf("%w: nil patch", ErrInvalidInput)
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != m.Version {
		return fmt.Errorf("%w: memory %s is at version %d, expected %d", ErrConflict, m.ID, m.Version, p.ExpectedVersion)
	}

	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Embedding != nil {
		e := *p.Embedding
		e.Vector = append([]float64(nil), p.Embedding.Vector...)
		m.Embedding = e
	}
	if p.Tags != nil {
		m.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.ClearStructuredData {
		m.StructuredData = nil
	}
	if p.StructuredData != nil {
		sd := *p.StructuredData
		m.StructuredData = &sd
	}
	if p.ImportanceScore != nil {
		m.ImportanceScore = *p.ImportanceScore
	}
	if p.Confidence != nil {
		m.Confidence = *p.Confidence
	}
	if p.Decay != nil {
		m.Decay = *p.Decay
	}
	if p.Tier != nil {
		m.Tier = *p.Tier
	}
	if p.SourceRefs != nil {
		m.Metadata.SourceRefs = append([]string(nil), (*p.SourceRefs)...)
	}
	if p.Custom != nil {
		m.Metadata.Custom = *p.Custom
	}
	if p.ClearExpiresAt {
		m.ExpiresAt = nil
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		m.ExpiresAt = &t
	}
	if p.IsDeleted != nil {
		m.IsDeleted = *p.IsDeleted
	}

	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	stamp(m, now)
	return nil
}

// stamp records a committed change.
func stamp(m *types.Memory, now time.Time) {
	m.Metadata.UpdatedAt = now
	m.Version++
}

// Mutation is a read-modify-write step used by stores to implement the
// single-field update methods. It returns false when m is already in the
// desired state and nothing must be written. Mutations stamp UpdatedAt and
// bump the version themselves, except AccessMutation: access counters are
// commutative and must not invalidate a concurrent versioned update.
type Mutation func(m *types.Memory) (bool, error)

// TierMutation moves a memory from one tier to another.
func TierMutation(from, to types.Tier, now time.Time) Mutation {
	return func(m *types.Memory) (bool, error) {
		if m.Tier == to {
			return false, nil
		}
		if m.Tier != from {
			return false, fmt.Errorf("%w: memory %s is in tier %s, not %s", ErrConflict, m.ID, m.Tier, from)
		}
		m.Tier = to
		stamp(m, now)
		return true, nil
	}
}

// DecayMutation stores a recalculated decay score.
func DecayMutation(score float64, calculatedAt time.Time) Mutation {
	return func(m *types.Memory) (bool, error) {
		m.Decay.Score = types.Clamp01(score)
		m.Decay.LastCalculated = calculatedAt
		stamp(m, calculatedAt)
		return true, nil
	}
}

// AccessMutation records a retrieval.
func AccessMutation(accessedAt time.Time) Mutation {
	return func(m *types.Memory) (bool, error) {
		t := accessedAt
		m.Metadata.LastAccessedAt = &t
		m.Metadata.AccessCount++
		return true, nil
	}
}

// SoftDeleteMutation marks a memory deleted.
func SoftDeleteMutation(now time.Time) Mutation {
	return func(m *types.Memory) (bool, error) {
		if m.IsDeleted {
			return false, nil
		}
		m.IsDeleted = true
		stamp(m, now)
		return true, nil
	}
}

// PatchMutation applies a patch.
func PatchMutation(p *Patch, now time.Time) Mutation {
	return func(m *types.Memory) (bool, error) {
		if err := ApplyPatch(m, p, now); err != nil {
			return false, err
		}
		return true, nil
	}
}
