package intelligence

import (
	"fmt"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Action is the consolidation outcome for a single memory.
type Action string

const (
	ActionDelete  Action = "delete"
	ActionDemote  Action = "demote"
	ActionPromote Action = "promote"
	ActionArchive Action = "archive"
	ActionKeep    Action = "keep"
)

// LifecycleConfig holds the thresholds of the consolidation rules.
type LifecycleConfig struct {
	// DeleteBelowDecay soft-deletes memories whose decay drops below it.
	DeleteBelowDecay float64 `json:"delete_below_decay" yaml:"delete_below_decay"`

	// DemoteBelowImportance and DemoteBelowDecay must both hold to demote.
	DemoteBelowImportance float64 `json:"demote_below_importance" yaml:"demote_below_importance"`
	DemoteBelowDecay      float64 `json:"demote_below_decay" yaml:"demote_below_decay"`

	// PromoteMinAccess is the access count a memory must exceed to be
	// promoted. The importance bar is the tier's ConsolidationThreshold.
	PromoteMinAccess int `json:"promote_min_access" yaml:"promote_min_access"`

	// ArchiveAfter is the age past which important long-term memories are
	// archived.
	ArchiveAfter time.Duration `json:"archive_after" yaml:"archive_after"`

	// ArchiveMinImportance is the importance an archived memory must exceed.
	ArchiveMinImportance float64 `json:"archive_min_importance" yaml:"archive_min_importance"`
}

// DefaultLifecycleConfig returns the default consolidation thresholds.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		DeleteBelowDecay:      0.1,
		DemoteBelowImportance: 0.3,
		DemoteBelowDecay:      0.3,
		PromoteMinAccess:      3,
		ArchiveAfter:          90 * 24 * time.Hour,
		ArchiveMinImportance:  0.5,
	}
}

// Decision is the planned consolidation step for one memory.
type Decision struct {
	Action Action     `json:"action"`
	From   types.Tier `json:"from"`
	To     types.Tier `json:"to,omitempty"`

	// Decay is the recalculated decay score.
	Decay  float64 `json:"decay"`
	Reason string  `json:"reason"`
}

// LifecycleManager decides how consolidation moves a memory through the
// tiers. It only plans; applying a decision is the caller's job, so the
// same code path serves dry runs.
//
// Rules are evaluated in order and the first match wins:
//  1. decay below DeleteBelowDecay: delete
//  2. low importance and low decay: demote, or delete without a target
//  3. importance above the tier threshold and enough accesses: promote
//  4. old, important long-term memory: archive to episodic
//  5. otherwise keep, persisting the new decay
type LifecycleManager struct {
	decay  *DecayCalculator
	policy types.TierPolicy
	cfg    LifecycleConfig
}

// NewLifecycleManager creates a lifecycle manager. A nil policy uses the
// default tier policy.
func NewLifecycleManager(decay *DecayCalculator, policy types.TierPolicy, cfg LifecycleConfig) *LifecycleManager {
	if policy == nil {
		policy = types.DefaultTierPolicy()
	}
	if decay == nil {
		decay = NewDecayCalculator(DefaultDecayConfig())
	}
	return &LifecycleManager{decay: decay, policy: policy, cfg: cfg}
}

// Decide recalculates the decay of m at now and returns the first matching
// action. hasRoom reports whether a tier can take another memory for m's
// user; a nil hasRoom treats every tier as unbounded. A promotion into a
// full tier is skipped and evaluation continues with the next rule.
func (l *LifecycleManager) Decide(m *types.Memory, now time.Time, hasRoom func(types.Tier) bool) Decision {
	decay := l.decay.Recalculate(m, now)
	d := Decision{From: m.Tier, Decay: decay}

	if decay < l.cfg.DeleteBelowDecay {
		d.Action = ActionDelete
		d.Reason = fmt.Sprintf("decay %.3f below %.2f", decay, l.cfg.DeleteBelowDecay)
		return d
	}

	if m.ImportanceScore < l.cfg.DemoteBelowImportance && decay < l.cfg.DemoteBelowDecay {
		if to, ok := m.Tier.Demotion(); ok {
			d.Action = ActionDemote
			d.To = to
			d.Reason = fmt.Sprintf("importance %.3f and decay %.3f are low", m.ImportanceScore, decay)
			return d
		}
		d.Action = ActionDelete
		d.Reason = fmt.Sprintf("no demotion target from %s", m.Tier)
		return d
	}

	threshold := l.policy.Config(m.Tier).ConsolidationThreshold
	if m.ImportanceScore > threshold && m.Metadata.AccessCount > l.cfg.PromoteMinAccess && m.Tier != types.TierLongTerm {
		if to, ok := m.Tier.Promotion(); ok && (hasRoom == nil || hasRoom(to)) {
			d.Action = ActionPromote
			d.To = to
			d.Reason = fmt.Sprintf("importance %.3f above %.2f with %d accesses", m.ImportanceScore, threshold, m.Metadata.AccessCount)
			return d
		}
	}

	if m.Tier == types.TierLongTerm && now.Sub(m.Metadata.CreatedAt) > l.cfg.ArchiveAfter && m.ImportanceScore > l.cfg.ArchiveMinImportance {
		if to, ok := m.Tier.Archival(); ok {
			d.Action = ActionArchive
			d.To = to
			d.Reason = "aged long-term memory"
			return d
		}
	}

	d.Action = ActionKeep
	return d
}

// DecayRateFor returns the decay rate a memory receives when it enters tier t.
func (l *LifecycleManager) DecayRateFor(t types.Tier) float64 {
	return l.policy.Config(t).DecayRatePerDay
}

// Policy returns the tier policy.
func (l *LifecycleManager) Policy() types.TierPolicy {
	return l.policy
}
