package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the lifecycle stage of a memory.
//
// Allowed transitions:
//
//	working    -> short-term              (promotion)
//	short-term -> long-term               (promotion)
//	long-term  -> short-term              (demotion, the only one)
//	short-term -> episodic                (archival, terminal)
//	long-term  -> episodic                (archival, terminal)
//
// Deletion is not a tier; it is the IsDeleted flag on Memory.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short-term"
	TierLongTerm  Tier = "long-term"
	TierEpisodic  Tier = "episodic"
)

// Tiers lists every tier in lifecycle order.
var Tiers = []Tier{TierWorking, TierShortTerm, TierLongTerm, TierEpisodic}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierWorking, TierShortTerm, TierLongTerm, TierEpisodic:
		return true
	}
	return false
}

// Promotion returns the next tier up, if any.
func (t Tier) Promotion() (Tier, bool) {
	switch t {
	case TierWorking:
		return TierShortTerm, true
	case TierShortTerm:
		return TierLongTerm, true
	}
	return "", false
}

// Demotion returns the demotion target, if any. Only long-term can be demoted.
func (t Tier) Demotion() (Tier, bool) {
	if t == TierLongTerm {
		return TierShortTerm, true
	}
	return "", false
}

// Archival returns the archival target, if any.
func (t Tier) Archival() (Tier, bool) {
	switch t {
	case TierShortTerm, TierLongTerm:
		return TierEpisodic, true
	}
	return "", false
}

// Terminal reports whether no transition leaves t.
func (t Tier) Terminal() bool {
	return t == TierEpisodic
}

// CanTransition reports whether from -> to is an edge of the tier graph.
func CanTransition(from, to Tier) bool {
	if next, ok := from.Promotion(); ok && next == to {
		return true
	}
	if next, ok := from.Demotion(); ok && next == to {
		return true
	}
	if next, ok := from.Archival(); ok && next == to {
		return true
	}
	return false
}

// BackendClass is the storage class a tier is meant to live in.
type BackendClass string

const (
	BackendCache    BackendClass = "cache"
	BackendDatabase BackendClass = "database"
	BackendArchive  BackendClass = "archive"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("24h") in JSON and YAML.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalText implements encoding.TextUnmarshaler (used by yaml.v3).
func (d *Duration) UnmarshalText(b []byte) error {
	return d.parse(string(b))
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// TierConfig holds the retention policy of one tier.
type TierConfig struct {
	// TTL is the default time-to-live of memories created in the tier.
	// Nil means memories never expire on their own.
	TTL *Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`

	// MaxMemories caps how many memories a single user may hold in the tier.
	// Zero means unbounded. Promotion into a full tier is skipped.
	MaxMemories int `json:"max_memories" yaml:"max_memories"`

	// Backend is the storage class the tier is intended for.
	Backend BackendClass `json:"backend" yaml:"backend"`

	// VectorIndexed marks the tier as searchable by retrieval by default.
	VectorIndexed bool `json:"vector_indexed" yaml:"vector_indexed"`

	// ConsolidationThreshold is the importance a memory must exceed to be
	// promoted out of this tier.
	ConsolidationThreshold float64 `json:"consolidation_threshold" yaml:"consolidation_threshold"`

	// DecayRatePerDay is the decay rate given to memories entering the tier.
	DecayRatePerDay float64 `json:"decay_rate_per_day" yaml:"decay_rate_per_day"`
}

// TierPolicy maps every tier to its configuration.
type TierPolicy map[Tier]TierConfig

// DefaultTierPolicy returns the built-in tier policy.
func DefaultTierPolicy() TierPolicy {
	workingTTL := Duration(24 * time.Hour)
	return TierPolicy{
		TierWorking: {
			TTL:                    &workingTTL,
			MaxMemories:            50,
			Backend:                BackendCache,
			VectorIndexed:          true,
			ConsolidationThreshold: 0.7,
			DecayRatePerDay:        0.5,
		},
		TierShortTerm: {
			MaxMemories:            1000,
			Backend:                BackendDatabase,
			VectorIndexed:          true,
			ConsolidationThreshold: 0.7,
			DecayRatePerDay:        0.1,
		},
		TierLongTerm: {
			MaxMemories:            5000,
			Backend:                BackendDatabase,
			VectorIndexed:          true,
			ConsolidationThreshold: 0.7,
			DecayRatePerDay:        0.02,
		},
		TierEpisodic: {
			Backend:                BackendArchive,
			VectorIndexed:          true,
			ConsolidationThreshold: 1,
			DecayRatePerDay:        0.005,
		},
	}
}

// Config returns the configuration of a tier, falling back to the default
// policy for tiers missing from p.
func (p TierPolicy) Config(t Tier) TierConfig {
	if cfg, ok := p[t]; ok {
		return cfg
	}
	return DefaultTierPolicy()[t]
}

// IndexedTiers returns the tiers retrieval searches when the caller gives
// no tier filter.
func (p TierPolicy) IndexedTiers() []Tier {
	var out []Tier
	for _, t := range Tiers {
		if p.Config(t).VectorIndexed {
			out = append(out, t)
		}
	}
	return out
}

// ExpiryFor returns the expiry time for a memory entering tier t at now,
// or nil when the tier has no TTL.
func (p TierPolicy) ExpiryFor(t Tier, now time.Time) *time.Time {
	cfg := p.Config(t)
	if cfg.TTL == nil {
		return nil
	}
	exp := now.Add(time.Duration(*cfg.TTL))
	return &exp
}

// Validate checks that every configured tier is known and sane.
func (p TierPolicy) Validate() error {
	for t, cfg := range p {
		if !t.Valid() {
			return fmt.Errorf("unknown tier %q in policy", t)
		}
		if cfg.DecayRatePerDay <= 0 {
			return fmt.Errorf("tier %s: decay rate must be positive", t)
		}
		if cfg.MaxMemories < 0 {
			return fmt.Errorf("tier %s: max memories must not be negative", t)
		}
		if cfg.TTL != nil && *cfg.TTL <= 0 {
			return fmt.Errorf("tier %s: ttl must be positive", t)
		}
	}
	return nil
}
