package intelligence

import (
	"fmt"
	"math"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// ProtectionCurve selects how importance scales the decay rate.
type ProtectionCurve string

const (
	// CurveLinear multiplies the rate by (1-s) + importance*s. With the
	// default strength of 0.5 this is 0.5 + importance*0.5.
	CurveLinear ProtectionCurve = "linear"
	// CurveInverse multiplies the rate by 1 - importance*s, so important
	// memories decay slower.
	CurveInverse ProtectionCurve = "inverse"
)

// Valid reports whether c is a known curve. The empty curve means linear.
func (c ProtectionCurve) Valid() bool {
	switch c {
	case "", CurveLinear, CurveInverse:
		return true
	}
	return false
}

// DecayConfig tunes the exponential decay curve.
type DecayConfig struct {
	// Curve is the protection curve.
	// Default: linear
	Curve ProtectionCurve `json:"curve,omitempty" yaml:"curve,omitempty"`

	// ProtectionStrength is the weight of importance in the protection
	// factor.
	// Default: 0.5
	ProtectionStrength float64 `json:"protection_strength" yaml:"protection_strength"`

	// ProtectedThreshold is the importance at or above which a memory's
	// decay is frozen.
	ProtectedThreshold float64 `json:"protected_threshold" yaml:"protected_threshold"`

	// ReinforcementBonus is added to the blended importance on reinforcement.
	ReinforcementBonus float64 `json:"reinforcement_bonus" yaml:"reinforcement_bonus"`

	// ConfidenceStep is added to confidence on reinforcement.
	ConfidenceStep float64 `json:"confidence_step" yaml:"confidence_step"`
}

// DefaultDecayConfig returns the default decay configuration.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Curve:              CurveLinear,
		ProtectionStrength: 0.5,
		ProtectedThreshold: 0.9,
		ReinforcementBonus: 0.1,
		ConfidenceStep:     0.05,
	}
}

// DecayCalculator applies the forgetting curve to memories.
//
// The curve is a plain exponential in days since the score was last
// calculated:
//
//	score' = score * e^(-ratePerDay * days * protectionFactor)
//
// Example usage:
//
//	calc := NewDecayCalculator(DefaultDecayConfig())
//	score := calc.Recalculate(mem, time.Now())
type DecayCalculator struct {
	cfg DecayConfig
}

// NewDecayCalculator creates a decay calculator.
func NewDecayCalculator(cfg DecayConfig) *DecayCalculator {
	return &DecayCalculator{cfg: cfg}
}

// Validate checks the configuration.
func (c DecayConfig) Validate() error {
	if !c.Curve.Valid() {
		return fmt.Errorf("unknown protection curve %q", c.Curve)
	}
	if c.ProtectionStrength < 0 || c.ProtectionStrength > 1 {
		return fmt.Errorf("protection strength %v out of range [0,1]", c.ProtectionStrength)
	}
	return nil
}

// Config returns the calculator configuration.
func (c *DecayCalculator) Config() DecayConfig {
	return c.cfg
}

// ProtectionFactor returns the multiplier applied to the decay rate for a
// memory of the given importance. Both curves stay within
// [1-ProtectionStrength, 1].
func (c *DecayCalculator) ProtectionFactor(importance float64) float64 {
	s := clamp(c.cfg.ProtectionStrength)
	if c.cfg.Curve == CurveInverse {
		return 1 - clamp(importance)*s
	}
	return 1 - s + clamp(importance)*s
}

// IsProtected reports whether a memory of the given importance has its decay
// frozen.
func (c *DecayCalculator) IsProtected(importance float64) bool {
	return importance >= c.cfg.ProtectedThreshold
}

// Recalculate returns the decay score of m at now. Protected memories keep
// their score. The memory is not modified.
func (c *DecayCalculator) Recalculate(m *types.Memory, now time.Time) float64 {
	if m.Decay.Protected {
		return m.Decay.Score
	}
	since := m.Decay.LastCalculated
	if since.IsZero() {
		since = m.Metadata.CreatedAt
	}
	days := now.Sub(since).Hours() / 24
	if days <= 0 {
		return clamp(m.Decay.Score)
	}
	exponent := -m.Decay.RatePerDay * days * c.ProtectionFactor(m.ImportanceScore)
	return clamp(m.Decay.Score * math.Exp(exponent))
}

// Reinforcement is the result of observing a memory again.
type Reinforcement struct {
	Importance float64
	Confidence types.Confidence
	Decay      types.Decay
}

// Reinforce computes the reinforced state of existing after a near-duplicate
// with importance newImportance was observed at now:
//
//	importance = min(1, (old+new)/2 + ReinforcementBonus)
//	confidence = min(1, old + ConfidenceStep), basis repeated, reinforcements+1
//	decay      = 1.0, recalculated now
func (c *DecayCalculator) Reinforce(existing *types.Memory, newImportance float64, now time.Time) Reinforcement {
	importance := minf(1, (existing.ImportanceScore+newImportance)/2+c.cfg.ReinforcementBonus)

	reinforcements := existing.Confidence.Reinforcements
	if reinforcements < 1 {
		reinforcements = 1
	}
	return Reinforcement{
		Importance: clamp(importance),
		Confidence: types.Confidence{
			Score:          minf(1, existing.Confidence.Score+c.cfg.ConfidenceStep),
			Basis:          types.BasisRepeated,
			Reinforcements: reinforcements + 1,
			LastUpdated:    now,
		},
		Decay: types.Decay{
			Score:          1.0,
			RatePerDay:     existing.Decay.RatePerDay,
			LastCalculated: now,
			Protected:      c.IsProtected(importance),
		},
	}
}
