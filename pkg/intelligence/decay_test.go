package intelligence_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

func decayMemory(importance, score, rate float64, lastCalculated time.Time) *types.Memory {
	return &types.Memory{
		ImportanceScore: importance,
		Decay: types.Decay{
			Score:          score,
			RatePerDay:     rate,
			LastCalculated: lastCalculated,
		},
		Metadata: types.Metadata{CreatedAt: lastCalculated},
	}
}

func TestDecayRecalculate(t *testing.T) {
	calc := intelligence.NewDecayCalculator(intelligence.DefaultDecayConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		importance float64
		days       float64
		rate       float64
	}{
		{"fresh", 0.5, 0, 0.1},
		{"one day", 0.5, 1, 0.1},
		{"one week", 0.2, 7, 0.1},
		{"important", 0.8, 30, 0.02},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			last := now.Add(-time.Duration(tc.days * 24 * float64(time.Hour)))
			m := decayMemory(tc.importance, 1.0, tc.rate, last)

			want := math.Exp(-tc.rate * tc.days * (0.5 + tc.importance*0.5))
			got := calc.Recalculate(m, now)
			assert.InDelta(t, want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestDecayProtectionCurves(t *testing.T) {
	now := time.Now()
	last := now.Add(-10 * 24 * time.Hour)

	testCases := []struct {
		curve      intelligence.ProtectionCurve
		importance float64
		factor     float64
		score      float64
	}{
		{intelligence.CurveLinear, 0, 0.5, 0.6065},
		{intelligence.CurveLinear, 0.8, 0.9, 0.4066},
		{intelligence.CurveLinear, 1, 1, 0.3679},
		{"", 0, 0.5, 0.6065},
		{intelligence.CurveInverse, 0, 1, 0.3679},
		{intelligence.CurveInverse, 0.8, 0.6, 0.5488},
		{intelligence.CurveInverse, 1, 0.5, 0.6065},
	}

	for _, tc := range testCases {
		cfg := intelligence.DefaultDecayConfig()
		cfg.Curve = tc.curve
		calc := intelligence.NewDecayCalculator(cfg)

		assert.InDelta(t, tc.factor, calc.ProtectionFactor(tc.importance), 1e-9, "%q %.1f", tc.curve, tc.importance)
		got := calc.Recalculate(decayMemory(tc.importance, 1, 0.1, last), now)
		assert.InDelta(t, tc.score, got, 1e-4, "%q %.1f", tc.curve, tc.importance)
	}
}

func TestDecayConfigValidate(t *testing.T) {
	assert.NoError(t, intelligence.DefaultDecayConfig().Validate())

	cfg := intelligence.DefaultDecayConfig()
	cfg.Curve = "cubic"
	assert.Error(t, cfg.Validate())

	cfg = intelligence.DefaultDecayConfig()
	cfg.ProtectionStrength = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDecayProtectedUnchanged(t *testing.T) {
	calc := intelligence.NewDecayCalculator(intelligence.DefaultDecayConfig())
	now := time.Now()

	m := decayMemory(0.95, 0.8, 0.5, now.Add(-365*24*time.Hour))
	m.Decay.Protected = true
	assert.Equal(t, 0.8, calc.Recalculate(m, now))

	assert.True(t, calc.IsProtected(0.9))
	assert.False(t, calc.IsProtected(0.89))
}

func TestDecayFallsBackToCreatedAt(t *testing.T) {
	calc := intelligence.NewDecayCalculator(intelligence.DefaultDecayConfig())
	now := time.Now()

	m := decayMemory(1, 1, 0.1, time.Time{})
	m.Metadata.CreatedAt = now.Add(-5 * 24 * time.Hour)
	assert.InDelta(t, math.Exp(-0.5), calc.Recalculate(m, now), 1e-6)
}

func TestReinforce(t *testing.T) {
	calc := intelligence.NewDecayCalculator(intelligence.DefaultDecayConfig())
	now := time.Now()

	existing := &types.Memory{
		ImportanceScore: 0.5,
		Confidence: types.Confidence{
			Score:          0.98,
			Basis:          types.BasisExplicit,
			Reinforcements: 1,
		},
		Decay: types.Decay{Score: 0.4, RatePerDay: 0.1},
	}

	r := calc.Reinforce(existing, 0.6, now)
	assert.InDelta(t, 0.65, r.Importance, 1e-9)
	assert.Greater(t, r.Importance, existing.ImportanceScore)
	assert.Equal(t, 1.0, r.Confidence.Score)
	assert.Equal(t, types.BasisRepeated, r.Confidence.Basis)
	assert.Equal(t, 2, r.Confidence.Reinforcements)
	assert.Equal(t, 1.0, r.Decay.Score)
	assert.Equal(t, 0.1, r.Decay.RatePerDay)
	assert.Equal(t, now, r.Decay.LastCalculated)
	assert.False(t, r.Decay.Protected)

	capped := calc.Reinforce(&types.Memory{ImportanceScore: 1, Confidence: types.Confidence{Reinforcements: 3}}, 1, now)
	assert.Equal(t, 1.0, capped.Importance)
	assert.True(t, capped.Decay.Protected)
	assert.Equal(t, 4, capped.Confidence.Reinforcements)
}
