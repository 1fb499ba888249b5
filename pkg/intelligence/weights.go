package intelligence

import "github.com/oceanbase/tiermem-go/pkg/types"

// FamilyWeights weights the four signal families in the final score.
type FamilyWeights struct {
	Content float64 `json:"content" yaml:"content"`
	Source  float64 `json:"source" yaml:"source"`
	Context float64 `json:"context" yaml:"context"`
	Usage   float64 `json:"usage" yaml:"usage"`
}

// ContentWeights tunes the content family.
type ContentWeights struct {
	Base              float64 `json:"base" yaml:"base"`
	EntityBonus       float64 `json:"entity_bonus" yaml:"entity_bonus"`
	TemporalBonus     float64 `json:"temporal_bonus" yaml:"temporal_bonus"`
	EmotionalBonus    float64 `json:"emotional_bonus" yaml:"emotional_bonus"`
	NumericBonus      float64 `json:"numeric_bonus" yaml:"numeric_bonus"`
	SpecificityWeight float64 `json:"specificity_weight" yaml:"specificity_weight"`

	// LengthBonusCap is the most the length bonus can add.
	LengthBonusCap float64 `json:"length_bonus_cap" yaml:"length_bonus_cap"`

	// LengthScale is the character count at which the length bonus reaches
	// about 63% of its cap.
	LengthScale float64 `json:"length_scale" yaml:"length_scale"`
}

// SourceWeights tunes the source family.
type SourceWeights struct {
	MethodBase      map[types.Source]float64 `json:"method_base" yaml:"method_base"`
	DefaultBase     float64                  `json:"default_base" yaml:"default_base"`
	ExplicitBoost   float64                  `json:"explicit_boost" yaml:"explicit_boost"`
	EmphasisBoost   float64                  `json:"emphasis_boost" yaml:"emphasis_boost"`
	RepetitionBoost float64                  `json:"repetition_boost" yaml:"repetition_boost"`
}

// ContextWeights tunes the context family.
type ContextWeights struct {
	Base                 float64                      `json:"base" yaml:"base"`
	TypeWeights          map[types.MemoryType]float64 `json:"type_weights" yaml:"type_weights"`
	TypeWeightFactor     float64                      `json:"type_weight_factor" yaml:"type_weight_factor"`
	GoalBonus            float64                      `json:"goal_bonus" yaml:"goal_bonus"`
	ClusterBonus         float64                      `json:"cluster_bonus" yaml:"cluster_bonus"`
	RecencyPenaltyPerDay float64                      `json:"recency_penalty_per_day" yaml:"recency_penalty_per_day"`
	RecencyPenaltyCap    float64                      `json:"recency_penalty_cap" yaml:"recency_penalty_cap"`
}

// UsageWeights tunes the usage family.
type UsageWeights struct {
	// Base is the neutral score of a memory with no usage history.
	Base            float64 `json:"base" yaml:"base"`
	FrequencyFactor float64 `json:"frequency_factor" yaml:"frequency_factor"`
	FrequencyCap    float64 `json:"frequency_cap" yaml:"frequency_cap"`
	UsageRateWeight float64 `json:"usage_rate_weight" yaml:"usage_rate_weight"`
	FeedbackWeight  float64 `json:"feedback_weight" yaml:"feedback_weight"`
}

// Weights holds every tunable of the importance formula.
type Weights struct {
	Family  FamilyWeights  `json:"family" yaml:"family"`
	Content ContentWeights `json:"content" yaml:"content"`
	Source  SourceWeights  `json:"source" yaml:"source"`
	Context ContextWeights `json:"context" yaml:"context"`
	Usage   UsageWeights   `json:"usage" yaml:"usage"`

	// UsageMultiplier scales the usage score in RecalculateWithUsage.
	UsageMultiplier float64 `json:"usage_multiplier" yaml:"usage_multiplier"`
}

// DefaultWeights returns the documented default weights:
//
//	raw = content*0.25 + source*0.30 + context*0.25 + usage*0.20
//
// Family bases are low: short inferred or observed chatter such as "ok"
// scores below the default MinImportanceToStore of 0.1.
func DefaultWeights() *Weights {
	return &Weights{
		Family: FamilyWeights{Content: 0.25, Source: 0.30, Context: 0.25, Usage: 0.20},
		Content: ContentWeights{
			Base:              0,
			EntityBonus:       0.15,
			TemporalBonus:     0.15,
			EmotionalBonus:    0.15,
			NumericBonus:      0.15,
			SpecificityWeight: 0.25,
			LengthBonusCap:    0.2,
			LengthScale:       100,
		},
		Source: SourceWeights{
			MethodBase: map[types.Source]float64{
				types.SourceExplicitStatement: 0.7,
				types.SourceCorrection:        0.75,
				types.SourceExternalImport:    0.5,
				types.SourceObservation:       0.2,
				types.SourceInference:         0.1,
			},
			DefaultBase:     0.1,
			ExplicitBoost:   1.2,
			EmphasisBoost:   1.25,
			RepetitionBoost: 1.15,
		},
		Context: ContextWeights{
			Base: 0.05,
			TypeWeights: map[types.MemoryType]float64{
				types.TypeFact:         0.7,
				types.TypePreference:   0.8,
				types.TypeEvent:        0.5,
				types.TypeRelationship: 0.75,
				types.TypeSkill:        0.6,
				types.TypeGoal:         0.85,
				types.TypeContext:      0.05,
				types.TypeFeedback:     0.65,
			},
			TypeWeightFactor:     0.7,
			GoalBonus:            0.2,
			ClusterBonus:         0.1,
			RecencyPenaltyPerDay: 0.01,
			RecencyPenaltyCap:    0.2,
		},
		Usage: UsageWeights{
			Base:            0.05,
			FrequencyFactor: 0.1,
			FrequencyCap:    0.4,
			UsageRateWeight: 0.3,
			FeedbackWeight:  0.25,
		},
		UsageMultiplier: 0.3,
	}
}

// TypeWeight returns the baseline context weight for a memory type.
func (w *Weights) TypeWeight(t types.MemoryType) float64 {
	if v, ok := w.Context.TypeWeights[t]; ok {
		return v
	}
	return 0.5
}
