// Package intelligence provides the scoring and lifecycle rules of the
// memory engine: importance scoring, decay, tier transitions and vector
// similarity helpers.
package intelligence

import (
	"math"
	"strings"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// ContentFactors are signals extracted from the memory text itself.
type ContentFactors struct {
	HasEntities  bool    `json:"has_entities"`
	HasTemporal  bool    `json:"has_temporal"`
	HasEmotional bool    `json:"has_emotional"`
	HasNumeric   bool    `json:"has_numeric"`
	Specificity  float64 `json:"specificity"`
	Length       int     `json:"length"`
}

// SourceFactors describe how the memory was acquired.
type SourceFactors struct {
	Method     types.Source `json:"method"`
	Explicit   bool         `json:"explicit"`
	Emphasized bool         `json:"emphasized"`
	SeenBefore bool         `json:"seen_before"`
}

// ContextFactors place the memory in the conversation.
type ContextFactors struct {
	TypeWeight     float64 `json:"type_weight"`
	RecencyDays    float64 `json:"recency_days"`
	GoalRelated    bool    `json:"goal_related"`
	TopicClustered bool    `json:"topic_clustered"`
}

// UsageFactors summarise how a memory has been used after storage.
type UsageFactors struct {
	// RetrievalCount is how many times the memory was returned by retrieval.
	RetrievalCount int `json:"retrieval_count"`

	// UsageRate is the fraction of retrievals that led to actual use.
	// Ignored while RetrievalCount is zero.
	UsageRate float64 `json:"usage_rate"`

	// FeedbackScore is explicit user feedback in [-1,1].
	FeedbackScore float64 `json:"feedback_score"`
}

// ImportanceFactors groups the four signal families.
type ImportanceFactors struct {
	Content ContentFactors `json:"content"`
	Source  SourceFactors  `json:"source"`
	Context ContextFactors `json:"context"`
	Usage   UsageFactors   `json:"usage"`
}

// ScoringContext carries caller-side hints that cannot be derived from the
// text alone.
type ScoringContext struct {
	SeenBefore     bool
	GoalRelated    bool
	TopicClustered bool

	// RecencyDays is how old the underlying observation is.
	RecencyDays float64

	Usage UsageFactors
}

// FamilyScores is the per-family breakdown of a calculated score.
type FamilyScores struct {
	Content float64 `json:"content"`
	Source  float64 `json:"source"`
	Context float64 `json:"context"`
	Usage   float64 `json:"usage"`
	Total   float64 `json:"total"`
}

// ImportanceScorer computes normalized importance scores from content,
// source, context and usage signals.
//
// The scorer is stateless apart from its weights and is safe for concurrent
// use.
//
// Example usage:
//
//	scorer := NewImportanceScorer(nil)
//	score, _ := scorer.Score("User's birthday is March 15th", types.TypeFact,
//	    types.SourceExplicitStatement, ScoringContext{})
type ImportanceScorer struct {
	weights *Weights
}

// NewImportanceScorer creates a scorer. A nil weights uses DefaultWeights.
func NewImportanceScorer(weights *Weights) *ImportanceScorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &ImportanceScorer{weights: weights}
}

// Weights returns the scorer's weights.
func (s *ImportanceScorer) Weights() *Weights {
	return s.weights
}

// ExtractFactors derives all four signal families.
func (s *ImportanceScorer) ExtractFactors(content string, memType types.MemoryType, source types.Source, sc ScoringContext) ImportanceFactors {
	return ImportanceFactors{
		Content: ContentFactors{
			HasEntities:  detectEntities(content),
			HasTemporal:  detectTemporal(content),
			HasEmotional: detectEmotional(content),
			HasNumeric:   detectNumeric(content),
			Specificity:  specificity(content),
			Length:       len([]rune(strings.TrimSpace(content))),
		},
		Source: SourceFactors{
			Method:     source,
			Explicit:   source == types.SourceExplicitStatement || source == types.SourceCorrection,
			Emphasized: detectEmphasis(content),
			SeenBefore: sc.SeenBefore,
		},
		Context: ContextFactors{
			TypeWeight:     s.weights.TypeWeight(memType),
			RecencyDays:    math.Max(0, sc.RecencyDays),
			GoalRelated:    sc.GoalRelated,
			TopicClustered: sc.TopicClustered,
		},
		Usage: sc.Usage,
	}
}

// Calculate combines the factors into a score in [0,1]. A nil weights uses
// the scorer's own.
func (s *ImportanceScorer) Calculate(f ImportanceFactors, weights *Weights) float64 {
	return s.Breakdown(f, weights).Total
}

// Breakdown returns the per-family scores alongside the total.
func (s *ImportanceScorer) Breakdown(f ImportanceFactors, weights *Weights) FamilyScores {
	w := weights
	if w == nil {
		w = s.weights
	}
	fs := FamilyScores{
		Content: w.contentScore(f.Content),
		Source:  w.sourceScore(f.Source),
		Context: w.contextScore(f.Context),
		Usage:   w.usageScore(f.Usage),
	}
	fs.Total = clamp(fs.Content*w.Family.Content +
		fs.Source*w.Family.Source +
		fs.Context*w.Family.Context +
		fs.Usage*w.Family.Usage)
	return fs
}

// Score extracts factors and calculates the score in one step.
func (s *ImportanceScorer) Score(content string, memType types.MemoryType, source types.Source, sc ScoringContext) (float64, ImportanceFactors) {
	f := s.ExtractFactors(content, memType, source, sc)
	return s.Calculate(f, nil), f
}

// RecalculateWithUsage blends a current score with fresh usage signals
// without re-deriving content, source or context:
//
//	new = 0.7*current + usageScore*UsageMultiplier
func (s *ImportanceScorer) RecalculateWithUsage(current float64, usage UsageFactors) float64 {
	return clamp(0.7*current + s.weights.usageScore(usage)*s.weights.UsageMultiplier)
}

func (w *Weights) contentScore(c ContentFactors) float64 {
	score := w.Content.Base
	if c.HasEntities {
		score += w.Content.EntityBonus
	}
	if c.HasTemporal {
		score += w.Content.TemporalBonus
	}
	if c.HasEmotional {
		score += w.Content.EmotionalBonus
	}
	if c.HasNumeric {
		score += w.Content.NumericBonus
	}
	score += clamp(c.Specificity) * w.Content.SpecificityWeight
	score += damped(float64(c.Length), w.Content.LengthScale, w.Content.LengthBonusCap)
	return clamp(score)
}

func (w *Weights) sourceScore(s SourceFactors) float64 {
	score, ok := w.Source.MethodBase[s.Method]
	if !ok {
		score = w.Source.DefaultBase
	}
	if s.Explicit {
		score *= w.Source.ExplicitBoost
	}
	if s.Emphasized {
		score *= w.Source.EmphasisBoost
	}
	if s.SeenBefore {
		score *= w.Source.RepetitionBoost
	}
	return clamp(score)
}

func (w *Weights) contextScore(c ContextFactors) float64 {
	score := w.Context.Base + c.TypeWeight*w.Context.TypeWeightFactor
	if c.GoalRelated {
		score += w.Context.GoalBonus
	}
	if c.TopicClustered {
		score += w.Context.ClusterBonus
	}
	score -= math.Min(w.Context.RecencyPenaltyCap, c.RecencyDays*w.Context.RecencyPenaltyPerDay)
	return clamp(score)
}

func (w *Weights) usageScore(u UsageFactors) float64 {
	score := w.Usage.Base
	if u.RetrievalCount > 0 {
		score += math.Min(w.Usage.FrequencyCap, math.Log1p(float64(u.RetrievalCount))*w.Usage.FrequencyFactor)
		score += (clamp(u.UsageRate) - 0.5) * w.Usage.UsageRateWeight
	}
	score += math.Max(-1, math.Min(1, u.FeedbackScore)) * w.Usage.FeedbackWeight
	return clamp(score)
}

// damped returns cap*(1-exp(-x/scale)): grows quickly for small x and
// flattens toward cap.
func damped(x, scale, cap float64) float64 {
	if x <= 0 || scale <= 0 {
		return 0
	}
	return cap * (1 - math.Exp(-x/scale))
}

func clamp(v float64) float64 {
	return types.Clamp01(v)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
