// Package types defines the memory record model shared by the engine, the
// scorer and every storage adapter.
//
// The model is pure data plus invariant checks. It has no dependencies on
// the rest of the module so that storage adapters and the engine can share
// one representation without conversion layers.
package types

import (
	"errors"
	"fmt"
	"time"
)

// MemoryType classifies what kind of knowledge a memory holds.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeEvent        MemoryType = "event"
	TypeRelationship MemoryType = "relationship"
	TypeSkill        MemoryType = "skill"
	TypeGoal         MemoryType = "goal"
	TypeContext      MemoryType = "context"
	TypeFeedback     MemoryType = "feedback"
)

// MemoryTypes lists every valid MemoryType.
var MemoryTypes = []MemoryType{
	TypeFact, TypePreference, TypeEvent, TypeRelationship,
	TypeSkill, TypeGoal, TypeContext, TypeFeedback,
}

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	for _, known := range MemoryTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Source describes how a memory was acquired.
type Source string

const (
	SourceExplicitStatement Source = "explicit_statement"
	SourceCorrection        Source = "correction"
	SourceObservation       Source = "observation"
	SourceExternalImport    Source = "external_import"
	SourceInference         Source = "inference"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceExplicitStatement, SourceCorrection, SourceObservation,
		SourceExternalImport, SourceInference:
		return true
	}
	return false
}

// Reliability returns the initial confidence assigned to a memory acquired
// from this source.
func (s Source) Reliability() float64 {
	switch s {
	case SourceExplicitStatement:
		return 0.95
	case SourceCorrection:
		return 0.90
	case SourceExternalImport:
		return 0.85
	case SourceObservation:
		return 0.70
	case SourceInference:
		return 0.60
	default:
		return 0.5
	}
}

// ConfidenceBasis explains where a confidence score comes from.
type ConfidenceBasis string

const (
	BasisExplicit ConfidenceBasis = "explicit"
	BasisInferred ConfidenceBasis = "inferred"
	BasisRepeated ConfidenceBasis = "repeated"
)

// BasisForSource maps an acquisition source to its initial confidence basis.
func BasisForSource(s Source) ConfidenceBasis {
	switch s {
	case SourceExplicitStatement, SourceCorrection, SourceExternalImport:
		return BasisExplicit
	default:
		return BasisInferred
	}
}

// Confidence is the reliability estimate of a memory's correctness.
type Confidence struct {
	// Score is the confidence in [0,1].
	Score float64 `json:"score"`

	// Basis explains how the score was obtained.
	Basis ConfidenceBasis `json:"basis"`

	// Reinforcements counts how many times the memory has been observed (>= 1).
	Reinforcements int `json:"reinforcements"`

	// LastUpdated is when the confidence was last changed.
	LastUpdated time.Time `json:"lastUpdated"`
}

// Decay tracks how fresh a memory still is.
type Decay struct {
	// Score is the freshness in [0,1]. 1.0 means just created or reinforced.
	Score float64 `json:"score"`

	// RatePerDay is the exponential decay rate (> 0).
	RatePerDay float64 `json:"ratePerDay"`

	// LastCalculated is when Score was last recomputed.
	LastCalculated time.Time `json:"lastCalculated"`

	// Protected freezes the score during consolidation.
	Protected bool `json:"protected"`
}

// Metadata carries provenance and usage counters.
type Metadata struct {
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	AccessCount    int        `json:"accessCount"`
	Source         Source     `json:"source"`
	SourceRefs     []string   `json:"sourceRefs,omitempty"`
	Custom         Custom     `json:"custom,omitempty"`
}

// Embedding is the vector representation of a memory's content.
type Embedding struct {
	Vector      []float64 `json:"vector"`
	Model       string    `json:"model"`
	Dimension   int       `json:"dimension"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Validate checks that the declared dimension matches the vector length.
func (e *Embedding) Validate() error {
	if len(e.Vector) == 0 {
		return errors.New("embedding vector is empty")
	}
	if e.Dimension != len(e.Vector) {
		return fmt.Errorf("embedding dimension %d does not match vector length %d", e.Dimension, len(e.Vector))
	}
	return nil
}

// StructuredData is an optional typed payload attached to a memory.
//
// Type must equal the owning memory's type, which keeps the payload
// interpretable without inspecting the attributes.
type StructuredData struct {
	Type       MemoryType        `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Memory is the atomic unit stored by the engine.
//
// Example:
//
//	mem := &types.Memory{
//	    ID:       "1790000000000000000",
//	    TenantID: "acme",
//	    UserID:   "user_001",
//	    Type:     types.TypeFact,
//	    Content:  "User works at DNB",
//	    Tier:     types.TierShortTerm,
//	}
type Memory struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`

	// ScopeID is an optional sub-scope inside a user (e.g. a chatbot).
	ScopeID string `json:"scopeId,omitempty"`

	Type           MemoryType      `json:"type"`
	Content        string          `json:"content"`
	StructuredData *StructuredData `json:"structuredData,omitempty"`
	Tags           []string        `json:"tags,omitempty"`

	ImportanceScore float64    `json:"importanceScore"`
	Confidence      Confidence `json:"confidence"`

	Tier  Tier  `json:"tier"`
	Decay Decay `json:"decay"`

	Metadata  Metadata  `json:"metadata"`
	Embedding Embedding `json:"embedding"`

	IsDeleted bool       `json:"isDeleted"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// Version is bumped by storage on every update and is used to detect
	// lost updates.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.StructuredData != nil {
		sd := *m.StructuredData
		sd.Attributes = cloneStringMap(m.StructuredData.Attributes)
		c.StructuredData = &sd
	}
	c.Tags = append([]string(nil), m.Tags...)
	c.Metadata.SourceRefs = append([]string(nil), m.Metadata.SourceRefs...)
	c.Metadata.Custom = Custom(cloneStringMap(m.Metadata.Custom))
	if m.Metadata.LastAccessedAt != nil {
		t := *m.Metadata.LastAccessedAt
		c.Metadata.LastAccessedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	c.Embedding.Vector = append([]float64(nil), m.Embedding.Vector...)
	return &c
}

// LastActivity returns the last access time, or the creation time when the
// memory has never been accessed.
func (m *Memory) LastActivity() time.Time {
	if m.Metadata.LastAccessedAt != nil {
		return *m.Metadata.LastAccessedAt
	}
	return m.Metadata.CreatedAt
}

// Expired reports whether the memory has passed its expiry time.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the memory carries at least one of tags.
// An empty tag list matches every memory.
func (m *Memory) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if m.HasTag(tag) {
			return true
		}
	}
	return false
}

// Validate checks the record invariants.
func (m *Memory) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("memory id is required")
	case m.TenantID == "" || m.UserID == "":
		return errors.New("tenant id and user id are required")
	case !m.Type.Valid():
		return fmt.Errorf("unknown memory type %q", m.Type)
	case m.Content == "":
		return errors.New("content is required")
	case !m.Tier.Valid():
		return fmt.Errorf("unknown tier %q", m.Tier)
	case !m.Metadata.Source.Valid():
		return fmt.Errorf("unknown source %q", m.Metadata.Source)
	case !inUnit(m.ImportanceScore):
		return fmt.Errorf("importance score %v out of range", m.ImportanceScore)
	case !inUnit(m.Confidence.Score):
		return fmt.Errorf("confidence score %v out of range", m.Confidence.Score)
	case !inUnit(m.Decay.Score):
		return fmt.Errorf("decay score %v out of range", m.Decay.Score)
	case m.Confidence.Reinforcements < 1:
		return errors.New("reinforcements must be at least 1")
	case m.Decay.RatePerDay <= 0:
		return errors.New("decay rate must be positive")
	case m.Metadata.AccessCount < 0:
		return errors.New("access count must not be negative")
	}
	if m.StructuredData != nil && m.StructuredData.Type != m.Type {
		return fmt.Errorf("structured data type %q does not match memory type %q", m.StructuredData.Type, m.Type)
	}
	if err := m.Metadata.Custom.Validate(); err != nil {
		return err
	}
	return m.Embedding.Validate()
}

// Clamp01 clamps v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
