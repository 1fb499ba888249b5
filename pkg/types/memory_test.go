package types_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

func validMemory() *types.Memory {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &types.Memory{
		ID:              "1",
		TenantID:        "acme",
		UserID:          "user_001",
		Type:            types.TypeFact,
		Content:         "User works at DNB",
		Tags:            []string{"work"},
		ImportanceScore: 0.6,
		Confidence:      types.Confidence{Score: 0.95, Basis: types.BasisExplicit, Reinforcements: 1, LastUpdated: now},
		Tier:            types.TierShortTerm,
		Decay:           types.Decay{Score: 1, RatePerDay: 0.1, LastCalculated: now},
		Metadata: types.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Source:    types.SourceExplicitStatement,
			Custom:    types.Custom{"channel": "chat"},
		},
		Embedding: types.Embedding{Vector: []float64{0.1, 0.2}, Model: "test", Dimension: 2, GeneratedAt: now},
		Version:   1,
	}
}

func TestMemoryValidate(t *testing.T) {
	require.NoError(t, validMemory().Validate())

	testCases := []struct {
		name   string
		mutate func(m *types.Memory)
	}{
		{"missing id", func(m *types.Memory) { m.ID = "" }},
		{"missing tenant", func(m *types.Memory) { m.TenantID = "" }},
		{"bad type", func(m *types.Memory) { m.Type = "opinion" }},
		{"empty content", func(m *types.Memory) { m.Content = "" }},
		{"bad tier", func(m *types.Memory) { m.Tier = "deleted" }},
		{"bad source", func(m *types.Memory) { m.Metadata.Source = "rumour" }},
		{"importance out of range", func(m *types.Memory) { m.ImportanceScore = 1.2 }},
		{"negative decay", func(m *types.Memory) { m.Decay.Score = -0.1 }},
		{"zero reinforcements", func(m *types.Memory) { m.Confidence.Reinforcements = 0 }},
		{"zero rate", func(m *types.Memory) { m.Decay.RatePerDay = 0 }},
		{"dimension mismatch", func(m *types.Memory) { m.Embedding.Dimension = 3 }},
		{"structured data type mismatch", func(m *types.Memory) {
			m.StructuredData = &types.StructuredData{Type: types.TypeEvent}
		}},
		{"custom value too long", func(m *types.Memory) {
			m.Metadata.Custom = types.Custom{"k": strings.Repeat("x", types.MaxCustomValueLen+1)}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMemory()
			tc.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestMemoryJSONShape(t *testing.T) {
	data, err := json.Marshal(validMemory())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"id", "tenantId", "userId", "type", "content", "importanceScore",
		"confidence", "tier", "decay", "metadata", "embedding", "isDeleted", "version",
	} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "scopeId")
	assert.NotContains(t, raw, "expiresAt")
	assert.Equal(t, "short-term", raw["tier"])
	assert.Equal(t, "explicit_statement", raw["metadata"].(map[string]interface{})["source"])

	decay := raw["decay"].(map[string]interface{})
	assert.Contains(t, decay, "ratePerDay")
	assert.Contains(t, decay, "lastCalculated")

	var back types.Memory
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, validMemory().Content, back.Content)
	assert.Equal(t, types.TierShortTerm, back.Tier)
}

func TestMemoryClone(t *testing.T) {
	m := validMemory()
	accessed := time.Now()
	m.Metadata.LastAccessedAt = &accessed
	m.StructuredData = &types.StructuredData{Type: types.TypeFact, Attributes: map[string]string{"employer": "DNB"}}

	c := m.Clone()
	c.Tags[0] = "changed"
	c.Embedding.Vector[0] = 9
	c.Metadata.Custom["channel"] = "email"
	c.StructuredData.Attributes["employer"] = "Equinor"
	*c.Metadata.LastAccessedAt = accessed.Add(time.Hour)

	assert.Equal(t, "work", m.Tags[0])
	assert.Equal(t, 0.1, m.Embedding.Vector[0])
	assert.Equal(t, "chat", m.Metadata.Custom["channel"])
	assert.Equal(t, "DNB", m.StructuredData.Attributes["employer"])
	assert.Equal(t, accessed, *m.Metadata.LastAccessedAt)
}

func TestMemoryHelpers(t *testing.T) {
	m := validMemory()
	now := m.Metadata.CreatedAt

	assert.Equal(t, now, m.LastActivity())
	later := now.Add(time.Hour)
	m.Metadata.LastAccessedAt = &later
	assert.Equal(t, later, m.LastActivity())

	assert.False(t, m.Expired(now))
	m.ExpiresAt = &now
	assert.True(t, m.Expired(now))

	assert.True(t, m.HasAnyTag(nil))
	assert.True(t, m.HasAnyTag([]string{"home", "work"}))
	assert.False(t, m.HasAnyTag([]string{"home"}))
}

func TestSourceReliability(t *testing.T) {
	assert.Equal(t, 0.95, types.SourceExplicitStatement.Reliability())
	assert.Equal(t, 0.90, types.SourceCorrection.Reliability())
	assert.Equal(t, 0.85, types.SourceExternalImport.Reliability())
	assert.Equal(t, 0.70, types.SourceObservation.Reliability())
	assert.Equal(t, 0.60, types.SourceInference.Reliability())
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, types.Clamp01(-3))
	assert.Equal(t, 1.0, types.Clamp01(3))
	assert.Equal(t, 0.4, types.Clamp01(0.4))
}
