// Package hash implements a deterministic, offline embedder.Provider based on
// feature hashing of word unigrams, bigrams and character trigrams.
//
// The vectors carry lexical similarity only. The provider is meant for
// development, tests and air-gapped deployments where a hosted model is not
// available.
package hash

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/oceanbase/tiermem-go/pkg/embedder"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 256

// Config configures the hash embedder.
type Config struct {
	Dimensions int
}

// Client is a feature-hashing embedder.
type Client struct {
	dimensions int
	model      string
}

// NewClient creates a hash embedder.
func NewClient(cfg *Config) (*Client, error) {
	dims := DefaultDimensions
	if cfg != nil && cfg.Dimensions != 0 {
		dims = cfg.Dimensions
	}
	if dims < 8 {
		return nil, fmt.Errorf("hash embedder: dimensions must be at least 8, got %d", dims)
	}
	return &Client{dimensions: dims, model: fmt.Sprintf("hash-fnv1a-%d", dims)}, nil
}

// Embed hashes text into a unit vector. It honours ctx cancellation.
func (c *Client) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := tokenize(text)
	if len(words) == 0 {
		return nil, embedder.ErrEmptyText
	}

	vec := make([]float64, c.dimensions)
	for i, w := range words {
		c.add(vec, "w:"+w, 1.0)
		if i > 0 {
			c.add(vec, "b:"+words[i-1]+" "+w, 0.5)
		}
		padded := "^" + w + "$"
		runes := []rune(padded)
		for j := 0; j+3 <= len(runes); j++ {
			c.add(vec, "t:"+string(runes[j:j+3]), 0.25)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return &embedder.Embedding{Vector: vec, Model: c.model}, nil
}

// add hashes a feature to a bucket and a sign.
func (c *Client) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(c.dimensions))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Model returns the model identifier, which encodes the dimension.
func (c *Client) Model() string {
	return c.model
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
