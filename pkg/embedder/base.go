// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for similarity search, plus decorators
// that add caching and circuit breaking around any provider.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when asked to embed blank text.
var ErrEmptyText = errors.New("embedder: text is empty")

// Embedding is the result of embedding one text.
type Embedding struct {
	// Vector is the embedding. Its length equals the provider's Dimensions().
	Vector []float64

	// Model identifies the model that produced the vector. Vectors from
	// different models are not comparable.
	Model string
}

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, hash, decorators) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding and any error.
	Embed(ctx context.Context, text string) (*Embedding, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-3-small produces 1536-dimensional vectors.
	Dimensions() int

	// Model returns the model identifier stamped on every embedding.
	Model() string

	// Close closes the provider and releases resources.
	Close() error
}

// CheckDimension verifies that e has the dimension the provider declares.
func CheckDimension(p Provider, e *Embedding) error {
	if e == nil || len(e.Vector) == 0 {
		return errors.New("embedder: empty embedding returned")
	}
	if len(e.Vector) != p.Dimensions() {
		return fmt.Errorf("embedder: model %s returned %d dimensions, expected %d", e.Model, len(e.Vector), p.Dimensions())
	}
	return nil
}
