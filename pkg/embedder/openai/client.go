// Package openai implements embedder.Provider on top of the OpenAI
// Embeddings API. Any OpenAI-compatible endpoint (Azure, DashScope, local
// gateways) works through BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/tiermem-go/pkg/embedder"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "text-embedding-3-small"

// DefaultDimensions is used when Config.Dimensions is zero. It matches
// DefaultModel.
const DefaultDimensions = 1536

// Client embeds texts with the OpenAI Embeddings API. Every vector is
// stamped with the configured model so that vectors of different models are
// never compared.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration of the OpenAI embedder. Only APIKey is
// required; the other fields default to DefaultModel, the official endpoint
// and DefaultDimensions.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI Embedder client.
//
// Args:
//   - cfg: OpenAI Embedder configuration containing APIKey, BaseURL, Dimensions, etc.
//
// Returns:
//   - *Client: OpenAI Embedder client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}
	if dimensions < 0 {
		return nil, fmt.Errorf("openai embedder: invalid dimensions %d", dimensions)
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - text: Text content to vectorize
//
// Returns:
//   - *embedder.Embedding: Vector representation of the text and the model that produced it
//   - error: Returns an error if vectorization fails
func (c *Client) Embed(ctx context.Context, text string) (*embedder.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedder.ErrEmptyText
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(string(c.model), "text-embedding-3") {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai embedder: %s (status %d): %w", apiErr.Message, apiErr.HTTPStatusCode, err)
		}
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embedder: response contains no embedding")
	}

	vector := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float64(v)
	}
	return &embedder.Embedding{Vector: vector, Model: string(c.model)}, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return string(c.model)
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
