package core

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/lease"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Option is a function type for configuring a Client.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type Option func(*Client)

// WithEngineConfig replaces the engine thresholds.
//
// Example:
//
//	cfg := core.DefaultEngineConfig()
//	cfg.DeduplicationThreshold = 0.95
//	client, _ := core.New(store, emb, core.WithEngineConfig(cfg))
func WithEngineConfig(cfg EngineConfig) Option {
	return func(c *Client) {
		c.cfg = cfg
	}
}

// WithWeights sets the importance weights.
func WithWeights(w *intelligence.Weights) Option {
	return func(c *Client) {
		c.scorer = intelligence.NewImportanceScorer(w)
	}
}

// WithDecayConfig sets the decay curve.
func WithDecayConfig(cfg intelligence.DecayConfig) Option {
	return func(c *Client) {
		c.decayCfg = cfg
	}
}

// WithLifecycleConfig sets the consolidation rules.
func WithLifecycleConfig(cfg intelligence.LifecycleConfig) Option {
	return func(c *Client) {
		c.lifecycleCfg = cfg
	}
}

// WithTierPolicy sets the tier policy. Tiers missing from policy use their
// defaults.
func WithTierPolicy(policy types.TierPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithLocker sets the locker serializing writes per user and consolidations
// per tenant. Use a lease.Redis when several engines share one backend.
//
// Example:
//
//	locker, _ := lease.NewRedis(ctx, lease.RedisConfig{Addr: "localhost:6379"})
//	client, _ := core.New(store, emb, core.WithLocker(locker))
func WithLocker(l lease.Locker) Option {
	return func(c *Client) {
		c.locker = l
	}
}

// WithLogger sets the zap logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records Prometheus metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the clock. Tests use it to age memories.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// RetrieveOption is a function type for configuring Retrieve operations.
type RetrieveOption func(*RetrieveOptions)

// RetrieveOptions contains the ranking knobs of Retrieve.
type RetrieveOptions struct {
	// Limit sets the maximum number of results to return.
	// Default: EngineConfig.DefaultLimit
	Limit int

	// SimilarityThreshold drops candidates below this cosine similarity.
	// Default: EngineConfig.SimilarityThreshold
	SimilarityThreshold float64

	// RecencyBoost scales the recency term. Default: 1
	RecencyBoost float64

	// ImportanceBoost scales the importance term. Default: 1
	ImportanceBoost float64

	// DiversitySampling drops candidates too similar to a better ranked one.
	DiversitySampling bool

	// DiversityThreshold is the similarity at which a candidate is dropped.
	// Default: EngineConfig.DiversityThreshold
	DiversityThreshold float64
}

// WithLimit sets the maximum number of results.
//
// Example:
//
//	res, _ := client.Retrieve(ctx, req, core.WithLimit(20))
func WithLimit(limit int) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.Limit = limit
	}
}

// WithSimilarityThreshold sets the minimum similarity of candidates.
func WithSimilarityThreshold(threshold float64) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.SimilarityThreshold = threshold
	}
}

// WithRecencyBoost scales the recency term of the relevance score.
func WithRecencyBoost(boost float64) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.RecencyBoost = boost
	}
}

// WithImportanceBoost scales the importance term of the relevance score.
func WithImportanceBoost(boost float64) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.ImportanceBoost = boost
	}
}

// WithDiversitySampling enables diversity sampling at the given threshold.
// A threshold of zero keeps the engine default.
//
// Example:
//
//	res, _ := client.Retrieve(ctx, req, core.WithDiversitySampling(0.85))
func WithDiversitySampling(threshold float64) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.DiversitySampling = true
		if threshold > 0 {
			opts.DiversityThreshold = threshold
		}
	}
}

// applyRetrieveOptions applies Retrieve options over the engine defaults.
func applyRetrieveOptions(cfg EngineConfig, opts []RetrieveOption) *RetrieveOptions {
	options := &RetrieveOptions{
		Limit:               cfg.DefaultLimit,
		SimilarityThreshold: cfg.SimilarityThreshold,
		RecencyBoost:        1,
		ImportanceBoost:     1,
		DiversityThreshold:  cfg.DiversityThreshold,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit <= 0 {
		options.Limit = cfg.DefaultLimit
	}
	return options
}
