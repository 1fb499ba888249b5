package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oceanbase/tiermem-go/pkg/embedder"
	"github.com/oceanbase/tiermem-go/pkg/embedder/hash"
	openaiEmbedder "github.com/oceanbase/tiermem-go/pkg/embedder/openai"
	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/lease"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/storage/memory"
	"github.com/oceanbase/tiermem-go/pkg/storage/oceanbase"
	"github.com/oceanbase/tiermem-go/pkg/storage/postgres"
	"github.com/oceanbase/tiermem-go/pkg/storage/sqlite"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// maxReinforceAttempts bounds the re-read loop when a reinforcement loses
// a version race.
const maxReinforceAttempts = 3

// dedupCandidates is how many neighbours a Store inspects for duplicates.
const dedupCandidates = 3

// Client is the tiered memory engine.
//
// Client provides the core operations: Store, Get, Update, Retrieve,
// Consolidate and Forget. Writes of one (tenant, user) are serialized by a
// lease.Locker; reads never take a lock.
//
// Client is safe for concurrent use.
//
// Example:
//
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Store(ctx, &core.StoreRequest{
//	    TenantID: "acme",
//	    UserID:   "user_001",
//	    Type:     types.TypeFact,
//	    Content:  "User works at DNB",
//	    Source:   types.SourceExplicitStatement,
//	})
type Client struct {
	store    storage.Store
	embedder embedder.Provider

	cfg          EngineConfig
	scorer       *intelligence.ImportanceScorer
	decayCfg     intelligence.DecayConfig
	lifecycleCfg intelligence.LifecycleConfig
	policy       types.TierPolicy
	decay        *intelligence.DecayCalculator
	lifecycle    *intelligence.LifecycleManager

	locker  lease.Locker
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
	node    *snowflake.Node

	// Background work: access updates and consolidation triggers.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	triggers sync.Map

	mu     sync.RWMutex
	closed bool
}

// New creates a Client on top of an existing store and embedding provider.
//
// Parameters:
//   - store: The storage backend
//   - emb: The embedding provider
//   - opts: Optional engine settings
//
// Returns a Client, or an error matching ErrInvalidConfig.
//
// Example:
//
//	emb, _ := hash.NewClient(&hash.Config{Dimensions: 256})
//	client, err := core.New(memory.NewClient(), emb, core.WithLogger(logger))
func New(store storage.Store, emb embedder.Provider, opts ...Option) (*Client, error) {
	if store == nil || emb == nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: store and embedder are required", ErrInvalidConfig))
	}

	c := &Client{
		store:        store,
		embedder:     emb,
		cfg:          DefaultEngineConfig(),
		scorer:       intelligence.NewImportanceScorer(nil),
		decayCfg:     intelligence.DefaultDecayConfig(),
		lifecycleCfg: intelligence.DefaultLifecycleConfig(),
		locker:       lease.NewLocal(),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := validate.Struct(c.cfg); err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidation(err)))
	}
	policy := types.DefaultTierPolicy()
	for t, tc := range c.policy {
		policy[t] = tc
	}
	if err := policy.Validate(); err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	c.policy = policy

	node, err := snowflake.NewNode(c.cfg.NodeID)
	if err != nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	c.node = node

	c.decay = intelligence.NewDecayCalculator(c.decayCfg)
	c.lifecycle = intelligence.NewLifecycleManager(c.decay, c.policy, c.lifecycleCfg)
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c, nil
}

// NewClient creates a Client from a Config.
//
// The function:
//  1. Validates the configuration
//  2. Opens the vector store and wraps it with retries
//  3. Creates the embedding provider, with optional cache and circuit breaker
//  4. Creates the locker, logger and metrics
//
// Parameters:
//   - cfg: The client configuration
//
// Returns a Client, or an error if any component fails to initialize.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: config is nil", ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: logger: %v", ErrInvalidConfig, err))
	}

	store, err := initStorage(cfg.VectorStore, cfg.Embedder.Dimensions)
	if err != nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %w", ErrStorage, err))
	}
	retry := storage.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	retrying := storage.WithRetry(store, retry)

	emb, err := initEmbedder(cfg.Embedder, logger)
	if err != nil {
		_ = store.Close()
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %w", ErrEmbeddingProvider, err))
	}

	locker, err := initLocker(cfg.Lease)
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: lease: %w", ErrStorage, err))
	}

	opts := []Option{
		WithEngineConfig(cfg.Engine),
		WithTierPolicy(cfg.Tiers),
		WithLocker(locker),
		WithLogger(logger),
	}
	if cfg.Scoring != nil {
		opts = append(opts, WithWeights(cfg.Scoring))
	}
	if cfg.Decay != nil {
		opts = append(opts, WithDecayConfig(*cfg.Decay))
	}
	if cfg.Lifecycle != nil {
		opts = append(opts, WithLifecycleConfig(*cfg.Lifecycle))
	}
	if cfg.Metrics.Enabled {
		m, err := NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		if err != nil {
			_ = locker.Close()
			_ = emb.Close()
			_ = store.Close()
			return nil, NewMemoryError("NewClient", fmt.Errorf("%w: metrics: %v", ErrInvalidConfig, err))
		}
		opts = append(opts, WithMetrics(m))
	}

	client, err := New(retrying, emb, opts...)
	if err != nil {
		_ = locker.Close()
		_ = emb.Close()
		_ = store.Close()
		return nil, err
	}
	logger.Info("tiermem client ready",
		zap.String("store", cfg.VectorStore.Provider),
		zap.String("embedder", emb.Model()),
		zap.Int("dimensions", emb.Dimensions()),
		zap.String("lease", cfg.Lease.Provider))
	return client, nil
}

// initStorage opens the vector store selected by cfg.Provider.
func initStorage(cfg VectorStoreConfig, dims int) (storage.Store, error) {
	switch cfg.Provider {
	case "memory":
		return memory.NewClient(), nil
	case "sqlite":
		sc := *cfg.SQLite
		if sc.Dimensions == 0 {
			sc.Dimensions = dims
		}
		s, err := sqlite.NewClient(&sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		pc := *cfg.Postgres
		if pc.Dimensions == 0 {
			pc.Dimensions = dims
		}
		s, err := postgres.NewClient(&pc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "oceanbase":
		oc := *cfg.OceanBase
		if oc.Dimensions == 0 {
			oc.Dimensions = dims
		}
		s, err := oceanbase.NewClient(&oc)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

// initEmbedder creates the provider selected by cfg.Provider and wraps it
// with the circuit breaker and the cache when enabled. The cache sits
// outside the breaker so that hits never touch it.
func initEmbedder(cfg EmbedderConfig, logger *zap.Logger) (embedder.Provider, error) {
	var p embedder.Provider
	switch cfg.Provider {
	case "openai":
		c, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		p = c
	case "hash":
		c, err := hash.NewClient(&hash.Config{Dimensions: cfg.Dimensions})
		if err != nil {
			return nil, err
		}
		p = c
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}

	if cfg.CircuitBreaker {
		p = embedder.NewBreakerProvider(p, embedder.BreakerConfig{
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
			OnStateChange: func(from, to string) {
				logger.Warn("embedding circuit breaker changed state",
					zap.String("from", from), zap.String("to", to))
			},
		})
	}
	if cfg.CacheEntries > 0 {
		cached, err := embedder.NewCachedProvider(p, embedder.CacheConfig{MaxEntries: cfg.CacheEntries})
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p = cached
	}
	return p, nil
}

func initLocker(cfg LeaseConfig) (lease.Locker, error) {
	switch cfg.Provider {
	case "", "local":
		return lease.NewLocal(), nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := lease.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported lease provider: %s", cfg.Provider)
	}
}

// newLogger builds the zap logger for cfg.Mode, optionally overriding its
// level.
func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Mode {
	case "nop":
		return zap.NewNop(), nil
	case "development":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

// Store scores a new observation and persists it, or reinforces an existing
// near-duplicate of it.
//
// The flow is:
//  1. Validate the request and embed the content
//  2. Score importance; below EngineConfig.MinImportanceToStore the memory
//     is rejected with a *RejectedError and nothing is written
//  3. Under the user's lock, search for a near-duplicate at or above
//     EngineConfig.DeduplicationThreshold. A match is reinforced: importance
//     and confidence rise, decay resets to 1.0 and the reinforcement count
//     grows. Otherwise a new memory is created in EngineConfig.DefaultTier.
//  4. If the user now holds more than EngineConfig.MaxMemoriesPerUser
//     memories, a consolidation of the user is started in the background.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The observation to store
//
// Returns the stored memory, or an error matching one of the package
// sentinels. A rejection matches ErrMemoryRejected.
//
// Example:
//
//	res, err := client.Store(ctx, req)
//	if errors.Is(err, core.ErrMemoryRejected) {
//	    return nil // not worth remembering
//	}
func (c *Client) Store(ctx context.Context, req *StoreRequest) (res *StoreResult, err error) {
	if req == nil {
		return nil, NewMemoryError("Store", &ValidationError{Field: "request", Reason: "is required"})
	}
	ctx, end := c.begin(ctx, "Store", req.TenantID, req.UserID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Store", err)
	}
	if err := validateRequest(req); err != nil {
		return nil, NewMemoryError("Store", err)
	}
	if err := req.Custom.Validate(); err != nil {
		return nil, NewMemoryError("Store", &ValidationError{Field: "Custom", Reason: err.Error()})
	}

	emb, err := c.embed(ctx, req.Content)
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}

	score, factors := c.scorer.Score(req.Content, req.Type, req.Source, req.Hints)
	breakdown := c.scorer.Breakdown(factors, nil)
	if score < c.cfg.MinImportanceToStore {
		c.metrics.observeStore("rejected")
		c.logger.Debug("memory rejected",
			zap.String("tenant_id", req.TenantID),
			zap.String("user_id", req.UserID),
			zap.Float64("importance", score))
		return nil, NewMemoryError("Store", &RejectedError{Score: score, Threshold: c.cfg.MinImportanceToStore})
	}

	release, err := c.lockUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}
	res, err = c.storeLocked(ctx, req, emb, score)
	release()
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}
	res.Importance = breakdown

	if res.Reinforced {
		c.metrics.observeStore("reinforced")
	} else {
		c.metrics.observeStore("created")
	}
	c.logger.Debug("memory stored",
		zap.String("memory_id", res.Memory.ID),
		zap.Bool("reinforced", res.Reinforced),
		zap.Float64("importance", res.Memory.ImportanceScore))

	c.triggerConsolidationIfFull(req.TenantID, req.UserID)
	return res, nil
}

// storeLocked runs the deduplicate-or-create step. The caller holds the
// user's lock.
func (c *Client) storeLocked(ctx context.Context, req *StoreRequest, emb *types.Embedding, score float64) (*StoreResult, error) {
	now := c.now()
	for attempt := 1; ; attempt++ {
		match, sim, err := c.findDuplicate(ctx, req, emb, now)
		if err != nil {
			return nil, err
		}
		if match == nil {
			m, err := c.create(ctx, req, emb, score, now)
			if err != nil {
				return nil, err
			}
			return &StoreResult{Memory: m}, nil
		}

		updated, err := c.reinforce(ctx, match, req, score, now)
		if err == nil {
			return &StoreResult{Memory: updated, Reinforced: true, Similarity: sim}, nil
		}
		retryable := errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrMemoryNotFound)
		if !retryable || attempt >= maxReinforceAttempts {
			return nil, err
		}
		c.logger.Debug("reinforcement lost a race, retrying",
			zap.String("memory_id", match.ID), zap.Int("attempt", attempt))
	}
}

// findDuplicate returns the most similar live memory at or above the
// deduplication threshold. Memories embedded by another model are ignored.
func (c *Client) findDuplicate(ctx context.Context, req *StoreRequest, emb *types.Embedding, now time.Time) (*types.Memory, float64, error) {
	results, err := c.store.VectorSearch(ctx, emb.Vector, req.TenantID, req.UserID, &storage.SearchFilters{
		ScopeID:       req.ScopeID,
		MinSimilarity: c.cfg.DeduplicationThreshold,
		NotExpiredAt:  now,
		Limit:         dedupCandidates,
	})
	if err != nil {
		return nil, 0, storageErr(err)
	}
	for _, r := range results {
		if r.Memory.Embedding.Model != emb.Model {
			continue
		}
		if r.Similarity >= c.cfg.DeduplicationThreshold {
			return r.Memory, r.Similarity, nil
		}
	}
	return nil, 0, nil
}

func (c *Client) reinforce(ctx context.Context, existing *types.Memory, req *StoreRequest, score float64, now time.Time) (*types.Memory, error) {
	rf := c.decay.Reinforce(existing, score, now)
	tags := unionStrings(existing.Tags, req.Tags)
	refs := unionStrings(existing.Metadata.SourceRefs, req.SourceRefs)
	patch := &storage.Patch{
		ImportanceScore: &rf.Importance,
		Confidence:      &rf.Confidence,
		Decay:           &rf.Decay,
		Tags:            &tags,
		SourceRefs:      &refs,
		ExpectedVersion: existing.Version,
	}
	if len(req.Custom) > 0 {
		custom := mergeCustom(existing.Metadata.Custom, req.Custom)
		patch.Custom = &custom
	}
	// Reinforcement only ever extends an expiry.
	if next := c.requestExpiry(req.ExpiresAt, existing.Tier, now); next != nil &&
		existing.ExpiresAt != nil && next.After(*existing.ExpiresAt) {
		patch.ExpiresAt = next
	}

	updated, err := c.store.Update(ctx, existing.ID, patch)
	if err != nil {
		return nil, storageErr(err)
	}
	return updated, nil
}

func (c *Client) create(ctx context.Context, req *StoreRequest, emb *types.Embedding, score float64, now time.Time) (*types.Memory, error) {
	tier := c.cfg.DefaultTier
	m := &types.Memory{
		ID:              c.node.Generate().String(),
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		ScopeID:         req.ScopeID,
		Type:            req.Type,
		Content:         req.Content,
		StructuredData:  newStructuredData(req.Type, req.StructuredData),
		Tags:            unionStrings(nil, req.Tags),
		ImportanceScore: score,
		Confidence: types.Confidence{
			Score:          req.Source.Reliability(),
			Basis:          types.BasisForSource(req.Source),
			Reinforcements: 1,
			LastUpdated:    now,
		},
		Tier: tier,
		Decay: types.Decay{
			Score:          1.0,
			RatePerDay:     c.lifecycle.DecayRateFor(tier),
			LastCalculated: now,
			Protected:      c.decay.IsProtected(score),
		},
		Metadata: types.Metadata{
			CreatedAt:  now,
			UpdatedAt:  now,
			Source:     req.Source,
			SourceRefs: unionStrings(nil, req.SourceRefs),
			Custom:     mergeCustom(nil, req.Custom),
		},
		Embedding: *emb,
		ExpiresAt: c.requestExpiry(req.ExpiresAt, tier, now),
		Version:   1,
	}
	if err := m.Validate(); err != nil {
		return nil, &ValidationError{Field: "memory", Reason: err.Error()}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, m); err != nil {
		return nil, storageErr(err)
	}
	return m, nil
}

// requestExpiry returns the caller's expiry, or the tier's time-to-live.
func (c *Client) requestExpiry(requested *time.Time, tier types.Tier, now time.Time) *time.Time {
	if requested != nil {
		t := *requested
		return &t
	}
	return c.policy.ExpiryFor(tier, now)
}

// Get returns one memory of the given user.
//
// Memories of another tenant or user, and soft-deleted memories, are
// reported as ErrMemoryNotFound.
func (c *Client) Get(ctx context.Context, tenantID, userID, id string) (m *types.Memory, err error) {
	ctx, end := c.begin(ctx, "Get", tenantID, userID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Get", err)
	}
	if err := requireIDs(tenantID, userID, id); err != nil {
		return nil, NewMemoryError("Get", err)
	}
	m, err = c.load(ctx, tenantID, userID, id)
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return m, nil
}

// load fetches a live memory owned by (tenantID, userID).
func (c *Client) load(ctx context.Context, tenantID, userID, id string) (*types.Memory, error) {
	m, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if m.TenantID != tenantID || m.UserID != userID || m.IsDeleted {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return m, nil
}

// Update edits a memory in place.
//
// A content change re-embeds the memory and re-scores its importance with
// the stored type and source; the access count feeds the usage signals.
// Tier, decay and confidence are left to Store and Consolidate.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: The fields to change; nil fields are kept
//
// Returns the updated memory. ErrVersionConflict is returned when
// req.ExpectedVersion no longer matches.
//
// Example:
//
//	content := "User works at DNB in Oslo"
//	m, err := client.Update(ctx, &core.UpdateRequest{
//	    TenantID: "acme", UserID: "user_001", ID: id,
//	    Content: &content,
//	})
func (c *Client) Update(ctx context.Context, req *UpdateRequest) (m *types.Memory, err error) {
	if req == nil {
		return nil, NewMemoryError("Update", &ValidationError{Field: "request", Reason: "is required"})
	}
	ctx, end := c.begin(ctx, "Update", req.TenantID, req.UserID)
	defer func() { end(err) }()

	if err := c.checkOpen(); err != nil {
		return nil, NewMemoryError("Update", err)
	}
	if err := validateRequest(req); err != nil {
		return nil, NewMemoryError("Update", err)
	}
	if req.Custom != nil {
		if err := req.Custom.Validate(); err != nil {
			return nil, NewMemoryError("Update", &ValidationError{Field: "Custom", Reason: err.Error()})
		}
	}

	var emb *types.Embedding
	if req.Content != nil {
		if emb, err = c.embed(ctx, *req.Content); err != nil {
			return nil, NewMemoryError("Update", err)
		}
	}

	release, err := c.lockUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}
	defer release()

	existing, err := c.load(ctx, req.TenantID, req.UserID, req.ID)
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != existing.Version {
		return nil, NewMemoryError("Update", fmt.Errorf("%w: memory %s is at version %d, expected %d",
			ErrVersionConflict, existing.ID, existing.Version, req.ExpectedVersion))
	}

	patch := c.updatePatch(existing, req, emb)
	m, err = c.store.Update(ctx, existing.ID, patch)
	if err != nil {
		return nil, NewMemoryError("Update", storageErr(err))
	}
	return m, nil
}

func (c *Client) updatePatch(existing *types.Memory, req *UpdateRequest, emb *types.Embedding) *storage.Patch {
	patch := &storage.Patch{ExpectedVersion: existing.Version}

	if req.Content != nil && emb != nil {
		patch.Content = req.Content
		patch.Embedding = emb
		score, _ := c.scorer.Score(*req.Content, existing.Type, existing.Metadata.Source, intelligence.ScoringContext{
			SeenBefore: existing.Confidence.Reinforcements > 1,
			Usage:      intelligence.UsageFactors{RetrievalCount: existing.Metadata.AccessCount},
		})
		decay := existing.Decay
		decay.Protected = c.decay.IsProtected(score)
		patch.ImportanceScore = &score
		patch.Decay = &decay
	}
	if req.Tags != nil {
		tags := unionStrings(nil, *req.Tags)
		patch.Tags = &tags
	}
	if req.StructuredData != nil {
		if sd := newStructuredData(existing.Type, *req.StructuredData); sd != nil {
			patch.StructuredData = sd
		} else {
			patch.ClearStructuredData = true
		}
	}
	if req.Custom != nil {
		custom := mergeCustom(nil, *req.Custom)
		patch.Custom = &custom
	}
	switch {
	case req.ClearExpiresAt:
		patch.ClearExpiresAt = true
	case req.ExpiresAt != nil:
		t := *req.ExpiresAt
		patch.ExpiresAt = &t
	}
	return patch
}

// embed generates and checks the embedding of text.
func (c *Client) embed(ctx context.Context, text string) (*types.Embedding, error) {
	e, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, embedErr(err)
	}
	if err := embedder.CheckDimension(c.embedder, e); err != nil {
		return nil, embedErr(err)
	}
	model := e.Model
	if model == "" {
		model = c.embedder.Model()
	}
	return &types.Embedding{
		Vector:      e.Vector,
		Model:       model,
		Dimension:   len(e.Vector),
		GeneratedAt: c.now(),
	}, nil
}

// lockUser serializes the writes of one (tenant, user).
func (c *Client) lockUser(ctx context.Context, tenantID, userID string) (lease.Release, error) {
	key := fmt.Sprintf("user:%d:%s:%s", len(tenantID), tenantID, userID)
	release, err := c.locker.Acquire(ctx, key, c.cfg.LockTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: user lock: %w", ErrStorage, err)
	}
	return release, nil
}

// triggerConsolidationIfFull starts a background consolidation of the user
// when they hold more than EngineConfig.MaxMemoriesPerUser memories. At most
// one check per user runs at a time.
func (c *Client) triggerConsolidationIfFull(tenantID, userID string) {
	if c.cfg.MaxMemoriesPerUser <= 0 {
		return
	}
	key := tenantID + "\x00" + userID
	if _, busy := c.triggers.LoadOrStore(key, struct{}{}); busy {
		return
	}
	started := c.goBackground("consolidation_trigger", func(ctx context.Context) error {
		defer c.triggers.Delete(key)
		count, err := c.store.CountByUser(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if count <= c.cfg.MaxMemoriesPerUser {
			return nil
		}
		c.logger.Info("memory count above limit, consolidating",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Int("count", count),
			zap.Int("limit", c.cfg.MaxMemoriesPerUser))
		_, err = c.Consolidate(ctx, &ConsolidateRequest{TenantID: tenantID, UserID: userID})
		if errors.Is(err, ErrConsolidationInProgress) {
			return nil
		}
		return err
	})
	if !started {
		c.triggers.Delete(key)
	}
}

// goBackground runs fn in a tracked goroutine bound to the client's
// lifetime. Failures are logged and counted, never returned. It reports
// false when the client is closed.
func (c *Client) goBackground(task string, fn func(ctx context.Context) error) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("background task panicked", zap.String("task", task), zap.Any("panic", r))
				c.metrics.observeBackgroundFailure(task)
			}
		}()
		if err := fn(c.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("background task failed", zap.String("task", task), zap.Error(err))
			c.metrics.observeBackgroundFailure(task)
		}
	}()
	return true
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Wait blocks until the background work started so far has finished:
// access-count updates and triggered consolidations.
func (c *Client) Wait() {
	c.bg.Wait()
}

// Close stops background work and closes the store, the embedder and the
// locker. Calls after the first return nil.
//
// Returns the first error encountered while closing.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.bg.Wait()

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.locker.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = c.logger.Sync()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
