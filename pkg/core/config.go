package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/lease"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/storage/oceanbase"
	"github.com/oceanbase/tiermem-go/pkg/storage/postgres"
	"github.com/oceanbase/tiermem-go/pkg/storage/sqlite"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// Config contains the complete configuration for a tiermem client.
//
// It includes settings for:
//   - Embedding provider (for vector generation)
//   - Vector store (for memory persistence)
//   - Engine thresholds and batch sizes
//   - Scoring weights, decay and lifecycle rules, tier policy (optional)
//   - Locking, storage retries, logging and metrics
//
// Start from DefaultConfig and override what you need; the JSON and YAML
// loaders do the same, so omitted keys keep their defaults.
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Embedder = core.EmbedderConfig{
//	    Provider:   "openai",
//	    APIKey:     "sk-...",
//	    Model:      "text-embedding-3-small",
//	    Dimensions: 1536,
//	}
//	config.VectorStore = core.VectorStoreConfig{
//	    Provider: "sqlite",
//	    SQLite:   &sqlite.Config{DBPath: "./memories.db"},
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`

	// Engine contains the thresholds and batch sizes of the engine.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Scoring overrides the importance weights. Nil uses the defaults.
	Scoring *intelligence.Weights `json:"scoring,omitempty" yaml:"scoring,omitempty"`

	// Decay overrides the decay curve. Nil uses the defaults.
	Decay *intelligence.DecayConfig `json:"decay,omitempty" yaml:"decay,omitempty"`

	// Lifecycle overrides the consolidation rules. Nil uses the defaults.
	Lifecycle *intelligence.LifecycleConfig `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`

	// Tiers overrides individual tier configurations. Missing tiers keep
	// their defaults.
	Tiers types.TierPolicy `json:"tiers,omitempty" yaml:"tiers,omitempty"`

	// Lease selects how writes and consolidations are serialized.
	Lease LeaseConfig `json:"lease" yaml:"lease"`

	// Retry bounds storage retries. Nil uses storage.DefaultRetryConfig.
	Retry *storage.RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Logging configures the zap logger built by NewClient.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures Prometheus collectors.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, hash
//
// Example:
//
//	embedderConfig := core.EmbedderConfig{
//	    Provider:     "openai",
//	    APIKey:       "sk-...",
//	    Model:        "text-embedding-3-small",
//	    Dimensions:   1536,
//	    CacheEntries: 10000,
//	}
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, hash).
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=openai hash"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key" yaml:"api_key" validate:"required_if=Provider openai"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 256).
	Dimensions int `json:"dimensions" yaml:"dimensions" validate:"gt=0"`

	// CacheEntries sizes the embedding cache. Zero disables caching.
	CacheEntries int64 `json:"cache_entries,omitempty" yaml:"cache_entries,omitempty" validate:"gte=0"`

	// CircuitBreaker enables failing fast while the provider is unhealthy.
	CircuitBreaker bool `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`

	// BreakerMaxFailures is the consecutive failure count that opens the circuit.
	BreakerMaxFailures uint32 `json:"breaker_max_failures,omitempty" yaml:"breaker_max_failures,omitempty"`

	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration `json:"breaker_timeout,omitempty" yaml:"breaker_timeout,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: memory, sqlite, postgres, oceanbase. Only the section
// matching Provider is read. A zero Dimensions in that section inherits the
// embedder's.
//
// Example:
//
//	storeConfig := core.VectorStoreConfig{
//	    Provider: "postgres",
//	    Postgres: &postgres.Config{
//	        Host: "localhost", Port: 5432, User: "postgres",
//	        DBName: "tiermem", Table: "memories",
//	    },
//	}
type VectorStoreConfig struct {
	// Provider is the vector store provider name.
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=memory sqlite postgres oceanbase"`

	SQLite    *sqlite.Config    `json:"sqlite,omitempty" yaml:"sqlite,omitempty" validate:"required_if=Provider sqlite"`
	Postgres  *postgres.Config  `json:"postgres,omitempty" yaml:"postgres,omitempty" validate:"required_if=Provider postgres"`
	OceanBase *oceanbase.Config `json:"oceanbase,omitempty" yaml:"oceanbase,omitempty" validate:"required_if=Provider oceanbase"`
}

// EngineConfig holds the thresholds of store, retrieve and consolidate.
type EngineConfig struct {
	// MinImportanceToStore rejects memories scoring below it.
	// Default: 0.1
	MinImportanceToStore float64 `json:"min_importance_to_store" yaml:"min_importance_to_store" validate:"gte=0,lte=1"`

	// DeduplicationThreshold is the cosine similarity at or above which a new
	// memory reinforces an existing one instead of being created.
	// Default: 0.92
	DeduplicationThreshold float64 `json:"deduplication_threshold" yaml:"deduplication_threshold" validate:"gt=0,lte=1"`

	// DefaultTier is the tier of newly created memories.
	// Default: short-term
	DefaultTier types.Tier `json:"default_tier" yaml:"default_tier" validate:"tier"`

	// MaxMemoriesPerUser triggers a background consolidation of the user
	// when exceeded. Zero disables the trigger.
	// Default: 10000
	MaxMemoriesPerUser int `json:"max_memories_per_user" yaml:"max_memories_per_user" validate:"gte=0"`

	// DefaultLimit is the retrieval limit when the caller gives none.
	// Default: 10
	DefaultLimit int `json:"default_limit" yaml:"default_limit" validate:"gt=0"`

	// OverFetchFactor multiplies the limit to size the candidate set.
	// Default: 3
	OverFetchFactor int `json:"over_fetch_factor" yaml:"over_fetch_factor" validate:"gte=1"`

	// SimilarityThreshold is the default minimum similarity of candidates.
	// Default: 0.5
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=-1,lte=1"`

	// DiversityThreshold is the default similarity at which diversity
	// sampling drops a candidate.
	// Default: 0.85
	DiversityThreshold float64 `json:"diversity_threshold" yaml:"diversity_threshold" validate:"gt=0,lte=1"`

	// RecencyScaleDays is the e-folding time of the retrieval recency term.
	// Default: 30
	RecencyScaleDays float64 `json:"recency_scale_days" yaml:"recency_scale_days" validate:"gt=0"`

	// MinAge keeps memories younger than it out of consolidation.
	// Default: 24h
	MinAge time.Duration `json:"min_age" yaml:"min_age" validate:"gte=0"`

	// BatchSize is the number of memories loaded per consolidation batch.
	// Default: 100
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"gt=0"`

	// MaxBatches bounds one consolidation run.
	// Default: 10
	MaxBatches int `json:"max_batches" yaml:"max_batches" validate:"gt=0"`

	// MergeThreshold is the pairwise similarity of memories merged during
	// consolidation.
	// Default: 0.95
	MergeThreshold float64 `json:"merge_threshold" yaml:"merge_threshold" validate:"gt=0,lte=1"`

	// LockTimeout bounds waiting for a user lock or a consolidation lease.
	// Default: 5s
	LockTimeout time.Duration `json:"lock_timeout" yaml:"lock_timeout" validate:"gt=0"`

	// BackgroundTimeout bounds fire-and-forget access updates.
	// Default: 5s
	BackgroundTimeout time.Duration `json:"background_timeout" yaml:"background_timeout" validate:"gt=0"`

	// NodeID is the snowflake node of this engine instance. Instances sharing
	// a backend need distinct node ids.
	// Default: 1
	NodeID int64 `json:"node_id" yaml:"node_id" validate:"gte=0,lte=1023"`
}

// LeaseConfig selects the locker.
type LeaseConfig struct {
	// Provider is local (single process) or redis (shared).
	Provider string `json:"provider" yaml:"provider" validate:"oneof=local redis"`

	Redis lease.RedisConfig `json:"redis" yaml:"redis"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Mode is production, development or nop.
	Mode string `json:"mode" yaml:"mode" validate:"oneof=production development nop"`

	// Level overrides the mode's default level (debug, info, warn, error).
	Level string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// MetricsConfig configures Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Namespace prefixes every metric name. Default: tiermem
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// DefaultEngineConfig returns the default engine thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinImportanceToStore:   0.1,
		DeduplicationThreshold: 0.92,
		DefaultTier:            types.TierShortTerm,
		MaxMemoriesPerUser:     10000,
		DefaultLimit:           10,
		OverFetchFactor:        3,
		SimilarityThreshold:    0.5,
		DiversityThreshold:     0.85,
		RecencyScaleDays:       30,
		MinAge:                 24 * time.Hour,
		BatchSize:              100,
		MaxBatches:             10,
		MergeThreshold:         0.95,
		LockTimeout:            5 * time.Second,
		BackgroundTimeout:      5 * time.Second,
		NodeID:                 1,
	}
}

// DefaultConfig returns a configuration with every default filled in: the
// in-memory store, the hash embedder and a local locker.
func DefaultConfig() *Config {
	return &Config{
		Embedder: EmbedderConfig{
			Provider:   "hash",
			Dimensions: 256,
		},
		VectorStore: VectorStoreConfig{Provider: "memory"},
		Engine:      DefaultEngineConfig(),
		Lease:       LeaseConfig{Provider: "local"},
		Logging:     LoggingConfig{Mode: "production"},
		Metrics:     MetricsConfig{Namespace: "tiermem"},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables over DefaultConfig
//
// Supported environment variables:
//   - DATABASE_PROVIDER (memory, sqlite, postgres, oceanbase)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_DSN, POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE, POSTGRES_TABLE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD,
//     OCEANBASE_DATABASE, OCEANBASE_TABLE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL,
//     EMBEDDING_DIMS, EMBEDDING_CACHE_SIZE, EMBEDDING_CIRCUIT_BREAKER
//   - TIERMEM_MIN_IMPORTANCE, TIERMEM_DEDUP_THRESHOLD, TIERMEM_DEFAULT_TIER,
//     TIERMEM_MAX_MEMORIES_PER_USER, TIERMEM_MERGE_THRESHOLD, TIERMEM_LOCK_TIMEOUT,
//     TIERMEM_NODE_ID
//   - LEASE_PROVIDER (local, redis), REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - LOG_MODE, LOG_LEVEL, METRICS_ENABLED
//
// Returns a Config instance, or an error if a variable cannot be parsed.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()
	env := &envReader{}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	config.VectorStore.Provider = provider

	switch provider {
	case "sqlite":
		config.VectorStore.SQLite = &sqlite.Config{
			DBPath: getEnvOrDefault("SQLITE_PATH", "./tiermem.db"),
			Table:  getEnvOrDefault("SQLITE_TABLE", "memories"),
		}
	case "postgres":
		config.VectorStore.Postgres = &postgres.Config{
			DSN:      os.Getenv("POSTGRES_DSN"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     env.getInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnvOrDefault("POSTGRES_DATABASE", "tiermem"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			Table:    getEnvOrDefault("POSTGRES_TABLE", "memories"),
		}
	case "oceanbase":
		config.VectorStore.OceanBase = &oceanbase.Config{
			Host:     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			Port:     env.getInt("OCEANBASE_PORT", 2881),
			User:     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			Password: os.Getenv("OCEANBASE_PASSWORD"),
			DBName:   getEnvOrDefault("OCEANBASE_DATABASE", "tiermem"),
			Table:    getEnvOrDefault("OCEANBASE_TABLE", "memories"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "hash")
	config.Embedder.Provider = embedderProvider
	config.Embedder.APIKey = os.Getenv("EMBEDDING_API_KEY")
	config.Embedder.Model = os.Getenv("EMBEDDING_MODEL")
	config.Embedder.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	switch embedderProvider {
	case "openai":
		if config.Embedder.Model == "" {
			config.Embedder.Model = "text-embedding-3-small"
		}
		config.Embedder.Dimensions = env.getInt("EMBEDDING_DIMS", 1536)
	default:
		config.Embedder.Dimensions = env.getInt("EMBEDDING_DIMS", 256)
	}
	config.Embedder.CacheEntries = int64(env.getInt("EMBEDDING_CACHE_SIZE", 0))
	config.Embedder.CircuitBreaker = env.getBool("EMBEDDING_CIRCUIT_BREAKER", false)

	e := &config.Engine
	e.MinImportanceToStore = env.getFloat("TIERMEM_MIN_IMPORTANCE", e.MinImportanceToStore)
	e.DeduplicationThreshold = env.getFloat("TIERMEM_DEDUP_THRESHOLD", e.DeduplicationThreshold)
	e.DefaultTier = types.Tier(getEnvOrDefault("TIERMEM_DEFAULT_TIER", string(e.DefaultTier)))
	e.MaxMemoriesPerUser = env.getInt("TIERMEM_MAX_MEMORIES_PER_USER", e.MaxMemoriesPerUser)
	e.MergeThreshold = env.getFloat("TIERMEM_MERGE_THRESHOLD", e.MergeThreshold)
	e.LockTimeout = env.getDuration("TIERMEM_LOCK_TIMEOUT", e.LockTimeout)
	e.NodeID = int64(env.getInt("TIERMEM_NODE_ID", int(e.NodeID)))

	if curve := os.Getenv("TIERMEM_DECAY_CURVE"); curve != "" {
		decay := intelligence.DefaultDecayConfig()
		decay.Curve = intelligence.ProtectionCurve(curve)
		config.Decay = &decay
	}

	config.Lease.Provider = getEnvOrDefault("LEASE_PROVIDER", "local")
	config.Lease.Redis = lease.RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       env.getInt("REDIS_DB", 0),
	}

	config.Logging.Mode = getEnvOrDefault("LOG_MODE", config.Logging.Mode)
	config.Logging.Level = os.Getenv("LOG_LEVEL")
	config.Metrics.Enabled = env.getBool("METRICS_ENABLED", false)

	if env.err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", env.err)
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Keys missing from
// the file keep their DefaultConfig values.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Keys missing from
// the file keep their DefaultConfig values. Durations are written as Go
// duration strings ("24h", "500ms").
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	return config, nil
}

// Validate validates the configuration.
//
// Struct tags cover required fields and ranges; the tier policy and the
// optional scoring sections are checked on top.
//
// Returns an error matching ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidation(err)))
	}
	if err := c.Tiers.Validate(); err != nil {
		return NewMemoryError("Validate", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	if c.Scoring != nil {
		f := c.Scoring.Family
		if f.Content < 0 || f.Source < 0 || f.Context < 0 || f.Usage < 0 {
			return NewMemoryError("Validate", fmt.Errorf("%w: family weights must not be negative", ErrInvalidConfig))
		}
	}
	if c.Decay != nil {
		if err := c.Decay.Validate(); err != nil {
			return NewMemoryError("Validate", fmt.Errorf("%w: decay: %v", ErrInvalidConfig, err))
		}
	}
	if c.Lease.Provider == "redis" && c.Lease.Redis.Addr == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: redis lease requires an address", ErrInvalidConfig))
	}
	return nil
}

// tierPolicy merges the configured overrides over the default policy.
func (c *Config) tierPolicy() types.TierPolicy {
	policy := types.DefaultTierPolicy()
	for t, cfg := range c.Tiers {
		policy[t] = cfg
	}
	return policy
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed environment variables and keeps the first error.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
	}
}

func (r *envReader) getInt(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *envReader) getFloat(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *envReader) getBool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *envReader) getDuration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
