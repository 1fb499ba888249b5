package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/core"
	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/storage/sqlite"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *core.Config)
		wantErr bool
	}{
		{
			name: "sqlite with hash embedder",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"EMBEDDING_PROVIDER": "hash",
				"EMBEDDING_DIMS":     "128",
			},
			check: func(t *testing.T, cfg *core.Config) {
				require.NotNil(t, cfg.VectorStore.SQLite)
				assert.Equal(t, "./test.db", cfg.VectorStore.SQLite.DBPath)
				assert.Equal(t, "memories", cfg.VectorStore.SQLite.Table)
				assert.Equal(t, 128, cfg.Embedder.Dimensions)
			},
		},
		{
			name: "postgres with openai embedder",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "postgres",
				"POSTGRES_HOST":      "db",
				"POSTGRES_PORT":      "6543",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
			},
			check: func(t *testing.T, cfg *core.Config) {
				require.NotNil(t, cfg.VectorStore.Postgres)
				assert.Equal(t, "db", cfg.VectorStore.Postgres.Host)
				assert.Equal(t, 6543, cfg.VectorStore.Postgres.Port)
				assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
				assert.Equal(t, 1536, cfg.Embedder.Dimensions)
				assert.NoError(t, cfg.Validate())
			},
		},
		{
			name: "engine overrides",
			envVars: map[string]string{
				"DATABASE_PROVIDER":       "memory",
				"TIERMEM_DEDUP_THRESHOLD": "0.9",
				"TIERMEM_DEFAULT_TIER":    "long-term",
				"TIERMEM_LOCK_TIMEOUT":    "750ms",
				"LEASE_PROVIDER":          "redis",
				"REDIS_ADDR":              "localhost:6379",
				"TIERMEM_DECAY_CURVE":     "inverse",
			},
			check: func(t *testing.T, cfg *core.Config) {
				assert.Equal(t, 0.9, cfg.Engine.DeduplicationThreshold)
				assert.Equal(t, types.TierLongTerm, cfg.Engine.DefaultTier)
				assert.Equal(t, 750*time.Millisecond, cfg.Engine.LockTimeout)
				assert.Equal(t, "redis", cfg.Lease.Provider)
				assert.Equal(t, "localhost:6379", cfg.Lease.Redis.Addr)
				require.NotNil(t, cfg.Decay)
				assert.Equal(t, intelligence.CurveInverse, cfg.Decay.Curve)
			},
		},
		{
			name: "malformed number",
			envVars: map[string]string{
				"DATABASE_PROVIDER": "memory",
				"EMBEDDING_DIMS":    "many",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config, err := core.LoadConfigFromEnv()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.envVars["DATABASE_PROVIDER"], config.VectorStore.Provider)
			tt.check(t, config)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *core.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*core.Config) {}},
		{
			name: "sqlite store",
			mutate: func(cfg *core.Config) {
				cfg.VectorStore.Provider = "sqlite"
				cfg.VectorStore.SQLite = &sqlite.Config{DBPath: "./test.db"}
			},
		},
		{
			name:    "sqlite without section",
			mutate:  func(cfg *core.Config) { cfg.VectorStore.Provider = "sqlite" },
			wantErr: true,
		},
		{
			name:    "missing embedder provider",
			mutate:  func(cfg *core.Config) { cfg.Embedder.Provider = "" },
			wantErr: true,
		},
		{
			name:    "openai without key",
			mutate:  func(cfg *core.Config) { cfg.Embedder.Provider = "openai" },
			wantErr: true,
		},
		{
			name:    "unknown store",
			mutate:  func(cfg *core.Config) { cfg.VectorStore.Provider = "cassandra" },
			wantErr: true,
		},
		{
			name:    "dedup threshold out of range",
			mutate:  func(cfg *core.Config) { cfg.Engine.DeduplicationThreshold = 1.2 },
			wantErr: true,
		},
		{
			name:    "unknown default tier",
			mutate:  func(cfg *core.Config) { cfg.Engine.DefaultTier = "hot" },
			wantErr: true,
		},
		{
			name: "negative tier limit",
			mutate: func(cfg *core.Config) {
				cfg.Tiers = types.TierPolicy{types.TierWorking: {MaxMemories: -1}}
			},
			wantErr: true,
		},
		{
			name: "unknown decay curve",
			mutate: func(cfg *core.Config) {
				decay := intelligence.DefaultDecayConfig()
				decay.Curve = "cubic"
				cfg.Decay = &decay
			},
			wantErr: true,
		},
		{
			name:    "redis lease without address",
			mutate:  func(cfg *core.Config) { cfg.Lease.Provider = "redis" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *core.Config) { cfg.Logging.Level = "loud" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromFiles(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "tiermem.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"embedder": {"provider": "hash", "dimensions": 64},
		"engine": {"deduplication_threshold": 0.9}
	}`), 0o600))

	cfg, err := core.LoadConfigFromJSON(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Embedder.Dimensions)
	assert.Equal(t, 0.9, cfg.Engine.DeduplicationThreshold)
	assert.Equal(t, core.DefaultEngineConfig().BatchSize, cfg.Engine.BatchSize)
	assert.Equal(t, "memory", cfg.VectorStore.Provider)

	yamlPath := filepath.Join(dir, "tiermem.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
vector_store:
  provider: sqlite
  sqlite:
    db_path: ./memories.db
engine:
  min_age: 12h
  default_tier: working
tiers:
  long-term:
    max_memories: 500
    decay_rate_per_day: 0.01
`), 0o600))

	cfg, err = core.LoadConfigFromYAML(yamlPath)
	require.NoError(t, err)
	require.NotNil(t, cfg.VectorStore.SQLite)
	assert.Equal(t, "./memories.db", cfg.VectorStore.SQLite.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.Engine.MinAge)
	assert.Equal(t, types.TierWorking, cfg.Engine.DefaultTier)
	assert.Equal(t, 0.92, cfg.Engine.DeduplicationThreshold)
	require.Contains(t, cfg.Tiers, types.TierLongTerm)
	assert.Equal(t, 500, cfg.Tiers[types.TierLongTerm].MaxMemories)
	assert.NoError(t, cfg.Validate())

	_, err = core.LoadConfigFromJSON(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFindEnvFile(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_MODE=nop\n"), 0o600))
	t.Chdir(nested)

	envPath, found := core.FindEnvFile()
	require.True(t, found)
	assert.Equal(t, filepath.Join(dir, ".env"), envPath)
}

func TestNewClient_EndToEnd(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Logging.Mode = "nop"

	client, err := core.NewClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	stored, err := client.Store(ctx, &core.StoreRequest{
		TenantID: "acme",
		UserID:   "u1",
		Type:     types.TypeFact,
		Content:  "User works at DNB",
		Source:   types.SourceExplicitStatement,
	})
	require.NoError(t, err)
	assert.False(t, stored.Reinforced)

	res, err := client.Retrieve(ctx, &core.RetrieveRequest{
		Query:    "User works at DNB",
		TenantID: "acme",
		UserID:   "u1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Memories)
	assert.Equal(t, stored.Memory.ID, res.Memories[0].Memory.ID)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := core.NewClient(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg := core.DefaultConfig()
	cfg.Embedder.Dimensions = 0
	_, err = core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
