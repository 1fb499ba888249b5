package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	sqliteStore "github.com/oceanbase/tiermem-go/pkg/storage/sqlite"
	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
	"github.com/oceanbase/tiermem-go/pkg/storage/storagetest"
)

func setupSQLiteTest(t *testing.T) *sqlstore.Client {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:     filepath.Join(t.TempDir(), "data", "tiermem.db"),
		Table:      "memories",
		Dimensions: storagetest.Dimensions,
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	return store
}

func TestSQLiteClient_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupSQLiteTest(t)
	})
}

func TestSQLiteClient_InMemory(t *testing.T) {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:     ":memory:",
		Table:      "memories",
		Dimensions: storagetest.Dimensions,
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))
	n, err := store.CountByUser(ctx, "acme", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteClient_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiermem.db")
	cfg := &sqliteStore.Config{DBPath: path, Table: "memories", Dimensions: storagetest.Dimensions}

	store, err := sqliteStore.NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), storagetest.NewMemory("1", "acme", "u1", []float64{0, 0, 1, 0})))
	require.NoError(t, store.Close())

	store, err = sqliteStore.NewClient(cfg)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 0}, got.Embedding.Vector)
}

func TestSQLiteClient_DimensionMismatch(t *testing.T) {
	store := setupSQLiteTest(t)
	defer store.Close()

	err := store.Save(context.Background(), storagetest.NewMemory("1", "acme", "u1", []float64{1, 0}))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSQLiteClient_CreateIndexUnsupported(t *testing.T) {
	store := setupSQLiteTest(t)
	defer store.Close()

	err := store.CreateIndex(context.Background(), sqlstore.IndexConfig{})
	assert.ErrorIs(t, err, sqlstore.ErrIndexUnsupported)
}

func TestSQLiteClient_ConcurrentUpdates(t *testing.T) {
	store := setupSQLiteTest(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, storagetest.NewMemory("1", "acme", "u1", []float64{1, 0, 0, 0})))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateAccess(ctx, "1", time.Now()))
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Metadata.AccessCount)
}
