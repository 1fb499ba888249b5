package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

// dialect stores vectors in a pgvector column and ranks with <=>.
type dialect struct{}

func (dialect) Name() string { return "postgres" }

func (dialect) Rebind(query string) string { return sqlstore.DollarRebind(query) }

func (dialect) Schema(table string, dims int) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			scope_id VARCHAR(255) NOT NULL DEFAULT '',
			mem_type VARCHAR(32) NOT NULL,
			tier VARCHAR(32) NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			importance DOUBLE PRECISION NOT NULL,
			decay_score DOUBLE PRECISION NOT NULL,
			is_deleted SMALLINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			expires_at BIGINT,
			version BIGINT NOT NULL,
			rev BIGINT NOT NULL,
			embedding vector(%d) NOT NULL,
			doc TEXT NOT NULL
		)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(tenant_id, user_id, tier, is_deleted)`, table, table),
	}
}

func (dialect) VectorValue(v []float64) interface{} {
	f32 := make([]float32, len(v))
	for i, x := range v {
		f32[i] = float32(x)
	}
	return pgvector.NewVector(f32)
}

func (dialect) NewVectorScanner() sqlstore.VectorScanner { return &vectorColumn{} }

// DistanceExpr uses pgvector's cosine distance operator (1 - cosine similarity).
func (dialect) DistanceExpr(column string) string { return column + " <=> ?" }

func (dialect) IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (dialect) VectorIndex(table, column string, cfg sqlstore.IndexConfig) (string, error) {
	switch cfg.Type {
	case sqlstore.IndexTypeHNSW:
		return fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING hnsw (%s vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)`,
			cfg.Name, table, column, cfg.M, cfg.EfConstruction), nil
	case sqlstore.IndexTypeIVFFlat:
		return fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING ivfflat (%s vector_cosine_ops)
			WITH (lists = %d)`,
			cfg.Name, table, column, cfg.Lists), nil
	default:
		return "", fmt.Errorf("unsupported index type: %s", cfg.Type)
	}
}

// vectorColumn scans a pgvector column.
type vectorColumn struct {
	v pgvector.Vector
}

func (c *vectorColumn) Scan(src interface{}) error {
	return c.v.Scan(src)
}

func (c *vectorColumn) Vector() []float64 {
	f32 := c.v.Slice()
	out := make([]float64, len(f32))
	for i, x := range f32 {
		out[i] = float64(x)
	}
	return out
}
