package oceanbase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// errDupEntry is the MySQL error number of a duplicate key.
const errDupEntry = 1062

// dialect stores vectors in an OceanBase VECTOR column and ranks with
// cosine_distance.
type dialect struct{}

func (dialect) Name() string { return "oceanbase" }

func (dialect) Rebind(query string) string { return sqlstore.QuestionRebind(query) }

func (dialect) Schema(table string, dims int) []string {
	return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(128) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			scope_id VARCHAR(128) NOT NULL DEFAULT '',
			mem_type VARCHAR(32) NOT NULL,
			tier VARCHAR(32) NOT NULL,
			tags TEXT,
			importance DOUBLE NOT NULL,
			decay_score DOUBLE NOT NULL,
			is_deleted TINYINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NULL,
			version BIGINT NOT NULL,
			rev BIGINT NOT NULL,
			embedding VECTOR(%d),
			doc LONGTEXT NOT NULL,
			INDEX idx_scope (tenant_id, user_id, tier, is_deleted)
		)`, table, dims)}
}

// VectorValue formats a vector as an OceanBase VECTOR literal.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func (dialect) VectorValue(v []float64) interface{} {
	return vectorToString(v)
}

func (dialect) NewVectorScanner() sqlstore.VectorScanner { return &vectorText{} }

func (dialect) DistanceExpr(column string) string {
	return "cosine_distance(" + column + ", ?)"
}

func (dialect) IsDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDupEntry
}

func (dialect) VectorIndex(table, column string, cfg sqlstore.IndexConfig) (string, error) {
	switch cfg.Type {
	case sqlstore.IndexTypeHNSW:
		return fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = HNSW,
				M = %d,
				efConstruction = %d,
				metric_type = cosine
			)`,
			cfg.Name, table, column, cfg.M, cfg.EfConstruction), nil
	case sqlstore.IndexTypeIVFFlat:
		return fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (%s) WITH (
				index_type = IVF_FLAT,
				nlist = %d,
				metric_type = cosine
			)`,
			cfg.Name, table, column, cfg.Lists), nil
	default:
		return "", fmt.Errorf("CreateIndex: invalid index type %q", cfg.Type)
	}
}

func vectorToString(vector []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// stringToVector parses "[0.1,0.2,0.3]".
func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}
	return result, nil
}

// vectorText scans a VECTOR column returned as text.
type vectorText struct {
	v []float64
}

func (t *vectorText) Scan(src interface{}) error {
	var err error
	switch s := src.(type) {
	case string:
		t.v, err = stringToVector(s)
	case []byte:
		t.v, err = stringToVector(string(s))
	case nil:
		t.v = nil
	default:
		err = fmt.Errorf("oceanbase: cannot scan %T into vector", src)
	}
	return err
}

func (t *vectorText) Vector() []float64 { return t.v }
