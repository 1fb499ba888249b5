package sqlite

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// dialect stores vectors as JSON text and leaves similarity to the client.
type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Rebind(query string) string { return sqlstore.QuestionRebind(query) }

func (dialect) Schema(table string, dims int) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			mem_type TEXT NOT NULL,
			tier TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL,
			decay_score REAL NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			version INTEGER NOT NULL,
			rev INTEGER NOT NULL,
			embedding TEXT NOT NULL,
			doc TEXT NOT NULL
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(tenant_id, user_id, tier, is_deleted)`, table, table),
	}
}

func (dialect) VectorValue(v []float64) interface{} {
	data, _ := json.Marshal(v)
	return string(data)
}

func (dialect) NewVectorScanner() sqlstore.VectorScanner { return &jsonVector{} }

func (dialect) DistanceExpr(string) string { return "" }

func (dialect) IsDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (dialect) VectorIndex(string, string, sqlstore.IndexConfig) (string, error) {
	return "", sqlstore.ErrIndexUnsupported
}

// jsonVector scans a JSON array column.
type jsonVector struct {
	v []float64
}

func (j *jsonVector) Scan(src interface{}) error {
	var data []byte
	switch s := src.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	case nil:
		j.v = nil
		return nil
	default:
		return fmt.Errorf("sqlite: cannot scan %T into vector", src)
	}
	return json.Unmarshal(data, &j.v)
}

func (j *jsonVector) Vector() []float64 { return j.v }
