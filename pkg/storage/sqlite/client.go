// Package sqlite provides the SQLite backend of storage.Store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale applications. Vectors are stored as JSON strings in TEXT
// fields, and similarity search uses in-process cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file. ":memory:" keeps the
	// database in process.
	DBPath string `json:"db_path" yaml:"db_path"`

	// Table is the name of the table to use.
	Table string `json:"table" yaml:"table"`

	// Dimensions is the dimension of embedding vectors.
	Dimensions int `json:"dimensions" yaml:"dimensions"`
}

// NewClient opens a SQLite database and prepares its table.
//
// Parameters:
//   - cfg: Configuration containing database path, table name, and embedding dimensions
//
// Returns:
//   - *sqlstore.Client: The store
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*sqlstore.Client, error) {
	inMemory := cfg.DBPath == ":memory:"
	if !inMemory {
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client, err := sqlstore.New(context.Background(), db, dialect{}, sqlstore.Config{
		Table:      cfg.Table,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return client, nil
}
