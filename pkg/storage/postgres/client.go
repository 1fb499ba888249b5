// Package postgres provides the PostgreSQL + pgvector backend of
// storage.Store. Similarity ranking runs in the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// Config contains PostgreSQL configuration.
type Config struct {
	// DSN overrides the connection fields below when set.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`

	Table      string `json:"table" yaml:"table"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`

	// VectorIndex, when set, is created after the table.
	VectorIndex *sqlstore.IndexConfig `json:"vector_index,omitempty" yaml:"vector_index,omitempty"`
}

func (cfg *Config) dsn() string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient connects to PostgreSQL, enables pgvector and prepares the table.
func NewClient(cfg *Config) (*sqlstore.Client, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client, err := sqlstore.New(ctx, db, dialect{}, sqlstore.Config{
		Table:      cfg.Table,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.VectorIndex != nil {
		if err := client.CreateIndex(ctx, *cfg.VectorIndex); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}
