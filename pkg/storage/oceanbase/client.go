// Package oceanbase provides the OceanBase backend of storage.Store.
//
// OceanBase speaks the MySQL protocol and ranks vectors natively with
// cosine_distance over a VECTOR column.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

// Config contains OceanBase configuration.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`

	Table      string `json:"table" yaml:"table"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`

	// VectorIndex, when set, is created after the table. OceanBase rejects
	// a second index of the same name, so set it on first start only.
	VectorIndex *sqlstore.IndexConfig `json:"vector_index,omitempty" yaml:"vector_index,omitempty"`
}

// DSN formats the go-sql-driver/mysql data source name.
func (cfg *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	return mc.FormatDSN()
}

// NewClient connects to OceanBase and prepares the table.
func NewClient(cfg *Config) (*sqlstore.Client, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
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
