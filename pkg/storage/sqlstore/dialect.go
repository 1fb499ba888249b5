// Package sqlstore implements storage.Store on database/sql.
//
// One Client serves SQLite, PostgreSQL (pgvector) and OceanBase. The
// differences between the backends (placeholders, DDL, vector encoding,
// native distance functions and duplicate-key errors) are isolated behind
// the Dialect interface; the backend packages provide the dialects.
//
// Every row keeps the full memory as a JSON document next to the columns
// the queries filter on, so the schema does not have to change when the
// memory model grows.
package sqlstore

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// VectorScanner scans an embedding column.
type VectorScanner interface {
	sql.Scanner
	Vector() []float64
}

// Dialect captures the backend-specific parts of the SQL client.
type Dialect interface {
	// Name identifies the backend in errors and logs.
	Name() string

	// Rebind rewrites a query written with ? placeholders into the
	// backend's placeholder syntax.
	Rebind(query string) string

	// Schema returns the DDL statements that create the table and its
	// indexes. Statements must be idempotent.
	Schema(table string, dims int) []string

	// VectorValue encodes a vector as a query argument.
	VectorValue(v []float64) interface{}

	// NewVectorScanner returns a destination for the embedding column.
	NewVectorScanner() VectorScanner

	// DistanceExpr returns an SQL expression computing the cosine distance
	// between the embedding column and one ? placeholder bound to the query
	// vector. An empty string means the backend has no native distance and
	// similarity is computed by the client.
	DistanceExpr(column string) string

	// IsDuplicateKey reports whether err is a primary key violation.
	IsDuplicateKey(err error) bool

	// VectorIndex returns the DDL creating an approximate nearest neighbour
	// index on column, or ErrIndexUnsupported.
	VectorIndex(table, column string, cfg IndexConfig) (string, error)
}

// ErrIndexUnsupported is returned by dialects without vector indexes.
var ErrIndexUnsupported = errors.New("vector index not supported by backend")

// IndexType is an approximate nearest neighbour index algorithm.
type IndexType string

const (
	IndexTypeHNSW    IndexType = "hnsw"
	IndexTypeIVFFlat IndexType = "ivfflat"
)

// IndexConfig describes a vector index.
type IndexConfig struct {
	// Name of the index. Default: idx_<table>_embedding
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is the index algorithm. Default: hnsw
	Type IndexType `json:"type" yaml:"type"`

	// M is the HNSW graph degree. Default: 16
	M int `json:"m,omitempty" yaml:"m,omitempty"`

	// EfConstruction is the HNSW build-time candidate list size. Default: 64
	EfConstruction int `json:"ef_construction,omitempty" yaml:"ef_construction,omitempty"`

	// Lists is the IVF partition count. Default: 100
	Lists int `json:"lists,omitempty" yaml:"lists,omitempty"`
}

func (cfg IndexConfig) withDefaults(table string) IndexConfig {
	if cfg.Name == "" {
		cfg.Name = "idx_" + table + "_embedding"
	}
	if cfg.Type == "" {
		cfg.Type = IndexTypeHNSW
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 64
	}
	if cfg.Lists <= 0 {
		cfg.Lists = 100
	}
	return cfg
}

// QuestionRebind leaves ? placeholders untouched.
func QuestionRebind(query string) string {
	return query
}

// DollarRebind rewrites ? placeholders into $1, $2, ...
func DollarRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
