package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/intelligence"
	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// maxCASAttempts bounds the read-modify-write loop of a single update.
const maxCASAttempts = 8

const insertColumns = "id, tenant_id, user_id, scope_id, mem_type, tier, tags, importance, decay_score, " +
	"is_deleted, created_at, expires_at, version, rev, embedding, doc"

const selectColumns = "rev, embedding, doc"

// Config contains the table settings shared by every backend.
type Config struct {
	// Table is the name of the table storing memories.
	Table string

	// Dimensions is the dimension of embedding vectors.
	Dimensions int
}

// Client implements storage.Store on a database/sql connection.
type Client struct {
	db      *sql.DB
	dialect Dialect
	table   string
	dims    int
	now     func() time.Time
}

var _ storage.Store = (*Client)(nil)

// New creates a client over an open database and creates the table if it
// does not exist.
//
// Parameters:
//   - ctx: Context for the schema statements
//   - db: Open database connection; the client takes ownership
//   - dialect: Backend dialect
//   - cfg: Table name and embedding dimension
//
// Returns the client, or an error if a schema statement fails.
func New(ctx context.Context, db *sql.DB, dialect Dialect, cfg Config) (*Client, error) {
	if cfg.Table == "" {
		cfg.Table = "memories"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%s: embedding dimensions must be positive", dialect.Name())
	}
	c := &Client{db: db, dialect: dialect, table: cfg.Table, dims: cfg.Dimensions, now: time.Now}
	if err := c.initTables(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// initTables runs the dialect schema.
func (c *Client) initTables(ctx context.Context) error {
	for _, stmt := range c.dialect.Schema(c.table, c.dims) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: initTables: %w", c.dialect.Name(), err)
		}
	}
	return nil
}

// CreateIndex creates a vector index on the embedding column.
//
// Parameters:
//   - ctx: Context for the DDL statement
//   - cfg: Index settings; zero fields take their defaults
//
// Returns ErrIndexUnsupported on backends without vector indexes.
func (c *Client) CreateIndex(ctx context.Context, cfg IndexConfig) error {
	ddl, err := c.dialect.VectorIndex(c.table, "embedding", cfg.withDefaults(c.table))
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return c.wrap("CreateIndex", err)
	}
	return nil
}

// DB exposes the underlying connection.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Save inserts a memory.
func (c *Client) Save(ctx context.Context, memory *types.Memory) error {
	if err := memory.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(memory.Embedding.Vector) != c.dims {
		return fmt.Errorf("%w: embedding has %d dimensions, table expects %d", storage.ErrInvalidInput, len(memory.Embedding.Vector), c.dims)
	}
	m := memory.Clone()
	if m.Version == 0 {
		m.Version = 1
	}

	args, err := c.rowArgs(m, 1)
	if err != nil {
		return err
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.table, insertColumns, marks)

	if _, err := c.db.ExecContext(ctx, c.dialect.Rebind(query), args...); err != nil {
		if c.dialect.IsDuplicateKey(err) {
			return fmt.Errorf("%w: memory %s already exists", storage.ErrConflict, m.ID)
		}
		return c.wrap("Save", err)
	}
	return nil
}

// Get retrieves a memory by id.
func (c *Client) Get(ctx context.Context, id string) (*types.Memory, error) {
	m, _, err := c.load(ctx, id)
	return m, err
}

// Update applies a patch with optimistic concurrency.
func (c *Client) Update(ctx context.Context, id string, patch *storage.Patch) (*types.Memory, error) {
	return c.mutate(ctx, id, storage.PatchMutation(patch, c.now()))
}

// SoftDelete marks a memory deleted.
func (c *Client) SoftDelete(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, id, storage.SoftDeleteMutation(c.now()))
	return err
}

// HardDelete removes a memory permanently.
func (c *Client) HardDelete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table)
	result, err := c.db.ExecContext(ctx, c.dialect.Rebind(query), id)
	if err != nil {
		return c.wrap("HardDelete", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return c.wrap("HardDelete", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

// VectorSearch ranks the scope by cosine similarity. Backends with a native
// distance function rank in the database; the others rank in the client.
func (c *Client) VectorSearch(ctx context.Context, vector []float64, tenantID, userID string, filters *storage.SearchFilters) ([]storage.SearchResult, error) {
	if filters == nil {
		filters = &storage.SearchFilters{}
	}
	if dist := c.dialect.DistanceExpr("embedding"); dist != "" {
		return c.nativeSearch(ctx, dist, vector, tenantID, userID, filters)
	}
	return c.scanSearch(ctx, vector, tenantID, userID, filters)
}

func (c *Client) nativeSearch(ctx context.Context, dist string, vector []float64, tenantID, userID string, f *storage.SearchFilters) ([]storage.SearchResult, error) {
	qv := c.dialect.VectorValue(vector)
	w := searchWhere(tenantID, userID, f)
	if f.MinSimilarity > 0 {
		w.add(dist+" <= ?", qv, 1-f.MinSimilarity)
	}

	query := fmt.Sprintf("SELECT %s, %s AS distance FROM %s %s ORDER BY distance ASC", selectColumns, dist, c.table, w.clause())
	args := append([]interface{}{qv}, w.args...)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return nil, c.wrap("VectorSearch", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		var distance float64
		m, _, err := c.scanMemory(rows, &distance)
		if err != nil {
			return nil, c.wrap("VectorSearch", err)
		}
		sim := 1 - distance
		if sim < f.MinSimilarity || !f.Matches(m) {
			continue
		}
		results = append(results, storage.SearchResult{Memory: m, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, c.wrap("VectorSearch", err)
	}
	return results, nil
}

func (c *Client) scanSearch(ctx context.Context, vector []float64, tenantID, userID string, f *storage.SearchFilters) ([]storage.SearchResult, error) {
	w := searchWhere(tenantID, userID, f)
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id", selectColumns, c.table, w.clause())

	rows, err := c.db.QueryContext(ctx, c.dialect.Rebind(query), w.args...)
	if err != nil {
		return nil, c.wrap("VectorSearch", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.SearchResult
	for rows.Next() {
		m, _, err := c.scanMemory(rows)
		if err != nil {
			return nil, c.wrap("VectorSearch", err)
		}
		if !f.Matches(m) {
			continue
		}
		sim := intelligence.CosineSimilarity(vector, m.Embedding.Vector)
		if sim < f.MinSimilarity {
			continue
		}
		results = append(results, storage.SearchResult{Memory: m, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, c.wrap("VectorSearch", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// CountByUser counts non-deleted memories of a user.
func (c *Client) CountByUser(ctx context.Context, tenantID, userID string) (int, error) {
	w := &whereBuilder{}
	w.add("tenant_id = ?", tenantID)
	w.add("user_id = ?", userID)
	w.add("is_deleted = 0")
	return c.count(ctx, w)
}

// CountByTier counts non-deleted memories of a user in one tier.
func (c *Client) CountByTier(ctx context.Context, tenantID, userID string, tier types.Tier) (int, error) {
	w := &whereBuilder{}
	w.add("tenant_id = ?", tenantID)
	w.add("user_id = ?", userID)
	w.add("tier = ?", string(tier))
	w.add("is_deleted = 0")
	return c.count(ctx, w)
}

func (c *Client) count(ctx context.Context, w *whereBuilder) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", c.table, w.clause())
	var n int
	if err := c.db.QueryRowContext(ctx, c.dialect.Rebind(query), w.args...).Scan(&n); err != nil {
		return 0, c.wrap("Count", err)
	}
	return n, nil
}

// GetForConsolidation returns a batch of candidates ordered by id.
func (c *Client) GetForConsolidation(ctx context.Context, tenantID, userID string, q *storage.ConsolidationQuery) ([]*types.Memory, error) {
	if q == nil {
		q = &storage.ConsolidationQuery{}
	}
	return c.list(ctx, consolidationWhere(tenantID, userID, q), q.Limit, nil)
}

// FindByCriteria returns memories matching criteria ordered by id.
func (c *Client) FindByCriteria(ctx context.Context, criteria *storage.Criteria) ([]*types.Memory, error) {
	if criteria == nil || criteria.TenantID == "" {
		return nil, fmt.Errorf("%w: criteria requires a tenant id", storage.ErrInvalidInput)
	}
	return c.list(ctx, criteriaWhere(criteria), criteria.Limit, criteria.Matches)
}

func (c *Client) list(ctx context.Context, w *whereBuilder, limit int, keep func(*types.Memory) bool) ([]*types.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY id", selectColumns, c.table, w.clause())
	args := w.args
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return nil, c.wrap("List", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		m, _, err := c.scanMemory(rows)
		if err != nil {
			return nil, c.wrap("List", err)
		}
		if keep == nil || keep(m) {
			memories = append(memories, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, c.wrap("List", err)
	}
	return memories, nil
}

// UpdateTier moves a memory between tiers.
func (c *Client) UpdateTier(ctx context.Context, id string, from, to types.Tier) error {
	_, err := c.mutate(ctx, id, storage.TierMutation(from, to, c.now()))
	return err
}

// UpdateDecay stores a recalculated decay score.
func (c *Client) UpdateDecay(ctx context.Context, id string, score float64, calculatedAt time.Time) error {
	_, err := c.mutate(ctx, id, storage.DecayMutation(score, calculatedAt))
	return err
}

// UpdateAccess records a retrieval.
func (c *Client) UpdateAccess(ctx context.Context, id string, accessedAt time.Time) error {
	_, err := c.mutate(ctx, id, storage.AccessMutation(accessedAt))
	return err
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// mutate is a read-modify-write guarded by the row's rev column. A lost
// race re-reads the row and re-applies fn.
func (c *Client) mutate(ctx context.Context, id string, fn storage.Mutation) (*types.Memory, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, rev, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		changed, err := fn(next)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		ok, err := c.compareAndSwap(ctx, next, rev)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: memory %s changed concurrently", storage.ErrConflict, id)
}

func (c *Client) compareAndSwap(ctx context.Context, m *types.Memory, rev int64) (bool, error) {
	args, err := c.rowArgs(m, rev+1)
	if err != nil {
		return false, err
	}
	// Skip id; it is the key.
	cols := strings.Split(insertColumns, ", ")[1:]
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND rev = ?", c.table, strings.Join(sets, ", "))
	args = append(args[1:], m.ID, rev)

	result, err := c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return false, c.wrap("Update", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, c.wrap("Update", err)
	}
	return rowsAffected == 1, nil
}

func (c *Client) load(ctx context.Context, id string) (*types.Memory, int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns, c.table)
	row := c.db.QueryRowContext(ctx, c.dialect.Rebind(query), id)
	m, rev, err := c.scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, c.wrap("Get", err)
	}
	return m, rev, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory scans rev, embedding and doc, plus any extra destinations.
func (c *Client) scanMemory(s scanner, extra ...interface{}) (*types.Memory, int64, error) {
	var rev int64
	var doc string
	vs := c.dialect.NewVectorScanner()

	dest := append([]interface{}{&rev, vs, &doc}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, 0, err
	}

	var m types.Memory
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, 0, fmt.Errorf("parse memory document: %w", err)
	}
	m.Embedding.Vector = vs.Vector()
	return &m, rev, nil
}

// rowArgs returns the insert arguments of m in insertColumns order.
func (c *Client) rowArgs(m *types.Memory, rev int64) ([]interface{}, error) {
	doc := m.Clone()
	doc.Embedding.Vector = nil
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode memory: %v", storage.ErrInvalidInput, err)
	}

	return []interface{}{
		m.ID,
		m.TenantID,
		m.UserID,
		m.ScopeID,
		string(m.Type),
		string(m.Tier),
		encodeTags(m.Tags),
		m.ImportanceScore,
		m.Decay.Score,
		boolInt(m.IsDeleted),
		m.Metadata.CreatedAt.UnixNano(),
		nullableNanos(m.ExpiresAt),
		m.Version,
		rev,
		c.dialect.VectorValue(m.Embedding.Vector),
		string(data),
	}, nil
}

func (c *Client) wrap(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", c.dialect.Name(), op, err)
}
