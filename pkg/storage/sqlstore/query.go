package sqlstore

import (
	"strings"
	"time"

	"github.com/oceanbase/tiermem-go/pkg/storage"
	"github.com/oceanbase/tiermem-go/pkg/types"
)

// whereBuilder collects AND-ed conditions written with ? placeholders.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	w.conditions = append(w.conditions, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) in(column string, values []string, negate bool) {
	if len(values) == 0 {
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		w.args = append(w.args, v)
	}
	op := " IN ("
	if negate {
		op = " NOT IN ("
	}
	w.conditions = append(w.conditions, column+op+strings.Join(marks, ", ")+")")
}

// anyTag matches rows whose tags column contains at least one tag. The LIKE
// pattern may over-match tags containing wildcards; callers re-check.
func (w *whereBuilder) anyTag(tags []string) {
	if len(tags) == 0 {
		return
	}
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = "tags LIKE ?"
		w.args = append(w.args, "%"+tagSep+tag+tagSep+"%")
	}
	w.conditions = append(w.conditions, "("+strings.Join(parts, " OR ")+")")
}

func (w *whereBuilder) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}

// searchWhere builds the WHERE clause of a vector search.
func searchWhere(tenantID, userID string, f *storage.SearchFilters) *whereBuilder {
	w := &whereBuilder{}
	w.add("tenant_id = ?", tenantID)
	w.add("user_id = ?", userID)
	w.add("is_deleted = 0")
	if f.ScopeID != "" {
		w.add("scope_id = ?", f.ScopeID)
	}
	w.in("tier", tierStrings(f.Tiers), false)
	w.in("mem_type", typeStrings(f.Types), false)
	w.anyTag(f.Tags)
	w.in("id", f.ExcludeIDs, true)
	if !f.NotExpiredAt.IsZero() {
		w.add("(expires_at IS NULL OR expires_at > ?)", f.NotExpiredAt.UnixNano())
	}
	return w
}

// criteriaWhere builds the WHERE clause of a criteria scan.
func criteriaWhere(c *storage.Criteria) *whereBuilder {
	w := &whereBuilder{}
	w.add("tenant_id = ?", c.TenantID)
	if c.UserID != "" {
		w.add("user_id = ?", c.UserID)
	}
	if c.ScopeID != "" {
		w.add("scope_id = ?", c.ScopeID)
	}
	if !c.IncludeDeleted {
		w.add("is_deleted = 0")
	}
	w.in("mem_type", typeStrings(c.Types), false)
	w.anyTag(c.Tags)
	w.in("id", c.IDs, false)
	if c.MaxDecay != nil {
		w.add("decay_score <= ?", *c.MaxDecay)
	}
	if c.CreatedBefore != nil {
		w.add("created_at <= ?", c.CreatedBefore.UnixNano())
	}
	return w
}

// consolidationWhere builds the WHERE clause of a consolidation batch.
func consolidationWhere(tenantID, userID string, q *storage.ConsolidationQuery) *whereBuilder {
	w := &whereBuilder{}
	w.add("tenant_id = ?", tenantID)
	if userID != "" {
		w.add("user_id = ?", userID)
	}
	w.add("is_deleted = 0")
	if !q.CreatedBefore.IsZero() {
		w.add("created_at <= ?", q.CreatedBefore.UnixNano())
	}
	if q.AfterID != "" {
		w.add("id > ?", q.AfterID)
	}
	return w
}

const tagSep = "|"

// encodeTags stores tags as |a|b| so a single LIKE finds one tag.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tagSep + strings.Join(tags, tagSep) + tagSep
}

func tierStrings(tiers []types.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

func typeStrings(ts []types.MemoryType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
