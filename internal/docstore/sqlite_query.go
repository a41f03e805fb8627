package docstore

import (
	"encoding/json"
	"strings"

	"github.com/markb/firelite/internal/query"
)

// sqliteBuilder accumulates positional arguments while rendering a compiled
// query into SQLite JSON1 predicates.
type sqliteBuilder struct {
	args []any
}

func (b *sqliteBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "?"
}

// sqliteRef is a value position in SQL: either a document field or a
// json_each row.
type sqliteRef struct {
	typ string
	val string
}

func (b *sqliteBuilder) field(name string) sqliteRef {
	path := jsonPath(name)
	return sqliteRef{
		typ: "json_type(data, " + b.arg(path) + ")",
		val: "json_extract(data, " + b.arg(path) + ")",
	}
}

var eachRef = sqliteRef{typ: "e.type", val: "e.value"}

// jsonPath quotes every segment so field names never reach SQL text.
func jsonPath(field string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range query.SplitField(field) {
		sb.WriteString(`."`)
		sb.WriteString(seg)
		sb.WriteString(`"`)
	}
	return sb.String()
}

// eq renders a type-aware equality; SQLite would otherwise treat true and 1
// or "1" and 1 as the same value.
func (b *sqliteBuilder) eq(ref sqliteRef, v any) string {
	switch v := v.(type) {
	case nil:
		return ref.typ + " = 'null'"
	case bool:
		if v {
			return ref.typ + " = 'true'"
		}
		return ref.typ + " = 'false'"
	case float64:
		return "(" + ref.typ + " IN ('integer', 'real') AND " + ref.val + " = " + b.arg(v) + ")"
	case string:
		return "(" + ref.typ + " = 'text' AND " + ref.val + " = " + b.arg(v) + ")"
	default:
		raw, _ := json.Marshal(v)
		return "(" + ref.typ + " IN ('array', 'object') AND " + ref.val + " = json(" + b.arg(string(raw)) + "))"
	}
}

func (b *sqliteBuilder) anyEq(ref sqliteRef, list []any) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = b.eq(ref, v)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (b *sqliteBuilder) condition(c query.Condition) string {
	switch c.Operator {
	case query.OpEqual:
		return b.eq(b.field(c.Field), c.Value)
	case query.OpNotEqual:
		ref := b.field(c.Field)
		return "(" + ref.typ + " IS NOT NULL AND NOT " + b.eq(ref, c.Value) + ")"
	case query.OpLess, query.OpLessEqual, query.OpGreater, query.OpGreaterEqual:
		ref := b.field(c.Field)
		guard := ref.typ + " IN ('integer', 'real')"
		if _, ok := c.Value.(string); ok {
			guard = ref.typ + " = 'text'"
		}
		return "(" + guard + " AND " + ref.val + " " + string(c.Operator) + " " + b.arg(c.Value) + ")"
	case query.OpIn:
		return b.anyEq(b.field(c.Field), c.Value.([]any))
	case query.OpNotIn:
		ref := b.field(c.Field)
		return "(" + ref.typ + " IS NOT NULL AND NOT " + b.anyEq(ref, c.Value.([]any)) + ")"
	case query.OpArrayContains:
		path := jsonPath(c.Field)
		return "(json_type(data, " + b.arg(path) + ") = 'array' AND EXISTS (SELECT 1 FROM json_each(data, " +
			b.arg(path) + ") AS e WHERE " + b.eq(eachRef, c.Value) + "))"
	case query.OpArrayContainsAny:
		// json_each over a scalar yields the scalar itself, which gives
		// membership semantics for non-array fields.
		path := jsonPath(c.Field)
		return "(json_type(data, " + b.arg(path) + ") <> 'object' AND EXISTS (SELECT 1 FROM json_each(data, " +
			b.arg(path) + ") AS e WHERE " + b.anyEq(eachRef, c.Value.([]any)) + "))"
	}
	return "0"
}

// buildSQLiteSelect renders a compiled query over one collection.
func buildSQLiteSelect(collection string, q query.Query) (string, []any) {
	b := &sqliteBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT id, data, created_at, updated_at FROM _documents WHERE collection = ")
	sb.WriteString(b.arg(collection))

	for _, c := range q.Where {
		sb.WriteString(" AND ")
		sb.WriteString(b.condition(c))
	}

	sb.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		sb.WriteString("json_extract(data, ")
		sb.WriteString(b.arg(jsonPath(o.Field)))
		if o.Desc() {
			sb.WriteString(") DESC, ")
		} else {
			sb.WriteString(") ASC, ")
		}
	}
	sb.WriteString("id ASC")

	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT " + b.arg(q.Limit) + " OFFSET " + b.arg(q.Offset))
	case q.Offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET " + b.arg(q.Offset))
	}
	return sb.String(), b.args
}
