package query

import (
	"encoding/json"
)

// Builder assembles a Query fluently. The first construction error sticks and
// is returned by Build; later calls are ignored.
type Builder struct {
	q   Query
	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Where adds a condition. Conditions must precede any OrderBy.
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.q.OrderBy) > 0 {
		b.err = errorf(CodeInvalidQuery, "where(%q) cannot be applied after orderBy", field)
		return b
	}
	b.q.Where = append(b.q.Where, Condition{Field: field, Operator: op, Value: value})
	return b
}

// OrderBy adds a sort key.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	if b.err != nil {
		return b
	}
	b.q.OrderBy = append(b.q.OrderBy, Order{Field: field, Direction: dir})
	return b
}

// Limit caps the number of results.
func (b *Builder) Limit(n int) *Builder {
	if b.err == nil {
		b.q.Limit = n
	}
	return b
}

// Offset skips the first n results.
func (b *Builder) Offset(n int) *Builder {
	if b.err == nil {
		b.q.Offset = n
	}
	return b
}

// Build validates and returns the compiled query.
func (b *Builder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}
	return b.q.Compile()
}

// Parse decodes a JSON query object ({where, orderBy, limit, offset}) and
// compiles it. A null or empty payload yields the empty query.
func Parse(raw []byte) (Query, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Query{}, nil
	}
	var q Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return Query{}, &Error{Code: CodeInvalidQuery, Message: "malformed query", cause: err}
	}
	b := NewBuilder()
	for _, c := range q.Where {
		b.Where(c.Field, c.Operator, c.Value)
	}
	for _, o := range q.OrderBy {
		b.OrderBy(o.Field, o.Direction)
	}
	return b.Limit(q.Limit).Offset(q.Offset).Build()
}
