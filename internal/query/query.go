// Package query describes collection queries: conditions, ordering and
// pagination. It validates them, normalises operand values and evaluates them
// against decoded documents. Store backends render a compiled Query into their
// native filter language.
package query

import (
	"strings"
)

// Operator is a comparison operator in a where condition.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessEqual        Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterEqual     Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

var validOperators = map[Operator]bool{
	OpEqual:            true,
	OpNotEqual:         true,
	OpLess:             true,
	OpLessEqual:        true,
	OpGreater:          true,
	OpGreaterEqual:     true,
	OpIn:               true,
	OpNotIn:            true,
	OpArrayContains:    true,
	OpArrayContainsAny: true,
}

// IsRange reports whether the operator orders values (< <= > >=).
func (o Operator) IsRange() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// TakesList reports whether the operand must be an array.
func (o Operator) TakesList() bool {
	switch o {
	case OpIn, OpNotIn, OpArrayContainsAny:
		return true
	}
	return false
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Condition is a single `field operator value` predicate.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Order sorts results by a field.
type Order struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction,omitempty"`
}

// Desc reports whether the order is descending.
func (o Order) Desc() bool {
	return o.Direction == Desc
}

// Query is a conjunction of conditions with optional ordering and pagination.
// A zero Limit means no limit.
type Query struct {
	Where   []Condition `json:"where,omitempty"`
	OrderBy []Order     `json:"orderBy,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Offset  int         `json:"offset,omitempty"`
}

// IsEmpty reports whether the query selects the whole collection unordered.
func (q Query) IsEmpty() bool {
	return len(q.Where) == 0 && len(q.OrderBy) == 0 && q.Limit == 0 && q.Offset == 0
}

// SplitField splits a dotted field path into its segments.
func SplitField(field string) []string {
	return strings.Split(field, ".")
}
