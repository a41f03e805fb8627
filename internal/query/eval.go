package query

import (
	"reflect"
	"strings"
	"time"
)

// Lookup returns the value at a dotted field path.
func Lookup(data map[string]any, field string) (any, bool) {
	var cur any = data
	for _, seg := range SplitField(field) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Match reports whether data satisfies every condition of the query.
// The query must be compiled and data normalised.
func (q Query) Match(data map[string]any) bool {
	for _, c := range q.Where {
		if !c.Match(data) {
			return false
		}
	}
	return true
}

// Match evaluates a single compiled condition. A missing field never matches.
func (c Condition) Match(data map[string]any) bool {
	v, ok := Lookup(data, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEqual:
		return equal(v, c.Value)
	case OpNotEqual:
		return !equal(v, c.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		cmp, ok := compareOrdered(v, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpLess:
			return cmp < 0
		case OpLessEqual:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		return member(v, c.Value.([]any))
	case OpNotIn:
		return !member(v, c.Value.([]any))
	case OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		return member(c.Value, arr)
	case OpArrayContainsAny:
		operands := c.Value.([]any)
		arr, ok := v.([]any)
		if !ok {
			// Scalar fields match by membership, like `in`.
			return member(v, operands)
		}
		for _, e := range arr {
			if member(e, operands) {
				return true
			}
		}
		return false
	}
	return false
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func member(v any, list []any) bool {
	for _, e := range list {
		if equal(v, e) {
			return true
		}
	}
	return false
}

// compareOrdered compares a document value to a range operand. Numbers compare
// numerically; strings compare as instants when both parse as RFC 3339 dates.
func compareOrdered(v, operand any) (int, bool) {
	switch o := operand.(type) {
	case float64:
		n, ok := v.(float64)
		if !ok {
			return 0, false
		}
		return compareFloat(n, o), true
	case string:
		s, ok := v.(string)
		if !ok {
			return 0, false
		}
		ot, err := time.Parse(time.RFC3339Nano, o)
		if err != nil {
			return 0, false
		}
		vt, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return vt.Compare(ot), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// typeRank orders values of different JSON types: missing/null, booleans,
// numbers, strings, arrays, objects.
func typeRank(v any, present bool) int {
	if !present || v == nil {
		return 0
	}
	switch v.(type) {
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	}
	return 5
}

func compareValues(a any, aok bool, b any, bok bool) int {
	ra, rb := typeRank(a, aok), typeRank(b, bok)
	if ra != rb {
		return compareFloat(float64(ra), float64(rb))
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		return compareFloat(av, b.(float64))
	case string:
		return strings.Compare(av, b.(string))
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := compareValues(av[i], true, bv[i], true); c != 0 {
				return c
			}
		}
		return compareFloat(float64(len(av)), float64(len(bv)))
	}
	return 0
}

// Compare orders two documents by the query's sort keys. It returns 0 when
// the keys tie; callers break ties by document id.
func (q Query) Compare(a, b map[string]any) int {
	for _, o := range q.OrderBy {
		av, aok := Lookup(a, o.Field)
		bv, bok := Lookup(b, o.Field)
		c := compareValues(av, aok, bv, bok)
		if o.Desc() {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Window returns the [start, end) slice bounds selected by Offset and Limit
// over n ordered results.
func (q Query) Window(n int) (int, int) {
	start := q.Offset
	if start > n {
		start = n
	}
	end := n
	if q.Limit > 0 && q.Limit < end-start {
		end = start + q.Limit
	}
	return start, end
}
