package query

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Compile validates the query and returns a copy whose operand values are
// normalised to JSON types: numbers become float64, dates become RFC 3339 UTC
// strings and lists become []any. Compile is idempotent.
func (q Query) Compile() (Query, error) {
	out := Query{
		Where:   make([]Condition, 0, len(q.Where)),
		OrderBy: make([]Order, 0, len(q.OrderBy)),
		Limit:   q.Limit,
		Offset:  q.Offset,
	}

	for _, c := range q.Where {
		cc, err := compileCondition(c)
		if err != nil {
			return Query{}, err
		}
		out.Where = append(out.Where, cc)
	}

	for _, o := range q.OrderBy {
		if err := validateField(o.Field); err != nil {
			return Query{}, err
		}
		dir := Direction(strings.ToLower(string(o.Direction)))
		switch dir {
		case "":
			dir = Asc
		case Asc, Desc:
		default:
			return Query{}, errorf(CodeInvalidArgument, "invalid sort direction %q for field %q", o.Direction, o.Field)
		}
		out.OrderBy = append(out.OrderBy, Order{Field: o.Field, Direction: dir})
	}

	if q.Limit < 0 {
		return Query{}, errorf(CodeInvalidArgument, "limit must not be negative")
	}
	if q.Offset < 0 {
		return Query{}, errorf(CodeInvalidArgument, "offset must not be negative")
	}
	return out, nil
}

func compileCondition(c Condition) (Condition, error) {
	if !validOperators[c.Operator] {
		return Condition{}, errorf(CodeInvalidOperator, "unsupported operator %q", c.Operator)
	}
	if err := validateField(c.Field); err != nil {
		return Condition{}, err
	}

	value, err := normalizeValue(c.Value)
	if err != nil {
		return Condition{}, errorf(CodeInvalidArgument, "field %q: unsupported operand: %v", c.Field, err)
	}

	switch {
	case c.Operator.IsRange():
		switch v := value.(type) {
		case float64:
		case string:
			d, ok := parseDate(v)
			if !ok {
				return Condition{}, errorf(CodeInvalidArgument, "operator %q on field %q requires a number or date operand", c.Operator, c.Field)
			}
			value = d
		default:
			return Condition{}, errorf(CodeInvalidArgument, "operator %q on field %q requires a number or date operand", c.Operator, c.Field)
		}
	case c.Operator.TakesList():
		list, ok := value.([]any)
		if !ok {
			return Condition{}, errorf(CodeInvalidArgument, "operator %q on field %q requires an array operand", c.Operator, c.Field)
		}
		if len(list) == 0 {
			return Condition{}, errorf(CodeInvalidArgument, "operator %q on field %q requires a non-empty array", c.Operator, c.Field)
		}
	}

	return Condition{Field: c.Field, Operator: c.Operator, Value: value}, nil
}

func validateField(field string) error {
	if field == "" {
		return errorf(CodeInvalidArgument, "field must not be empty")
	}
	for _, seg := range SplitField(field) {
		if seg == "" {
			return errorf(CodeInvalidArgument, "invalid field path %q", field)
		}
		if strings.HasPrefix(seg, "$") || strings.ContainsAny(seg, "\"\x00") {
			return errorf(CodeInvalidArgument, "invalid field path %q", field)
		}
	}
	return nil
}

// normalizeValue converts Go values to their decoded-JSON equivalents.
func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case time.Time:
		return formatDate(t), nil
	case json.Number:
		return t.Float64()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32:
		return rv.Float(), nil
	}

	// Anything else (typed slices, structs) goes through a JSON round trip.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeDocument converts arbitrary document data to decoded-JSON types so
// that stored and compared values agree across backends.
func NormalizeDocument(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	n, err := normalizeValue(data)
	if err != nil {
		return nil, err
	}
	return n.(map[string]any), nil
}

func parseDate(s string) (string, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", false
	}
	return formatDate(t), true
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
