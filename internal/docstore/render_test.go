package docstore

import (
	"strings"
	"testing"

	"github.com/markb/firelite/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func compiled(t *testing.T, q query.Query) query.Query {
	t.Helper()
	c, err := q.Compile()
	require.NoError(t, err)
	return c
}

func TestJSONPathQuotesSegments(t *testing.T) {
	assert.Equal(t, `$."address"."city"`, jsonPath("address.city"))
	assert.Equal(t, `$."a-b c"`, jsonPath("a-b c"))
}

func TestSQLiteSelect(t *testing.T) {
	q := compiled(t, query.Query{
		Where:   []query.Condition{{Field: "age", Operator: query.OpGreater, Value: 21}},
		OrderBy: []query.Order{{Field: "age", Direction: query.Desc}},
		Limit:   10,
	})
	stmt, args := buildSQLiteSelect("users", q)

	assert.Contains(t, stmt, "WHERE collection = ? AND (json_type(data, ?) IN ('integer', 'real') AND json_extract(data, ?) > ?)")
	assert.Contains(t, stmt, "ORDER BY json_extract(data, ?) DESC, id ASC LIMIT ? OFFSET ?")
	assert.Equal(t, []any{"users", `$."age"`, `$."age"`, 21.0, `$."age"`, 10, 0}, args)
	assert.Equal(t, strings.Count(stmt, "?"), len(args))
}

func TestSQLiteSelectPlaceholderCount(t *testing.T) {
	q := compiled(t, query.Query{Where: []query.Condition{
		{Field: "a", Operator: query.OpEqual, Value: nil},
		{Field: "b", Operator: query.OpNotIn, Value: []any{1, "x", true}},
		{Field: "c", Operator: query.OpArrayContains, Value: map[string]any{"k": 1}},
		{Field: "d", Operator: query.OpArrayContainsAny, Value: []any{1, 2}},
		{Field: "e", Operator: query.OpLessEqual, Value: "2024-01-01T00:00:00Z"},
	}, Offset: 5})
	stmt, args := buildSQLiteSelect("users", q)
	assert.Equal(t, strings.Count(stmt, "?"), len(args))
	assert.Contains(t, stmt, "json_type(data, ?) = 'null'")
	assert.Contains(t, stmt, "LIMIT -1 OFFSET ?")
	assert.Contains(t, stmt, `json(?)`)
}

func TestMongoFilter(t *testing.T) {
	q := compiled(t, query.Query{Where: []query.Condition{
		{Field: "age", Operator: query.OpGreaterEqual, Value: 18},
		{Field: "age", Operator: query.OpLess, Value: 65},
		{Field: "tags", Operator: query.OpArrayContains, Value: "staff"},
		{Field: "name", Operator: query.OpNotEqual, Value: "Bob"},
	}})
	filter := mongoFilter(q)

	require.Len(t, filter, 1)
	assert.Equal(t, "$and", filter[0].Key)
	clauses := filter[0].Value.(bson.A)
	require.Len(t, clauses, 4)

	assert.Equal(t, bson.D{{Key: "data.age", Value: bson.D{{Key: "$gte", Value: 18.0}, {Key: "$not", Value: notArray}}}}, clauses[0])
	assert.Equal(t, bson.D{{Key: "data.age", Value: bson.D{{Key: "$lt", Value: 65.0}, {Key: "$not", Value: notArray}}}}, clauses[1])
	assert.Equal(t, bson.D{{Key: "data.tags", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: "staff"}}}}}}, clauses[2])
	assert.Equal(t, bson.D{{Key: "data.name", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: "Bob"}}}}, clauses[3])
}

func TestMongoFilterEmptyAndNull(t *testing.T) {
	assert.Equal(t, bson.D{}, mongoFilter(compiled(t, query.Query{})))

	f := mongoFilter(compiled(t, where("deletedAt", query.OpEqual, nil)))
	clause := f[0].Value.(bson.A)[0].(bson.D)
	assert.Equal(t, bson.D{{Key: "$type", Value: "null"}, {Key: "$not", Value: notArray}}, clause[0].Value)

	f = mongoFilter(compiled(t, where("tags", query.OpEqual, []any{"a", "b"})))
	clause = f[0].Value.(bson.A)[0].(bson.D)
	assert.Equal(t, bson.D{{Key: "$eq", Value: []any{"a", "b"}}}, clause[0].Value)
}

func TestMongoSort(t *testing.T) {
	q := compiled(t, query.Query{OrderBy: []query.Order{{Field: "score", Direction: query.Desc}, {Field: "name"}}})
	assert.Equal(t, bson.D{
		{Key: "data.score", Value: -1},
		{Key: "data.name", Value: 1},
		{Key: "_id", Value: 1},
	}, mongoSort(q))
}

func TestPostgresSelect(t *testing.T) {
	q := compiled(t, query.Query{
		Where: []query.Condition{
			{Field: "profile.age", Operator: query.OpGreater, Value: 21},
			{Field: "tags", Operator: query.OpIn, Value: []any{"a"}},
		},
		OrderBy: []query.Order{{Field: "profile.age"}},
		Limit:   5,
		Offset:  2,
	})
	stmt, args := buildPostgresSelect("users", q)

	assert.Contains(t, stmt, "WHERE collection = $1 AND (jsonb_typeof((data #> $2::text[])) = 'number' AND (data #> $2::text[]) > $3::text::jsonb)")
	assert.Contains(t, stmt, "(data #> $4::text[]) IN (SELECT value FROM jsonb_array_elements($5::text::jsonb))")
	assert.Contains(t, stmt, "ORDER BY (data #> $6::text[]) ASC NULLS FIRST, id ASC LIMIT $7 OFFSET $8")
	assert.Equal(t, []any{"users", []string{"profile", "age"}, "21", []string{"tags"}, `["a"]`, []string{"profile", "age"}, 5, 2}, args)
}

func TestPostgresDateRangeUsesBytewiseCompare(t *testing.T) {
	stmt, args := buildPostgresSelect("events", compiled(t, where("at", query.OpLess, "2024-05-01T00:00:00Z")))
	assert.Contains(t, stmt, `COLLATE "C" < $3`)
	assert.Equal(t, "2024-05-01T00:00:00Z", args[2])
}
