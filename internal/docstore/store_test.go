package docstore

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/markb/firelite/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Backend: BackendSQLite, SQLitePath: t.TempDir() + "/docs.db"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	return NewMemory()
}

// newMongoStore uses a throwaway database on the server named by
// FIRELITE_TEST_MONGO_URI.
func newMongoStore(t *testing.T) Store {
	t.Helper()
	uri := os.Getenv("FIRELITE_TEST_MONGO_URI")
	ctx := context.Background()
	m, err := NewMongo(ctx, uri, fmt.Sprintf("firelite_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.db.Drop(context.Background())
		m.Close()
	})
	return m
}

// newPostgresStore shares the documents table, so it clears the fixture
// collections before and after each test.
func newPostgresStore(t *testing.T) Store {
	t.Helper()
	p, err := NewPostgres(context.Background(), os.Getenv("FIRELITE_TEST_POSTGRES_DSN"))
	require.NoError(t, err)
	purge(t, p)
	t.Cleanup(func() {
		purge(t, p)
		p.Close()
	})
	return p
}

func purge(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, collection := range []string{"users", "teams", "posts"} {
		docs, err := s.Find(ctx, collection, query.Query{})
		require.NoError(t, err)
		for _, d := range docs {
			require.NoError(t, s.Delete(ctx, collection, d.ID))
		}
	}
}

// testBackends always covers memory and SQLite; MongoDB and Postgres join
// when their connection strings are set in the environment.
func testBackends() map[string]func(t *testing.T) Store {
	b := map[string]func(t *testing.T) Store{
		"memory": newMemoryStore,
		"sqlite": newSQLiteStore,
	}
	if os.Getenv("FIRELITE_TEST_MONGO_URI") != "" {
		b[BackendMongo] = newMongoStore
	}
	if os.Getenv("FIRELITE_TEST_POSTGRES_DSN") != "" {
		b[BackendPostgres] = newPostgresStore
	}
	return b
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	docs := map[string]map[string]any{
		"alice": {"name": "Alice", "age": 25, "tags": []string{"admin", "staff"}, "joined": "2023-01-15T00:00:00Z", "active": true},
		"bob":   {"name": "Bob", "age": 30, "tags": []string{"staff"}, "joined": "2023-06-01T12:00:00Z", "active": false},
		"carol": {"name": "Carol", "age": 35, "tags": []string{}, "joined": "2024-02-20T08:30:00Z", "active": true},
		"dave":  {"name": "Dave", "tags": []string{"guest"}, "address": map[string]any{"city": "Oslo"}},
	}
	for id, data := range docs {
		_, err := s.Set(ctx, "users", id, data)
		require.NoError(t, err)
	}
	_, err := s.Set(ctx, "teams", "alice", map[string]any{"name": "Alice"})
	require.NoError(t, err)
}

func ids(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestStoreFind(t *testing.T) {
	tests := []struct {
		name string
		q    query.Query
		want []string
	}{
		{"all", query.Query{}, []string{"alice", "bob", "carol", "dave"}},
		{"equal string", where("name", query.OpEqual, "Bob"), []string{"bob"}},
		{"equal number", where("age", query.OpEqual, 30), []string{"bob"}},
		{"equal bool", where("active", query.OpEqual, true), []string{"alice", "carol"}},
		{"not equal excludes missing", where("age", query.OpNotEqual, 30), []string{"alice", "carol"}},
		{"less", where("age", query.OpLess, 30), []string{"alice"}},
		{"less equal", where("age", query.OpLessEqual, 30), []string{"alice", "bob"}},
		{"greater number", where("age", query.OpGreater, 25), []string{"bob", "carol"}},
		{"greater equal", where("age", query.OpGreaterEqual, 30), []string{"bob", "carol"}},
		{"date greater", where("joined", query.OpGreater, "2023-03-01T00:00:00Z"), []string{"bob", "carol"}},
		{"in", where("name", query.OpIn, []any{"Alice", "Dave"}), []string{"alice", "dave"}},
		{"not in", where("age", query.OpNotIn, []any{25, 35}), []string{"bob"}},
		{"array contains", where("tags", query.OpArrayContains, "staff"), []string{"alice", "bob"}},
		{"array contains any", where("tags", query.OpArrayContainsAny, []any{"admin", "guest"}), []string{"alice", "dave"}},
		{"array contains any on scalar", where("name", query.OpArrayContainsAny, []any{"Carol"}), []string{"carol"}},
		{"nested", where("address.city", query.OpEqual, "Oslo"), []string{"dave"}},
		{"order asc missing first", query.Query{OrderBy: []query.Order{{Field: "age"}}}, []string{"dave", "alice", "bob", "carol"}},
		{"order desc", query.Query{OrderBy: []query.Order{{Field: "age", Direction: query.Desc}}}, []string{"carol", "bob", "alice", "dave"}},
		{"limit offset", query.Query{OrderBy: []query.Order{{Field: "age"}}, Limit: 2, Offset: 1}, []string{"alice", "bob"}},
		{"offset only", query.Query{OrderBy: []query.Order{{Field: "age"}}, Offset: 3}, []string{"carol"}},
		{"max limit with offset", query.Query{OrderBy: []query.Order{{Field: "age"}}, Limit: math.MaxInt, Offset: 1}, []string{"alice", "bob", "carol"}},
		{"conjunction", query.Query{Where: []query.Condition{
			{Field: "age", Operator: query.OpGreater, Value: 20},
			{Field: "tags", Operator: query.OpArrayContains, Value: "staff"},
			{Field: "active", Operator: query.OpEqual, Value: true},
		}}, []string{"alice"}},
	}

	for name, newStore := range testBackends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			seed(t, s)
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					docs, err := s.Find(context.Background(), "users", tt.q)
					require.NoError(t, err)
					assert.Equal(t, tt.want, ids(docs))
				})
			}
		})
	}
}

func where(field string, op query.Operator, value any) query.Query {
	return query.Query{Where: []query.Condition{{Field: field, Operator: op, Value: value}}}
}

func TestMongoNotEqualOnArray(t *testing.T) {
	if os.Getenv("FIRELITE_TEST_MONGO_URI") == "" {
		t.Skip("FIRELITE_TEST_MONGO_URI not set")
	}
	s := newMongoStore(t)
	seed(t, s)

	// $ne matches an array only when no element equals the operand
	docs, err := s.Find(context.Background(), "users", where("tags", query.OpNotEqual, "staff"))
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, ids(docs))
}

func TestStoreFindRejectsInvalidQuery(t *testing.T) {
	for name, newStore := range testBackends() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			_, err := s.Find(context.Background(), "users", where("age", "like", 1))
			qe, ok := query.AsError(err)
			require.True(t, ok)
			assert.Equal(t, query.CodeInvalidOperator, qe.Code)
		})
	}
}

func TestStoreCRUD(t *testing.T) {
	for name, newStore := range testBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			created, err := s.Create(ctx, "posts", map[string]any{"title": "hello", "meta": map[string]any{"a": 1, "b": 2}})
			require.NoError(t, err)
			require.NotEmpty(t, created.ID)
			assert.Equal(t, "posts", created.Collection)
			assert.Equal(t, 1.0, created.Data["meta"].(map[string]any)["a"])

			got, err := s.Get(ctx, "posts", created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.Data, got.Data)

			time.Sleep(2 * time.Millisecond)
			updated, err := s.Update(ctx, "posts", created.ID, map[string]any{"meta": map[string]any{"a": 3}, "draft": nil})
			require.NoError(t, err)
			assert.Equal(t, "hello", updated.Data["title"])
			// shallow merge replaces nested objects wholesale and keeps nulls
			assert.Equal(t, map[string]any{"a": 3.0}, updated.Data["meta"])
			v, ok := updated.Data["draft"]
			assert.True(t, ok)
			assert.Nil(t, v)
			assert.True(t, !updated.UpdatedAt.Before(created.UpdatedAt))

			replaced, err := s.Set(ctx, "posts", created.ID, map[string]any{"title": "bye"})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"title": "bye"}, replaced.Data)
			assert.True(t, replaced.CreatedAt.Equal(created.CreatedAt))

			require.NoError(t, s.Delete(ctx, "posts", created.ID))
			_, err = s.Get(ctx, "posts", created.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "posts", created.ID), ErrNotFound)

			_, err = s.Update(ctx, "posts", "missing", map[string]any{"x": 1})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.Get(ctx, "bad/name", "x")
	assert.Error(t, err)
	_, err = s.Set(ctx, "users", "", map[string]any{})
	assert.Error(t, err)
	_, err = s.Find(ctx, "", query.Query{})
	assert.Error(t, err)
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	doc, err := s.Set(ctx, "users", "u1", map[string]any{"tags": []any{"a"}})
	require.NoError(t, err)

	doc.Data["tags"].([]any)[0] = "mutated"
	got, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got.Data["tags"])
}

func TestDocumentClone(t *testing.T) {
	type opaque struct{ n int }
	d := &Document{ID: "u1", Collection: "users", Data: map[string]any{
		"nested": map[string]any{"tags": []any{"a"}},
		"raw":    opaque{1},
	}}

	c := d.Clone()
	require.NotNil(t, c.Data)
	assert.Equal(t, opaque{1}, c.Data["raw"])

	c.Data["nested"].(map[string]any)["tags"].([]any)[0] = "mutated"
	assert.Equal(t, []any{"a"}, d.Data["nested"].(map[string]any)["tags"])

	assert.Equal(t, map[string]any{}, (&Document{ID: "u2"}).Clone().Data)
	assert.Nil(t, (*Document)(nil).Clone())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "cassandra"})
	assert.Error(t, err)
}
