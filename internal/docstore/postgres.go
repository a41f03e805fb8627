package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/markb/firelite/internal/query"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS firelite_documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS firelite_documents_data ON firelite_documents USING GIN (data);
`

const postgresColumns = `id, data, created_at, updated_at`

// Postgres stores documents in a JSONB column and renders queries to jsonb
// path expressions.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool and creates the documents table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	row := p.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM firelite_documents WHERE collection = $1 AND id = $2`,
		collection, id)
	return scanPostgresDocument(row, collection)
}

func (p *Postgres) Find(ctx context.Context, collection string, q query.Query) ([]*Document, error) {
	if err := ValidateName("collection", collection); err != nil {
		return nil, err
	}
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}

	stmt, args := buildPostgresSelect(collection, compiled)
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanPostgresDocument(rows, collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return docs, nil
}

func (p *Postgres) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	return p.Set(ctx, collection, uuid.NewString(), data)
}

func (p *Postgres) Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	encoded, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO firelite_documents (collection, id, data)
		VALUES ($1, $2, $3::text::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		RETURNING `+postgresColumns,
		collection, id, encoded)
	return scanPostgresDocument(row, collection)
}

// Update relies on jsonb || which replaces top-level keys only.
func (p *Postgres) Update(ctx context.Context, collection, id string, patch map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	encoded, err := encodeData(patch)
	if err != nil {
		return nil, err
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE firelite_documents SET data = data || $3::text::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
		RETURNING `+postgresColumns,
		collection, id, encoded)
	return scanPostgresDocument(row, collection)
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM firelite_documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgresDocument(row pgx.Row, collection string) (*Document, error) {
	var (
		id               string
		data             []byte
		created, updated time.Time
	)
	if err := row.Scan(&id, &data, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	doc := &Document{ID: id, Collection: collection, CreatedAt: created.UTC(), UpdatedAt: updated.UTC()}
	if err := json.Unmarshal(data, &doc.Data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// postgresBuilder numbers placeholders as arguments are added.
type postgresBuilder struct {
	args []any
}

func (b *postgresBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// jsonb binds a value as a jsonb literal.
func (b *postgresBuilder) jsonb(v any) string {
	raw, _ := json.Marshal(v)
	return b.arg(string(raw)) + "::text::jsonb"
}

func (b *postgresBuilder) field(name string) string {
	return "(data #> " + b.arg(query.SplitField(name)) + "::text[])"
}

func (b *postgresBuilder) condition(c query.Condition) string {
	ref := b.field(c.Field)
	switch c.Operator {
	case query.OpEqual:
		return ref + " = " + b.jsonb(c.Value)
	case query.OpNotEqual:
		return "(" + ref + " IS NOT NULL AND " + ref + " <> " + b.jsonb(c.Value) + ")"
	case query.OpLess, query.OpLessEqual, query.OpGreater, query.OpGreaterEqual:
		op := string(c.Operator)
		if s, ok := c.Value.(string); ok {
			// Dates are normalised RFC 3339 strings and compare bytewise.
			return "(jsonb_typeof(" + ref + ") = 'string' AND (" + ref + " #>> '{}') COLLATE \"C\" " + op + " " + b.arg(s) + ")"
		}
		return "(jsonb_typeof(" + ref + ") = 'number' AND " + ref + " " + op + " " + b.jsonb(c.Value) + ")"
	case query.OpIn:
		return ref + " IN (SELECT value FROM jsonb_array_elements(" + b.jsonb(c.Value) + "))"
	case query.OpNotIn:
		return "(" + ref + " IS NOT NULL AND " + ref + " NOT IN (SELECT value FROM jsonb_array_elements(" + b.jsonb(c.Value) + ")))"
	case query.OpArrayContains:
		return "(CASE WHEN jsonb_typeof(" + ref + ") = 'array' THEN EXISTS (SELECT 1 FROM jsonb_array_elements(" + ref +
			") AS e WHERE e.value = " + b.jsonb(c.Value) + ") ELSE false END)"
	case query.OpArrayContainsAny:
		list := b.jsonb(c.Value)
		return "(CASE jsonb_typeof(" + ref + ")" +
			" WHEN 'array' THEN EXISTS (SELECT 1 FROM jsonb_array_elements(" + ref + ") AS e WHERE e.value IN (SELECT value FROM jsonb_array_elements(" + list + ")))" +
			" WHEN 'object' THEN false" +
			" ELSE " + ref + " IN (SELECT value FROM jsonb_array_elements(" + list + ")) END)"
	}
	return "false"
}

// buildPostgresSelect renders a compiled query over one collection. Missing
// fields sort first ascending and last descending.
func buildPostgresSelect(collection string, q query.Query) (string, []any) {
	b := &postgresBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT " + postgresColumns + " FROM firelite_documents WHERE collection = ")
	sb.WriteString(b.arg(collection))

	for _, c := range q.Where {
		sb.WriteString(" AND ")
		sb.WriteString(b.condition(c))
	}

	sb.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		sb.WriteString(b.field(o.Field))
		if o.Desc() {
			sb.WriteString(" DESC NULLS LAST, ")
		} else {
			sb.WriteString(" ASC NULLS FIRST, ")
		}
	}
	sb.WriteString("id ASC")

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + b.arg(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + b.arg(q.Offset))
	}
	return sb.String(), b.args
}
