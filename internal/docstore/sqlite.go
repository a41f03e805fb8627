package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/markb/firelite/internal/query"
)

// SQLite stores documents as JSON text in the _documents table and renders
// queries to json_extract/json_each predicates.
type SQLite struct {
	db     *sql.DB
	closer io.Closer
}

// NewSQLite wraps a migrated database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM _documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanSQLiteDocument(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLite) Find(ctx context.Context, collection string, q query.Query) ([]*Document, error) {
	if err := ValidateName("collection", collection); err != nil {
		return nil, err
	}
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}

	stmt, args := buildSQLiteSelect(collection, compiled)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows, collection)
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

func (s *SQLite) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	return s.Set(ctx, collection, uuid.NewString(), data)
}

func (s *SQLite) Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	encoded, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	now := formatTime(time.Now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO _documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, encoded, now, now)
	if err != nil {
		return nil, fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return s.Get(ctx, collection, id)
}

func (s *SQLite) Update(ctx context.Context, collection, id string, patch map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	normalized, err := query.NormalizeDocument(patch)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM _documents WHERE collection = ? AND id = ?`,
		collection, id)
	prev, err := scanSQLiteDocument(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	encoded, err := encodeData(merge(prev.Data, normalized))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE _documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		encoded, formatTime(time.Now()), collection, id); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return s.Get(ctx, collection, id)
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM _documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database only when the store opened it.
func (s *SQLite) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row rowScanner, collection string) (*Document, error) {
	var id, data, created, updated string
	if err := row.Scan(&id, &data, &created, &updated); err != nil {
		return nil, err
	}
	doc := &Document{ID: id, Collection: collection}
	if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

func encodeData(data map[string]any) (string, error) {
	normalized, err := query.NormalizeDocument(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
