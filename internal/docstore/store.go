// Package docstore is the document database collaborator consumed by the
// realtime engine and the REST surface. Documents are JSON objects addressed
// by (collection, id); backends differ only in where they keep them and how
// they translate a query.Query into native filters.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/markb/firelite/internal/query"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a stored JSON object.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the document. Data is expected to be
// normalized already, so only objects and arrays are copied.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = map[string]any{}
	if d.Data != nil {
		c.Data = cloneValue(d.Data).(map[string]any)
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Store is the document database contract.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Find returns the documents matching q in result order.
	Find(ctx context.Context, collection string, q query.Query) ([]*Document, error)
	// Create inserts a document under a generated id.
	Create(ctx context.Context, collection string, data map[string]any) (*Document, error)
	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Update shallow-merges patch into an existing document.
	Update(ctx context.Context, collection, id string, patch map[string]any) (*Document, error)
	// Delete removes a document or returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)

// ValidateName checks a collection name or document id.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid %s %q", kind, name)
	}
	return nil
}

func validateRef(collection, id string) error {
	if err := ValidateName("collection", collection); err != nil {
		return err
	}
	return ValidateName("document id", id)
}

// merge applies a shallow patch over base.
func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
