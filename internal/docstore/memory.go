package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/markb/firelite/internal/query"
)

// Memory keeps documents in process memory. It evaluates queries with the
// query package directly and is used for tests and ephemeral servers.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	now         func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*Document),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) Find(ctx context.Context, collection string, q query.Query) ([]*Document, error) {
	if err := ValidateName("collection", collection); err != nil {
		return nil, err
	}
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := make([]*Document, 0)
	for _, doc := range m.collections[collection] {
		if compiled.Match(doc.Data) {
			matched = append(matched, doc.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if c := compiled.Compare(matched[i].Data, matched[j].Data); c != 0 {
			return c < 0
		}
		return matched[i].ID < matched[j].ID
	})

	start, end := compiled.Window(len(matched))
	return matched[start:end], nil
}

func (m *Memory) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	return m.Set(ctx, collection, uuid.NewString(), data)
}

func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	normalized, err := query.NormalizeDocument(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]*Document)
		m.collections[collection] = docs
	}
	doc := &Document{ID: id, Collection: collection, Data: normalized, CreatedAt: now, UpdatedAt: now}
	if prev, ok := docs[id]; ok {
		doc.CreatedAt = prev.CreatedAt
	}
	docs[id] = doc
	return doc.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	normalized, err := query.NormalizeDocument(patch)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	doc := &Document{
		ID:         id,
		Collection: collection,
		Data:       merge(prev.Data, normalized),
		CreatedAt:  prev.CreatedAt,
		UpdatedAt:  m.now(),
	}
	m.collections[collection][id] = doc
	return doc.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
