package realtime

import (
	"context"
	"errors"
	"reflect"

	"github.com/markb/firelite/internal/docstore"
)

// snapshot is the materialised state of a subscription target at one tick.
type snapshot struct {
	// document kind
	exists bool
	data   map[string]any

	// collection kind, in result order
	docs []entry
}

type entry struct {
	ID   string
	Data map[string]any
}

// fetch reads the current state of the subscription target.
func (sub *Subscription) fetch(ctx context.Context, store DocumentSource) (snapshot, error) {
	switch sub.Kind {
	case KindDocument:
		doc, err := store.Get(ctx, sub.Collection, sub.DocumentID)
		if errors.Is(err, docstore.ErrNotFound) {
			return snapshot{}, nil
		}
		if err != nil {
			return snapshot{}, err
		}
		return snapshot{exists: true, data: doc.Data}, nil
	default:
		docs, err := store.Find(ctx, sub.Collection, sub.Query)
		if err != nil {
			return snapshot{}, err
		}
		entries := make([]entry, 0, len(docs))
		for _, d := range docs {
			entries = append(entries, entry{ID: d.ID, Data: d.Data})
		}
		return snapshot{docs: entries}, nil
	}
}

// change is the difference between two snapshots, before a timestamp is
// assigned.
type change struct {
	typ ChangeType
	// document kind
	data map[string]any
	// collection kind
	entries []changeEntry
}

type changeEntry struct {
	id   string
	typ  ChangeType
	data map[string]any
}

// diffDocument compares two document snapshots. The initial tick reports the
// document as added, or nothing when it does not exist.
func diffDocument(prev, cur snapshot, initial, emitUnchanged bool) *change {
	switch {
	case !cur.exists && (initial || !prev.exists):
		return nil
	case !cur.exists:
		return &change{typ: ChangeRemoved}
	case initial || !prev.exists:
		return &change{typ: ChangeAdded, data: cur.data}
	case !emitUnchanged && reflect.DeepEqual(prev.data, cur.data):
		return nil
	}
	return &change{typ: ChangeModified, data: cur.data}
}

// diffCollection compares two result sets. The initial tick reports every
// document as added, even when there are none. Later ticks list the whole
// current result set, typing documents new to it as added, then one removal
// per document that left it. With emitUnchanged every tick reports the full
// set as modified and removals are not computed.
func diffCollection(prev, cur snapshot, initial, emitUnchanged bool) *change {
	if initial {
		c := &change{typ: ChangeAdded, entries: make([]changeEntry, 0, len(cur.docs))}
		for _, e := range cur.docs {
			c.entries = append(c.entries, changeEntry{id: e.ID, typ: ChangeAdded, data: e.Data})
		}
		return c
	}

	c := &change{typ: ChangeModified, entries: make([]changeEntry, 0, len(cur.docs))}
	if emitUnchanged {
		for _, e := range cur.docs {
			c.entries = append(c.entries, changeEntry{id: e.ID, typ: ChangeModified, data: e.Data})
		}
		return c
	}
	if reflect.DeepEqual(prev.docs, cur.docs) {
		return nil
	}

	before := make(map[string]bool, len(prev.docs))
	for _, e := range prev.docs {
		before[e.ID] = true
	}
	for _, e := range cur.docs {
		typ := ChangeModified
		if !before[e.ID] {
			typ = ChangeAdded
		}
		delete(before, e.ID)
		c.entries = append(c.entries, changeEntry{id: e.ID, typ: typ, data: e.Data})
	}
	for _, e := range prev.docs {
		if before[e.ID] {
			c.entries = append(c.entries, changeEntry{id: e.ID, typ: ChangeRemoved})
		}
	}
	return c
}

// payload renders the change with its timestamp for the wire.
func (c *change) payload(sub *Subscription, ts int64) any {
	if sub.Kind == KindDocument {
		dc := &DocumentChange{Type: c.typ, DocumentID: sub.DocumentID, Timestamp: ts}
		if c.typ != ChangeRemoved {
			dc.Data = c.data
		}
		return dc
	}
	cc := &CollectionChange{Type: c.typ, Changes: make([]DocumentChange, 0, len(c.entries)), Timestamp: ts}
	for _, e := range c.entries {
		dc := DocumentChange{Type: e.typ, DocumentID: e.id, Timestamp: ts}
		if e.typ != ChangeRemoved {
			dc.Data = e.data
		}
		cc.Changes = append(cc.Changes, dc)
	}
	return cc
}
