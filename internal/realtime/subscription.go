package realtime

import (
	"sync"
	"time"

	"github.com/markb/firelite/internal/query"
)

// Kind is the target kind of a subscription.
type Kind string

const (
	KindDocument   Kind = "document"
	KindCollection Kind = "collection"
)

// Subscription is a client's standing watch on a document or a collection
// query. Its fields other than the guarded state are immutable.
type Subscription struct {
	ID          string
	Kind        Kind
	OwnerUserID string
	RequestID   string
	Collection  string
	DocumentID  string
	Query       query.Query
	CreatedAt   time.Time

	session *Session

	// mu serialises delivery with cancellation: an event is only queued while
	// holding mu with cancelled unset.
	mu            sync.Mutex
	cancelled     bool
	task          *Task
	last          snapshot
	lastTimestamp int64
	lastUpdated   time.Time
}

// deliver diffs cur against the last delivered snapshot and queues the
// resulting frame. The baseline only advances when the frame is queued. It
// returns the delivered change type, or "" when nothing was sent, and whether
// the subscription ended because its document disappeared.
func (sub *Subscription) deliver(cur snapshot, initial, emitUnchanged bool, now time.Time) (ChangeType, bool, error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.cancelled {
		return "", false, nil
	}

	var c *change
	if sub.Kind == KindDocument {
		c = diffDocument(sub.last, cur, initial, emitUnchanged)
	} else {
		c = diffCollection(sub.last, cur, initial, emitUnchanged)
	}

	frame := &WatchFrame{Type: sub.watchType(), RequestID: sub.RequestID, SubscriptionID: sub.ID}
	if c == nil {
		if !initial {
			return "", false, nil
		}
		// Acknowledge a watch on a document that does not exist yet.
		if err := sub.session.Send(frame); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	ts := now.UnixMilli()
	if ts <= sub.lastTimestamp {
		ts = sub.lastTimestamp + 1
	}
	frame.Change = c.payload(sub, ts)
	if err := sub.session.Send(frame); err != nil {
		return "", false, err
	}

	sub.last = cur
	sub.lastTimestamp = ts
	sub.lastUpdated = now
	if c.typ == ChangeRemoved && sub.Kind == KindDocument {
		sub.cancelled = true
		return c.typ, true, nil
	}
	return c.typ, false, nil
}

// stop marks the subscription cancelled and cancels its task. Once stop
// returns no further frame is queued for the subscription.
func (sub *Subscription) stop() {
	sub.mu.Lock()
	sub.cancelled = true
	task := sub.task
	sub.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// bind attaches the polling task, cancelling it straight away when the
// subscription was stopped in the meantime.
func (sub *Subscription) bind(task *Task) {
	sub.mu.Lock()
	sub.task = task
	cancelled := sub.cancelled
	sub.mu.Unlock()
	if cancelled {
		task.Cancel()
	}
}

func (sub *Subscription) watchType() string {
	if sub.Kind == KindDocument {
		return TypeWatchDocument
	}
	return TypeWatchCollection
}

// SubscriptionInfo describes a live subscription in Stats.
type SubscriptionInfo struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Collection  string    `json:"collection"`
	DocumentID  string    `json:"documentId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (sub *Subscription) info() SubscriptionInfo {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return SubscriptionInfo{
		ID:          sub.ID,
		Kind:        sub.Kind,
		Collection:  sub.Collection,
		DocumentID:  sub.DocumentID,
		CreatedAt:   sub.CreatedAt,
		LastUpdated: sub.lastUpdated,
	}
}
