package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/markb/firelite/internal/log"
)

var (
	errSubscriptionLimit = errors.New("subscription limit reached")
	errServiceClosed     = errors.New("realtime service closed")
)

// Stats contains realtime statistics
type Stats struct {
	Connections       int               `json:"connections"`
	Authenticated     int               `json:"authenticated"`
	Subscriptions     int               `json:"subscriptions"`
	ConnectionDetails []ConnectionStats `json:"connection_details"`
}

// ConnectionStats contains per-connection statistics
type ConnectionStats struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id,omitempty"`
	Status        PresenceStatus     `json:"status"`
	ConnectedAt   time.Time          `json:"connected_at"`
	LastSeen      time.Time          `json:"last_seen"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// Stats returns current realtime statistics
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Connections:       len(s.sessions),
		Subscriptions:     len(s.subscriptions),
		ConnectionDetails: make([]ConnectionStats, 0, len(s.sessions)),
	}

	for _, sess := range s.sessions {
		sess.mu.Lock()
		cs := ConnectionStats{
			ID:            sess.id,
			UserID:        sess.userID,
			Status:        sess.status,
			ConnectedAt:   sess.connectedAt,
			LastSeen:      sess.lastSeen,
			Subscriptions: make([]SubscriptionInfo, 0, len(sess.subscriptions)),
		}
		subs := make([]*Subscription, 0, len(sess.subscriptions))
		for _, sub := range sess.subscriptions {
			subs = append(subs, sub)
		}
		sess.mu.Unlock()

		for _, sub := range subs {
			cs.Subscriptions = append(cs.Subscriptions, sub.info())
		}
		if cs.UserID != "" {
			stats.Authenticated++
		}
		stats.ConnectionDetails = append(stats.ConnectionDetails, cs)
	}

	return stats
}

// register adds a session unless the process-wide cap is reached.
func (s *Service) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.sessions) >= s.cfg.MaxClients {
		return false
	}
	s.sessions[sess.id] = sess
	s.metrics.ConnectionOpened(context.Background())
	return true
}

// unregister removes a closed session, drains its subscriptions and tells
// the other sessions it went offline.
func (s *Service) unregister(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.ConnectionClosed(context.Background())

	n := s.drainAll(sess)

	now := time.Now()
	sess.mu.Lock()
	userID := sess.userID
	sess.status = StatusOffline
	sess.lastSeen = now
	metadata := sess.metadata
	sess.mu.Unlock()

	log.Debug("realtime: connection closed", "conn_id", sess.id, "user_id", userID, "subscriptions", n)

	if userID != "" {
		s.broadcastPresence(sess, &PresenceFrame{
			Type:      TypePresence,
			RequestID: uuid.NewString(),
			Action:    ActionUpdate,
			UserID:    userID,
			Status:    StatusOffline,
			LastSeen:  now.UnixMilli(),
			Metadata:  metadata,
		})
	}
}

// closeRegistry refuses new sessions and returns the live ones.
func (s *Service) closeRegistry() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// otherSessions returns every authenticated session except sender.
func (s *Service) otherSessions(sender *Session) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id != sender.id && sess.UserID() != "" {
			out = append(out, sess)
		}
	}
	return out
}

// addSubscription stores sub in its session and the process index. It fails
// once the session is closing or holds MaxSubscriptions entries.
func (s *Service) addSubscription(sub *Subscription) error {
	sess := sub.session

	s.mu.Lock()
	sess.mu.Lock()
	var err error
	switch {
	case s.closed:
		err = errServiceClosed
	case sess.closed:
		err = ErrSessionClosed
	case s.cfg.MaxSubscriptions > 0 && len(sess.subscriptions) >= s.cfg.MaxSubscriptions:
		err = errSubscriptionLimit
	default:
		sess.subscriptions[sub.ID] = sub
		s.subscriptions[sub.ID] = sub
	}
	sess.mu.Unlock()
	s.mu.Unlock()

	if err == nil {
		s.metrics.SubscriptionAdded(context.Background(), string(sub.Kind))
	}
	return err
}

// removeSubscription deletes sub from the registry and stops it. It reports
// whether this call removed it.
func (s *Service) removeSubscription(sub *Subscription) bool {
	sess := sub.session

	s.mu.Lock()
	sess.mu.Lock()
	_, ok := sess.subscriptions[sub.ID]
	delete(sess.subscriptions, sub.ID)
	delete(s.subscriptions, sub.ID)
	sess.mu.Unlock()
	s.mu.Unlock()

	sub.stop()
	if ok {
		s.metrics.SubscriptionRemoved(context.Background(), string(sub.Kind))
	}
	return ok
}

// drainAll closes the session to new subscriptions and stops every one it
// owns. It returns how many were stopped.
func (s *Service) drainAll(sess *Session) int {
	s.mu.Lock()
	sess.mu.Lock()
	sess.closed = true
	subs := make([]*Subscription, 0, len(sess.subscriptions))
	for id, sub := range sess.subscriptions {
		subs = append(subs, sub)
		delete(s.subscriptions, id)
	}
	sess.subscriptions = make(map[string]*Subscription)
	sess.mu.Unlock()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
		s.metrics.SubscriptionRemoved(context.Background(), string(sub.Kind))
	}
	return len(subs)
}

// subscription returns the subscription sess owns under id, or nil.
func (s *Service) subscription(sess *Session, id string) *Subscription {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.subscriptions[id]
}
