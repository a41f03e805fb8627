package realtime

import (
	"errors"
	"time"

	"github.com/markb/firelite/internal/log"
)

// PresenceStatus is a session's advertised availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// handlePresence records the sender's status and fans it out to every other
// authenticated session. The sender gets no reply.
func (c *Session) handlePresence(req *Request) {
	now := time.Now()

	c.mu.Lock()
	c.status = req.Status
	if req.HasMetadata {
		c.metadata = req.Metadata
	}
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	frame := &PresenceFrame{
		Type:      TypePresence,
		RequestID: req.RequestID,
		Action:    ActionUpdate,
		UserID:    c.userID,
		Status:    c.status,
		LastSeen:  c.lastSeen.UnixMilli(),
		Metadata:  c.metadata,
	}
	c.mu.Unlock()

	c.svc.broadcastPresence(c, frame)
}

// broadcastPresence sends frame to every authenticated session except
// sender. Delivery is best effort per recipient.
func (s *Service) broadcastPresence(sender *Session, frame *PresenceFrame) {
	recipients := s.otherSessions(sender)
	for _, sess := range recipients {
		if err := sess.Send(frame); err != nil && !errors.Is(err, ErrSessionClosed) {
			log.Debug("realtime: presence not delivered", "conn_id", sess.id, "error", err.Error())
		}
	}
	log.Debug("realtime: presence", "conn_id", sender.id, "user_id", frame.UserID, "status", string(frame.Status), "recipients", len(recipients))
}
