package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/markb/firelite/internal/log"
)

const (
	// Send buffer size for outbound messages
	sendBufferSize = 256

	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Maximum message size
	maxMessageSize = 512 * 1024 // 512KB
)

var (
	// ErrSessionClosed is returned when sending to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned when the client is not draining frames.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Session is the server side of one websocket connection.
type Session struct {
	id        string
	ws        *websocket.Conn
	svc       *Service
	send      chan []byte   // outbound message queue
	done      chan struct{} // closed when connection ends
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	userID        string
	status        PresenceStatus
	metadata      map[string]any
	connectedAt   time.Time
	lastSeen      time.Time
	subscriptions map[string]*Subscription
	closed        bool // no new subscriptions
}

func (s *Service) newSession(ws *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		id:            uuid.New().String(),
		ws:            ws,
		svc:           s,
		send:          make(chan []byte, sendBufferSize),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		status:        StatusOffline,
		connectedAt:   now,
		lastSeen:      now,
		subscriptions: make(map[string]*Subscription),
	}
}

// ID returns the connection ID
func (c *Session) ID() string {
	return c.id
}

// UserID returns the authenticated user, or "" before auth.
func (c *Session) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Send encodes v and queues it for the write pump. It never blocks.
func (c *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrSessionClosed
	default:
		log.Warn("realtime: send buffer full, dropping message", "conn_id", c.id)
		return ErrSendBufferFull
	}
}

// Close closes the connection and releases everything it owns.
func (c *Session) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.ws != nil {
			c.ws.Close()
		}
		if c.svc != nil {
			c.svc.unregister(c)
		}
	})
}

// shutdown sends a going-away close frame before closing.
func (c *Session) shutdown() {
	if c.ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.Close()
}

func (c *Session) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.mu.Unlock()
}

// ReadPump reads frames until the socket fails or a pong is overdue.
func (c *Session) ReadPump() {
	defer c.Close()

	grace := c.svc.cfg.HeartbeatInterval + c.svc.cfg.PingTimeout
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(grace))
	c.ws.SetPongHandler(func(string) error {
		now := time.Now()
		c.touch(now)
		return c.ws.SetReadDeadline(now.Add(grace))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("realtime: read error", "conn_id", c.id, "error", err.Error())
			}
			return
		}
		if mt != websocket.TextMessage {
			c.sendError("", CodeInvalidMessage, "only text frames are supported")
			continue
		}

		req, perr := DecodeRequest(data)
		if perr != nil {
			log.Debug("realtime: invalid message", "conn_id", c.id, "error", perr.Message, "len", len(data))
			c.sendError(perr.RequestID, perr.Code, perr.Message)
			continue
		}

		c.handleRequest(req)
	}
}

// WritePump writes queued frames and pings the client every heartbeat
// interval.
func (c *Session) WritePump() {
	ticker := time.NewTicker(c.svc.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleRequest routes a decoded request to its handler
func (c *Session) handleRequest(req *Request) {
	log.Debug("realtime: request", "conn_id", c.id, "type", req.Type, "request_id", req.RequestID)

	if req.Type == TypeAuth {
		c.handleAuth(req)
		return
	}
	if c.UserID() == "" {
		c.sendError(req.RequestID, CodeUnauthorized, "authenticate before sending "+req.Type)
		return
	}

	switch req.Type {
	case TypeWatchDocument, TypeWatchCollection:
		c.handleWatch(req)
	case TypeUnwatch:
		c.handleUnwatch(req)
	case TypePresence:
		c.handlePresence(req)
	}
}

func (c *Session) handleAuth(req *Request) {
	userID, err := c.svc.verifier.VerifyToken(req.Token)
	if err != nil {
		log.Debug("realtime: auth failed", "conn_id", c.id, "error", err.Error())
		c.Send(&AuthFrame{Type: TypeAuth, RequestID: req.RequestID, Status: ReplyError, Message: "invalid or expired token"})
		return
	}

	c.mu.Lock()
	if c.userID != "" && c.userID != userID {
		c.mu.Unlock()
		c.sendError(req.RequestID, CodeAlreadyAuthenticated, "connection is already authenticated as another user")
		return
	}
	c.userID = userID
	c.status = StatusOnline
	c.lastSeen = time.Now()
	c.mu.Unlock()

	log.Debug("realtime: authenticated", "conn_id", c.id, "user_id", userID)
	c.Send(&AuthFrame{Type: TypeAuth, RequestID: req.RequestID, UserID: userID, Status: ReplySuccess})
}

// sendError sends an error frame
func (c *Session) sendError(requestID string, code ErrorCode, message string) {
	c.Send(newErrorFrame(requestID, code, message))
}
