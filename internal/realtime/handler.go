package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/markb/firelite/internal/log"
)

// HandleWebSocket upgrades the request and serves the session until the
// socket closes. Connections above MaxClients receive a single
// MAX_CLIENTS_REACHED error frame and are closed.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("realtime: upgrade failed", "error", err.Error())
		return
	}

	sess := s.newSession(ws)
	if !s.register(sess) {
		log.Warn("realtime: connection refused", "remote_addr", r.RemoteAddr, "max_clients", s.cfg.MaxClients)
		refuse(ws, CodeMaxClientsReached, "server has reached its connection limit")
		return
	}

	log.Debug("realtime: new connection", "conn_id", sess.id, "remote_addr", r.RemoteAddr)

	// Queued before the pumps start, so it is always the first frame.
	sess.Send(&ConnectedFrame{Type: TypeConnected, RequestID: uuid.NewString()})

	go sess.WritePump()
	sess.ReadPump()
}

// refuse writes one error frame straight to the socket and closes it.
func refuse(ws *websocket.Conn, code ErrorCode, message string) {
	defer ws.Close()

	data, err := json.Marshal(newErrorFrame(uuid.NewString(), code, message))
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(code)))
}

// HandleStats serves Stats as JSON.
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		log.Warn("realtime: failed to encode stats", "error", err.Error())
	}
}
