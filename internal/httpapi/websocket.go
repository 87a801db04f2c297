package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/service"
	"github.com/streamweaver-io/streamweaver/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// MessageHandler processes one inbound frame type. The raw frame is the full
// decoded JSON object.
type MessageHandler func(sessionID string, raw map[string]any) error

// WSHandler serves the WebSocket transport: the same JSON payloads as the SSE
// stream, framed as text messages, plus inbound message dispatch and
// application-level pings.
type WSHandler struct {
	svc          *service.StreamWeaver
	logger       *zap.Logger
	pingInterval time.Duration

	mu       sync.Mutex
	conns    map[string]*wsConn
	handlers map[string]MessageHandler
}

// wsConn serializes writes onto one upgraded connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func NewWSHandler(svc *service.StreamWeaver, pingInterval time.Duration, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WSHandler{
		svc:          svc,
		logger:       logger,
		pingInterval: pingInterval,
		conns:        make(map[string]*wsConn),
		handlers:     make(map[string]MessageHandler),
	}
}

// RegisterRoutes registers the WebSocket route on the provided mux.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/{session_id}/ws", h.handleWS)
}

// RegisterMessageHandler installs the handler for inbound frames of the given
// type.
func (h *WSHandler) RegisterMessageHandler(messageType string, handler MessageHandler) {
	h.mu.Lock()
	h.handlers[messageType] = handler
	h.mu.Unlock()
}

func (h *WSHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}

	ch, err := h.svc.Subscribe(r.Context(), sessionID, lastEventID, filterFromQuery(r))
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := &wsConn{conn: conn}
	defer conn.Close()

	h.mu.Lock()
	h.conns[sessionID] = wc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[sessionID] == wc {
			delete(h.conns, sessionID)
		}
		h.mu.Unlock()
	}()

	go h.readPump(sessionID, conn)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			for _, frame := range payloadFrames(payload) {
				if err := wc.writeText([]byte(frame)); err != nil {
					return
				}
			}
		case <-ticker.C:
			ping, _ := json.Marshal(map[string]any{
				"type":       "ping",
				"session_id": sessionID,
			})
			if err := wc.writeText(ping); err != nil {
				return
			}
		}
	}
}

// readPump dispatches inbound {type, ...} frames to registered handlers until
// the connection drops.
func (h *WSHandler) readPump(sessionID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			h.logger.Debug("Dropping malformed inbound frame",
				zap.String("session_id", sessionID))
			continue
		}
		messageType, _ := raw["type"].(string)

		h.mu.Lock()
		handler := h.handlers[messageType]
		h.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := handler(sessionID, raw); err != nil {
			h.logger.Error("Message handler failed",
				zap.String("session_id", sessionID),
				zap.String("message_type", messageType),
				zap.Error(err))
		}
	}
}

// SendToSession pushes one out-of-band JSON text frame to the session's
// connection, reporting whether it was connected.
func (h *WSHandler) SendToSession(sessionID string, v any) bool {
	h.mu.Lock()
	wc := h.conns[sessionID]
	h.mu.Unlock()
	if wc == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return wc.writeText(data) == nil
}

// Broadcast sends a JSON text frame to every connected session, returning how
// many received it.
func (h *WSHandler) Broadcast(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, wc := range h.conns {
		conns = append(conns, wc)
	}
	h.mu.Unlock()

	sent := 0
	for _, wc := range conns {
		if wc.writeText(data) == nil {
			sent++
		}
	}
	return sent
}

// DisconnectSession closes the session's connection, reporting whether one
// existed.
func (h *WSHandler) DisconnectSession(sessionID string) bool {
	h.mu.Lock()
	wc := h.conns[sessionID]
	delete(h.conns, sessionID)
	h.mu.Unlock()
	if wc == nil {
		return false
	}
	return wc.conn.Close() == nil
}

// ConnectedSessions lists the sessions with a live WebSocket connection.
func (h *WSHandler) ConnectedSessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// payloadFrames extracts the JSON documents from a wire payload: one per
// data line, so batch payloads become a single array frame.
func payloadFrames(payload string) []string {
	var out []string
	for _, line := range strings.Split(payload, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}
