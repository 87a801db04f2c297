package httpapi

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/streamweaver-io/streamweaver/internal/events"
	"github.com/streamweaver-io/streamweaver/internal/filters"
	"github.com/streamweaver-io/streamweaver/internal/service"
	"github.com/streamweaver-io/streamweaver/internal/session"
)

// StreamingHandler serves the SSE transport and the session management
// endpoints.
type StreamingHandler struct {
	svc    *service.StreamWeaver
	logger *zap.Logger
}

func NewStreamingHandler(svc *service.StreamWeaver, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the streaming routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/{session_id}", h.handleSSE)
	mux.HandleFunc("GET /stream/{session_id}/status", h.handleStatus)
	mux.HandleFunc("POST /stream/{session_id}/close", h.handleClose)
	mux.HandleFunc("GET /stream/{session_id}/replay", h.handleReplay)
	if h.svc.Config().EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// handleSSE streams a session's events via Server-Sent Events.
// GET /stream/{session_id}?lastEventId=…&visibility=…&types=…
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	// header takes precedence over the query param on reconnect
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

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Last-Event-ID, Cache-Control, Content-Type")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var out io.Writer = w
	var gz *gzip.Writer
	if h.svc.Config().EnableCompression && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(w)
		defer gz.Close()
		out = gz
	}

	for payload := range ch {
		if _, err := io.WriteString(out, payload); err != nil {
			h.logger.Debug("SSE write failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		if gz != nil {
			if err := gz.Flush(); err != nil {
				return
			}
		}
		flusher.Flush()
	}
	h.logger.Info("SSE stream ended", zap.String("session_id", sessionID))
}

// handleStatus reports the session record plus its queue snapshot.
// GET /stream/{session_id}/status
func (h *StreamingHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	sess, err := h.svc.GetSession(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":    sess.SessionID,
		"status":       sess.Status,
		"progress":     fmt.Sprintf("%d/%d", sess.CompletedSteps, sess.TotalSteps),
		"currentStep":  sess.CurrentStep,
		"createdAt":    sess.CreatedAt,
		"lastActivity": sess.LastActivity,
		"queue":        h.svc.QueueStats(sessionID),
	})
}

// handleClose tears down the stream. Idempotent.
// POST /stream/{session_id}/close with optional body {"reason": "..."}
func (h *StreamingHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.svc.CloseStream(r.Context(), sessionID, body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"status":    "closed",
	})
}

// handleReplay returns the buffered events newer than the given event ID.
// GET /stream/{session_id}/replay?after=<event_id>
func (h *StreamingHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	if _, err := h.svc.GetSession(r.Context(), sessionID); errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	evs := h.svc.ReplayEvents(sessionID, r.URL.Query().Get("after"))
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":  sessionID,
		"eventCount": len(evs),
		"events":     evs,
	})
}

// filterFromQuery builds the delivery filter from visibility= and types=
// query params (comma-separated). Absent params mean no filtering.
func filterFromQuery(r *http.Request) filters.Filter {
	var parts []filters.Filter
	if s := r.URL.Query().Get("visibility"); s != "" {
		var vis []events.Visibility
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				vis = append(vis, events.ParseVisibility(v))
			}
		}
		if len(vis) > 0 {
			parts = append(parts, filters.Visibility(vis...))
		}
	}
	if s := r.URL.Query().Get("types"); s != "" {
		var types []events.Type
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.Type(t))
			}
		}
		if len(types) > 0 {
			parts = append(parts, filters.Type(types...))
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return filters.And(parts...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
