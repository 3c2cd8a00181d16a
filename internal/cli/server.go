package cli

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
	"github.com/avenhq/aven/pkg/agent"
	"github.com/avenhq/aven/pkg/approval"
	"github.com/avenhq/aven/pkg/eventbus"
)

// newHTTPHandler exposes the daemon's HTTP surface: turn submission,
// approval resolution, event log reads, the live event stream, and
// Prometheus metrics.
func newHTTPHandler(loop *agent.Loop, approvals *approval.Store, bus *eventbus.Bus, logger zerolog.Logger) http.Handler {
	h := &httpHandler{loop: loop, approvals: approvals, bus: bus, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/turn", h.handleTurn)
	mux.HandleFunc("/approvals", h.handleApprovalsList)
	mux.HandleFunc("/approvals/", h.handleApprovalResolve)
	mux.HandleFunc("/events", h.handleEvents)
	mux.Handle("/events/stream", eventbus.NewStreamServer(bus, 30*time.Second, logger))
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

type httpHandler struct {
	loop      *agent.Loop
	approvals *approval.Store
	bus       *eventbus.Bus
	logger    zerolog.Logger
}

func (h *httpHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTurn runs one agent turn synchronously. A waiting_approval
// status in the response means the turn is suspended, not failed.
func (h *httpHandler) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var params agent.TurnParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if params.UserID == "" || params.ConversationID == "" || params.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id, conversation_id and message are required")
		return
	}

	result, err := h.loop.RunTurn(r.Context(), params)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation_id", params.ConversationID).Msg("Turn failed")
		if result != nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *httpHandler) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pending, err := h.approvals.ListPending(r.URL.Query().Get("conversation"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": pending})
}

// handleApprovalResolve accepts POST /approvals/{id}/resolve with a
// JSON body {"approved": bool}. Resolution only records the decision
// and enqueues the continuation; the worker performs the action.
func (h *httpHandler) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/approvals/")
	id, ok := strings.CutSuffix(rest, "/resolve")
	if !ok || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var body struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.approvals.Resolve(id, body.Approved)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *httpHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	q := eventbus.Query{
		AfterID: r.URL.Query().Get("after"),
		Status:  r.URL.Query().Get("status"),
		Source:  r.URL.Query().Get("source"),
	}
	if t := r.URL.Query().Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			q.Types = append(q.Types, eventbus.EventType(strings.TrimSpace(part)))
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	events, err := h.bus.Events(userID, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
