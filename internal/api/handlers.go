package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/kabelnet/ispbot/internal/store"
	"github.com/kabelnet/ispbot/internal/util"
)

// maxAuditLimit caps GET /api/audit?limit=.
const maxAuditLimit = 1000

// SimulateRequest is the body of POST /api/messages.
type SimulateRequest struct {
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
	DisplayName string `json:"display_name,omitempty"`
}

// FlowInfo describes one registered flow in GET /api/flows.
type FlowInfo struct {
	ID          models.FlowID `json:"id"`
	Title       string        `json:"title"`
	Confirm     bool          `json:"confirm"`
	IdleTimeout string        `json:"idle_timeout,omitempty"`
	Steps       []StepInfo    `json:"steps"`
}

// StepInfo describes one step of a flow.
type StepInfo struct {
	ID        models.StepID   `json:"id"`
	Protected bool            `json:"protected"`
	Next      []models.StepID `json:"next,omitempty"`
}

type sessionLister interface {
	List() []models.Session
}

// healthHandler reports process health and the number of live sessions.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if lister, ok := s.engine.Sessions().(sessionLister); ok {
		healthData["active_sessions"] = len(lister.List())
	}
	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: store ping failed", "error", err)
			healthData["status"] = "degraded"
			healthData["error"] = "store unreachable"
		}
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	respond(w, r, statusCode, healthData)
}

// messageHandler feeds a message into the engine as if it came from the transport.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		respondError(w, r, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	userID, err := util.CanonicalPhone(req.UserID)
	if err != nil {
		slog.Warn("Server.messageHandler: invalid user_id", "error", err)
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, r, http.StatusBadRequest, "text is required")
		return
	}

	msg := models.InboundMessage{
		MessageID:   "api-" + uuid.NewString(),
		From:        userID,
		Body:        req.Text,
		DisplayName: req.DisplayName,
		Time:        time.Now().Unix(),
	}
	slog.Debug("Server.messageHandler: simulating inbound message", "user_id", userID, "message_id", msg.MessageID)
	reply := s.engine.HandleMessage(r.Context(), msg)

	result := map[string]interface{}{"to": reply.To, "reply": reply.Text}
	if sess, ok := s.engine.Sessions().Get(userID); ok {
		result["session"] = redact(sess)
	}
	respondOK(w, r, result)
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.engine.Sessions().(sessionLister)
	if !ok {
		respondError(w, r, http.StatusNotImplemented, "session store cannot be listed")
		return
	}
	sessions := lister.List()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	out := make([]models.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, redact(sess))
	}
	respondOK(w, r, out)
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	sess, found := s.engine.Sessions().Get(userID)
	if !found {
		respondError(w, r, http.StatusNotFound, "no active session")
		return
	}
	respondOK(w, r, redact(sess))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if !s.engine.ResetSession(userID) {
		respondError(w, r, http.StatusNotFound, "no active session")
		return
	}
	slog.Info("Server.deleteSessionHandler: session reset", "user_id", userID)
	respond(w, r, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))
}

func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	flows := s.engine.Registry().Flows()
	out := make([]FlowInfo, 0, len(flows))
	for _, f := range flows {
		info := FlowInfo{ID: f.ID, Title: f.Title, Confirm: f.Confirm}
		if f.IdleTimeout > 0 {
			info.IdleTimeout = f.IdleTimeout.String()
		}
		for _, st := range f.Steps {
			info.Steps = append(info.Steps, StepInfo{ID: st.ID, Protected: st.Protected, Next: st.Next})
		}
		out = append(out, info)
	}
	respondOK(w, r, out)
}

func (s *Server) auditHandler(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, r, http.StatusNotImplemented, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := store.AuditFilter{Kind: models.EventKind(q.Get("kind")), Limit: store.DefaultAuditLimit}
	if raw := q.Get("user_id"); raw != "" {
		userID, err := util.CanonicalPhone(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.UserID = userID
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	events, err := s.audit.ListAuditEvents(r.Context(), filter)
	if err != nil {
		slog.Error("Server.auditHandler: failed to list audit events", "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to read audit log")
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	respondOK(w, r, events)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := util.CanonicalPhone(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	return userID, true
}

// redact hides parked action parameters, which may hold a new WiFi password.
func redact(sess models.Session) models.Session {
	out := sess.Clone()
	if _, ok := out.Context[models.DataKeyPendingParams]; ok {
		out.Context[models.DataKeyPendingParams] = "[redacted]"
	}
	return out
}
