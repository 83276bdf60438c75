package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/softdial/softdial/internal/agent"
	"github.com/softdial/softdial/internal/api/middleware"
	"github.com/softdial/softdial/internal/auth"
	"github.com/softdial/softdial/internal/call"
	"github.com/softdial/softdial/internal/database"
)

// maxBodyBytes bounds control API request bodies. Nothing the API
// accepts is legitimately larger.
const maxBodyBytes = 64 * 1024

// maxAutodialBatch caps how many activities one request may enqueue.
const maxAutodialBatch = 500

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// agentError maps orchestrator sentinel errors to HTTP statuses.
func (s *Server) agentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrSessionExists):
		writeError(w, http.StatusConflict, "a call is already in progress")
	case errors.Is(err, agent.ErrInvalidState):
		writeError(w, http.StatusConflict, "no call in a state for that operation")
	case errors.Is(err, agent.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "agent is not ready")
	case errors.Is(err, agent.ErrTelPreferred):
		writeError(w, http.StatusUnprocessableEntity, "call method is set to tel; dial from the device instead")
	default:
		s.logger.Error("api operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// handleLogin exchanges the API password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.cfg.APIPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "api login is not configured")
		return
	}

	match, err := auth.CheckPassword(req.Password, s.cfg.APIPasswordHash)
	if err != nil {
		s.logger.Error("checking api password", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if !match {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtSecret)
	if err != nil {
		s.logger.Error("generating token", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// handleStatus reports the agent's readiness, the error surface, and
// reconnection stats.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.agent.Session(r.Context())
	errState := s.notifier.Current()

	status := map[string]any{
		"mode":          s.cfg.Mode,
		"session_state": snap.State,
	}
	if errState.Message != "" {
		status["error"] = errState
	}
	if rc := s.agent.Reconnector(); rc != nil {
		status["reconnect"] = map[string]any{
			"in_flight": rc.InFlight(),
			"total":     rc.Total(),
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSession returns the live session snapshot.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

// handlePlaceCall starts an outgoing call.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number   string         `json:"number"`
		Activity *call.Activity `json:"activity,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if call.CleanPhoneNumber(req.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	if err := s.agent.PlaceCall(r.Context(), req.Number, req.Activity); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.agent.Session(r.Context()))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.AcceptIncoming(r.Context()); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.RejectIncoming(r.Context()); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

func (s *Server) handleHangUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActivityDone bool `json:"activity_done,omitempty"`
	}
	// The body is optional; hangup with no body keeps the activity open.
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.agent.HangUp(r.Context(), req.ActivityDone); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number string `json:"number"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if call.CleanPhoneNumber(req.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	if err := s.agent.Transfer(r.Context(), req.Number); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted  *bool `json:"muted,omitempty"`
		Toggle bool  `json:"toggle,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch {
	case req.Toggle:
		err = s.agent.ToggleMute(r.Context())
	case req.Muted != nil:
		err = s.agent.SetMute(r.Context(), *req.Muted)
	default:
		writeError(w, http.StatusBadRequest, "muted or toggle is required")
		return
	}
	if err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

func (s *Server) handleSwitchDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	if err := s.agent.SwitchInputDevice(r.Context(), req.DeviceID); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Session(r.Context()))
}

// handleCallLog lists finished calls, newest first.
func (s *Server) handleCallLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.CallLogFilter{
		Direction:   q.Get("direction"),
		Disposition: q.Get("disposition"),
		Search:      q.Get("search"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	entries, total, err := s.callLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing call log", "error", err)
		writeError(w, http.StatusInternalServerError, "listing call log failed")
		return
	}
	if entries == nil {
		entries = []database.CallLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
	})
}

func (s *Server) handleCallLogCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.callLog.Counts(r.Context())
	if err != nil {
		s.logger.Error("counting call log", "error", err)
		writeError(w, http.StatusInternalServerError, "counting call log failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleAutodialStart enqueues a batch of activities and begins dialing.
func (s *Server) handleAutodialStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Activities []*call.Activity `json:"activities"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Activities) == 0 {
		writeError(w, http.StatusBadRequest, "activities is required")
		return
	}
	if len(req.Activities) > maxAutodialBatch {
		writeError(w, http.StatusBadRequest, "too many activities in one batch")
		return
	}
	for _, a := range req.Activities {
		if a == nil || call.CleanPhoneNumber(a.Number()) == "" {
			writeError(w, http.StatusBadRequest, "every activity needs a phone number")
			return
		}
	}

	if err := s.agent.Autodial(r.Context(), req.Activities...); err != nil {
		s.agentError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pending": s.agent.AutodialPending(),
	})
}

func (s *Server) handleAutodialStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  s.queue.Active(),
		"pending": s.queue.Len(),
	})
}

func (s *Server) handleAutodialStop(w http.ResponseWriter, r *http.Request) {
	s.agent.StopAutodial()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  false,
		"pending": 0,
	})
}
