package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agentsched/internal/platform"
	"agentsched/internal/schedule"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

// ---- Wire types ----

type createRecurringRequest struct {
	AgentID    string `json:"agent_id"`
	Credential string `json:"credential"`
	Cron       string `json:"cron"`
	Message    string `json:"message"`
	Role       string `json:"role,omitempty"`
}

type createOneTimeRequest struct {
	AgentID    string `json:"agent_id"`
	Credential string `json:"credential"`
	ExecuteAt  string `json:"execute_at"` // RFC 3339
	Message    string `json:"message"`
	Role       string `json:"role,omitempty"`
}

// recurringView is a Recurring without the credential.
type recurringView struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Cron      string     `json:"cron"`
	Message   string     `json:"message"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	LastRun   *time.Time `json:"last_run,omitempty"`
}

// oneTimeView is a OneTime without the credential.
type oneTimeView struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	ExecuteAt time.Time `json:"execute_at"`
	Message   string    `json:"message"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func viewRecurring(rec schedule.Recurring) recurringView {
	return recurringView{
		ID:        rec.ID,
		AgentID:   rec.AgentID,
		Cron:      rec.Cron,
		Message:   rec.Message,
		Role:      rec.Role,
		CreatedAt: rec.CreatedAt,
		LastRun:   rec.LastRun,
	}
}

func viewOneTime(ot schedule.OneTime) oneTimeView {
	return oneTimeView{
		ID:        ot.ID,
		AgentID:   ot.AgentID,
		ExecuteAt: ot.ExecuteAt,
		Message:   ot.Message,
		Role:      ot.Role,
		CreatedAt: ot.CreatedAt,
	}
}

// ---- Helpers ----

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", logx.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// bearerToken extracts the tenant credential from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// tenant resolves the caller's credential or writes a 401 and returns "".
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) string {
	tok := bearerToken(r)
	if tok == "" {
		s.writeError(w, http.StatusUnauthorized, "missing bearer credential")
	}
	return tok
}

// validateCredential checks a create request's credential against the
// platform. Rejection is 401; a platform transport failure is 502 (the
// request may be fine, the check could not run).
func (s *Server) validateCredential(w http.ResponseWriter, r *http.Request, credential string) bool {
	err := s.client.Validate(r.Context(), credential)
	if err == nil {
		return true
	}
	if errors.Is(err, platform.ErrInvalidCredential) {
		s.writeError(w, http.StatusUnauthorized, "invalid credential")
		return false
	}
	s.log.Warn("credential validation failed", logx.Err(err))
	s.writeError(w, http.StatusBadGateway, "credential validation unavailable")
	return false
}

// ---- Handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req createRecurringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.AgentID == "" || req.Credential == "" || req.Cron == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id, credential, cron and message are required")
		return
	}
	if _, err := schedule.ParseCron(req.Cron); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.validateCredential(w, r, req.Credential) {
		return
	}

	rec := schedule.NewRecurring(req.AgentID, req.Credential, req.Cron, req.Message, req.Role)
	if err := s.store.PutRecurring(rec); err != nil {
		s.log.Error("failed to store recurring schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store schedule")
		return
	}
	s.log.Info("recurring schedule created",
		logx.String("schedule_id", rec.ID), logx.String("agent_id", rec.AgentID))
	s.writeJSON(w, http.StatusCreated, viewRecurring(rec))
}

func (s *Server) handleCreateOneTime(w http.ResponseWriter, r *http.Request) {
	var req createOneTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.AgentID == "" || req.Credential == "" || req.ExecuteAt == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "agent_id, credential, execute_at and message are required")
		return
	}
	executeAt, err := time.Parse(time.RFC3339, req.ExecuteAt)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "execute_at must be RFC 3339")
		return
	}
	if !s.validateCredential(w, r, req.Credential) {
		return
	}

	ot := schedule.NewOneTime(req.AgentID, req.Credential, executeAt, req.Message, req.Role)
	if err := s.store.PutOneTime(ot); err != nil {
		s.log.Error("failed to store one-time schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store schedule")
		return
	}
	s.log.Info("one-time schedule created",
		logx.String("schedule_id", ot.ID),
		logx.String("agent_id", ot.AgentID),
		logx.Time("execute_at", ot.ExecuteAt))
	s.writeJSON(w, http.StatusCreated, viewOneTime(ot))
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	recs, err := s.store.ListTenantRecurring(tok)
	if err != nil {
		s.log.Error("failed to list recurring schedules", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	out := make([]recurringView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewRecurring(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListOneTime(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	ots, err := s.store.ListTenantOneTime(tok)
	if err != nil {
		s.log.Error("failed to list one-time schedules", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	out := make([]oneTimeView, 0, len(ots))
	for _, ot := range ots {
		out = append(out, viewOneTime(ot))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	id := chi.URLParam(r, "scheduleID")
	rec, err := s.store.GetRecurring(tok, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read recurring schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	// The path is digest-derived; a truncated-digest collision could surface
	// another tenant's record, so the stored credential is the authority.
	if rec.Credential != tok {
		s.writeError(w, http.StatusForbidden, "schedule not owned by caller")
		return
	}
	s.writeJSON(w, http.StatusOK, viewRecurring(rec))
}

func (s *Server) handleGetOneTime(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	id := chi.URLParam(r, "scheduleID")
	ot, err := s.store.FindOneTime(tok, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read one-time schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	if ot.Credential != tok {
		s.writeError(w, http.StatusForbidden, "schedule not owned by caller")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOneTime(ot))
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	id := chi.URLParam(r, "scheduleID")
	rec, err := s.store.GetRecurring(tok, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read recurring schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	if rec.Credential != tok {
		s.writeError(w, http.StatusForbidden, "schedule not owned by caller")
		return
	}
	if _, err := s.store.DeleteRecurring(tok, id); err != nil {
		s.log.Error("failed to delete recurring schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	s.log.Info("recurring schedule deleted", logx.String("schedule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteOneTime(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	id := chi.URLParam(r, "scheduleID")
	ot, err := s.store.FindOneTime(tok, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read one-time schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	if ot.Credential != tok {
		s.writeError(w, http.StatusForbidden, "schedule not owned by caller")
		return
	}
	// Losing the race to a concurrent dispatch is fine: either way the record
	// is gone when this returns.
	if _, err := s.store.DeleteOneTime(tok, ot.ExecuteAt, id); err != nil {
		s.log.Error("failed to delete one-time schedule", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	s.log.Info("one-time schedule deleted", logx.String("schedule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	results, err := s.store.ListResults(tok)
	if err != nil {
		s.log.Error("failed to list results", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	tok := s.tenant(w, r)
	if tok == "" {
		return
	}
	id := chi.URLParam(r, "scheduleID")
	res, err := s.store.GetResult(tok, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.log.Error("failed to read result", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
