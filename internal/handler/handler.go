// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/lifecycle"
	"github.com/drillhub/training-registry/internal/model"
	"github.com/drillhub/training-registry/internal/repository"
	"github.com/drillhub/training-registry/internal/service"
)

// Handler holds all HTTP handlers for the training registry API.
type Handler struct {
	admin  *service.AdminService
	reg    *service.RegistrationService
	roster *service.RosterService
	clock  clock.Clock
}

// New constructs a Handler.
func New(admin *service.AdminService, reg *service.RegistrationService, roster *service.RosterService, clk clock.Clock) *Handler {
	return &Handler{admin: admin, reg: reg, roster: roster, clock: clk}
}

// Routes mounts all API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.With(RequireAdmin).Post("/", h.CreateSession)
		r.Get("/{id}", h.GetSession)
		r.With(RequireAdmin).Patch("/{id}", h.UpdateSession)
		r.Post("/{id}/register", h.Register)
		r.Post("/{id}/cancel", h.Cancel)
		r.With(RequireAdmin).Post("/{id}/attendance", h.MarkAttendance)
		r.Get("/{id}/roster", h.Roster)
		r.Get("/{id}/roster/export", h.RosterExport)
	})
	r.Get("/roster", h.Roster)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// mapError translates domain errors to HTTP responses. Every declared error
// kind surfaces distinctly so operators can tell a full session from a
// duplicate registration from a closed window.
func mapError(w http.ResponseWriter, err error) {
	var (
		validation *service.ValidationError
		full       *repository.CapacityExceededError
		conflict   *repository.CapacityConflictError
		retryable  *repository.RetryableError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, repository.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, "no registration found for this participant")
	case errors.Is(err, repository.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "participant is already registered for this session")
	case errors.Is(err, service.ErrWindowClosed):
		writeError(w, http.StatusConflict, "session has already ended")
	case errors.As(err, &full):
		writeError(w, http.StatusConflict, full.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &retryable):
		writeError(w, http.StatusServiceUnavailable, "temporary store conflict, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// sessionView decorates a session with its derived status and free slots.
type sessionView struct {
	model.Session
	Status    model.SessionStatus `json:"status"`
	Remaining int                 `json:"remaining"`
}

func (h *Handler) view(s *model.Session) sessionView {
	return sessionView{
		Session:   *s,
		Status:    lifecycle.SessionStatus(s, h.clock.Now()),
		Remaining: s.Remaining(),
	}
}

// ─── Session administration ──────────────────────────────────────────────────

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	session, err := h.admin.CreateSession(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(session))
}

// UpdateSession handles PATCH /sessions/{id}
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var patch model.UpdateSessionRequest
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	session, err := h.admin.UpdateSession(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.admin.ListSessions(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, h.view(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetSession handles GET /sessions/{id}. When the caller identity is known,
// the response includes the caller's own display registration status.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := h.admin.GetSession(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	resp := struct {
		sessionView
		MyStatus model.DisplayStatus `json:"my_status,omitempty"`
	}{sessionView: h.view(session)}

	if caller := CallerID(r.Context()); caller != "" {
		status, err := h.reg.DisplayStatus(r.Context(), id, caller)
		if err != nil {
			mapError(w, err)
			return
		}
		resp.MyStatus = status
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Registration ────────────────────────────────────────────────────────────

// participantFrom resolves the target participant: an explicit body value
// (admins acting on someone's behalf) or the caller's own identity.
func participantFrom(r *http.Request, body model.RegisterRequest) string {
	if body.ParticipantID != "" {
		return body.ParticipantID
	}
	return CallerID(r.Context())
}

// Register handles POST /sessions/{id}/register
// An empty body registers the caller themselves.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	entry, err := h.reg.Register(r.Context(), chi.URLParam(r, "id"), participantFrom(r, req))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type cancelResponse struct {
	Entry   *model.RegistrationEntry `json:"entry"`
	Warning string                   `json:"warning,omitempty"`
}

// Cancel handles POST /sessions/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	outcome, err := h.reg.Cancel(r.Context(), chi.URLParam(r, "id"), participantFrom(r, req))
	if err != nil {
		mapError(w, err)
		return
	}
	resp := cancelResponse{Entry: outcome.Entry}
	if outcome.LateCancellation {
		resp.Warning = "cancellation recorded after the session had already completed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkAttendance handles POST /sessions/{id}/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.AttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	entry, err := h.reg.MarkAttendance(r.Context(), chi.URLParam(r, "id"), req.ParticipantID, model.EntryStatus(req.Status))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ─── Roster ──────────────────────────────────────────────────────────────────

// Roster handles GET /sessions/{id}/roster and GET /roster. Filters come from
// query parameters: q, company, status, page, page_size.
func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	filter := model.RosterFilter{
		SessionID: chi.URLParam(r, "id"),
		Query:     r.URL.Query().Get("q"),
		Company:   r.URL.Query().Get("company"),
		Status:    model.DisplayStatus(r.URL.Query().Get("status")),
	}
	if filter.SessionID == "" {
		filter.SessionID = r.URL.Query().Get("session_id")
	}
	page := model.PageRequest{
		Number: queryInt(r, "page", 1),
		Size:   queryInt(r, "page_size", 20),
	}
	result, err := h.roster.Query(r.Context(), filter, page)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RosterExport handles GET /sessions/{id}/roster/export: the full unpaginated
// roster the external formatter renders to CSV/PDF.
func (h *Handler) RosterExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := h.admin.GetSession(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	rows, err := h.roster.FullRoster(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Session sessionView       `json:"session"`
		Rows    []model.RosterRow `json:"rows"`
	}{Session: h.view(session), Rows: rows})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1 // rejected downstream as a validation error
	}
	return n
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
