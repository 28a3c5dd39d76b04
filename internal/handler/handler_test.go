package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/directory"
	"github.com/drillhub/training-registry/internal/events"
	"github.com/drillhub/training-registry/internal/handler"
	"github.com/drillhub/training-registry/internal/metrics"
	"github.com/drillhub/training-registry/internal/model"
	"github.com/drillhub/training-registry/internal/repository"
	"github.com/drillhub/training-registry/internal/service"
)

var apiStart = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type api struct {
	router *chi.Mux
	store  *repository.MemoryStore
	clock  *clock.Fixed
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := repository.NewMemoryStore()
	clk := clock.NewFixed(apiStart)
	m := metrics.New(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.NewStaticDirectory(map[string]model.Participant{
		"alpha-01": {ID: "alpha-01", Rank: "SGT", FullName: "Rivera, Daniel", Company: "Alpha", Email: "d.rivera@example.mil"},
	})

	adminSvc := service.NewAdminService(store, clk, events.NoopPublisher{}, m, log)
	regSvc := service.NewRegistrationService(store, store, clk, events.NoopPublisher{}, m, log)
	rosterSvc := service.NewRosterService(store, store, dir, clk, log)

	r := chi.NewRouter()
	r.Use(handler.Identity)
	r.Get("/health", handler.HealthCheck)
	handler.New(adminSvc, regSvc, rosterSvc, clk).Routes(r)

	return &api{router: r, store: store, clock: clk}
}

// do performs a request as the given caller and decodes the JSON response
// into out when out is non-nil.
func (a *api) do(t *testing.T, method, path, callerID, role string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if callerID != "" {
		req.Header.Set("X-Participant-ID", callerID)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func (a *api) createSession(t *testing.T, capacity int) string {
	t.Helper()
	var created struct {
		ID string `json:"id"`
	}
	rec := a.do(t, http.MethodPost, "/sessions", "admin-01", "admin", map[string]any{
		"title":    "Weapons Qualification",
		"start_at": apiStart.Add(2 * time.Hour),
		"end_at":   apiStart.Add(6 * time.Hour),
		"capacity": capacity,
		"location": "Range 4",
		"instructor": map[string]string{
			"name":   "SFC Delgado",
			"detail": "Range Control",
		},
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, created.ID)
	return created.ID
}

func TestSessionEndpoints(t *testing.T) {
	t.Run("create requires admin role", func(t *testing.T) {
		a := newAPI(t)
		rec := a.do(t, http.MethodPost, "/sessions", "alpha-01", "member", map[string]any{"title": "x"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("create validates the payload", func(t *testing.T) {
		a := newAPI(t)
		rec := a.do(t, http.MethodPost, "/sessions", "admin-01", "admin", map[string]any{
			"title":    "Broken",
			"start_at": apiStart.Add(6 * time.Hour),
			"end_at":   apiStart.Add(2 * time.Hour),
			"capacity": 5,
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("string and structured location both normalize", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)

		var got struct {
			Location   model.LabeledRef `json:"location"`
			Instructor model.LabeledRef `json:"instructor"`
			Status     string           `json:"status"`
			Remaining  int              `json:"remaining"`
		}
		rec := a.do(t, http.MethodGet, "/sessions/"+id, "", "", nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "Range 4", got.Location.Label)
		require.Equal(t, "SFC Delgado", got.Instructor.Name)
		require.Equal(t, "upcoming", got.Status)
		require.Equal(t, 5, got.Remaining)
	})

	t.Run("get unknown session", func(t *testing.T) {
		a := newAPI(t)
		rec := a.do(t, http.MethodGet, "/sessions/nope", "", "", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("patch capacity below active count", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)
		for _, p := range []string{"p1", "p2", "p3"} {
			rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", p, "member", nil, nil)
			require.Equal(t, http.StatusCreated, rec.Code)
		}
		rec := a.do(t, http.MethodPatch, "/sessions/"+id, "admin-01", "admin", map[string]any{"capacity": 2}, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("session view reports caller status", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var got struct {
			MyStatus string `json:"my_status"`
		}
		rec = a.do(t, http.MethodGet, "/sessions/"+id, "alpha-01", "member", nil, &got)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "registered", got.MyStatus)
	})
}

func TestRegistrationEndpoints(t *testing.T) {
	t.Run("register, duplicate, and full map to distinct statuses", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)

		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "already registered")

		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/register", "bravo-01", "member", nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "full")
	})

	t.Run("register without identity or body", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "", "", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("admin registers on behalf of a participant", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		var entry model.RegistrationEntry
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "admin-01", "admin",
			model.RegisterRequest{ParticipantID: "bravo-07"}, &entry)
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, "bravo-07", entry.ParticipantID)
	})

	t.Run("register into a finished session", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		a.clock.Advance(7 * time.Hour)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "ended")
	})

	t.Run("cancel carries a warning after the session ended", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		a.clock.Advance(7 * time.Hour)
		var resp struct {
			Entry   model.RegistrationEntry `json:"entry"`
			Warning string                  `json:"warning"`
		}
		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/cancel", "alpha-01", "member", nil, &resp)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, model.EntryCancelled, resp.Entry.Status)
		require.NotEmpty(t, resp.Warning)
	})

	t.Run("cancel before the session ends has no warning", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Warning string `json:"warning"`
		}
		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/cancel", "alpha-01", "member", nil, &resp)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, resp.Warning)
	})

	t.Run("cancel with nothing to cancel", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/cancel", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("attendance marking is admin-only", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 1)
		rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", "alpha-01", "member", nil, nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/attendance", "alpha-01", "member",
			model.AttendanceRequest{ParticipantID: "alpha-01", Status: "completed"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = a.do(t, http.MethodPost, "/sessions/"+id+"/attendance", "admin-01", "admin",
			model.AttendanceRequest{ParticipantID: "alpha-01", Status: "completed"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRosterEndpoints(t *testing.T) {
	t.Run("paginated roster with directory projection", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)
		for _, p := range []string{"alpha-01", "p2", "p3"} {
			rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", p, "member", nil, nil)
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		var page model.RosterPage
		rec := a.do(t, http.MethodGet, fmt.Sprintf("/sessions/%s/roster?page=1&page_size=2", id), "", "", nil, &page)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 3, page.TotalCount)
		require.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Rows, 2)
		require.Equal(t, "Rivera, Daniel", page.Rows[0].Participant.FullName)
		// Unknown participants degrade to the placeholder instead of erroring.
		require.Equal(t, "Unknown participant", page.Rows[1].Participant.FullName)
	})

	t.Run("invalid pagination params", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)
		rec := a.do(t, http.MethodGet, "/sessions/"+id+"/roster?page=abc", "", "", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("export returns the full roster with the session", func(t *testing.T) {
		a := newAPI(t)
		id := a.createSession(t, 5)
		for _, p := range []string{"p1", "p2", "p3", "p4", "p5"} {
			rec := a.do(t, http.MethodPost, "/sessions/"+id+"/register", p, "member", nil, nil)
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		var export struct {
			Session struct {
				ID string `json:"id"`
			} `json:"session"`
			Rows []model.RosterRow `json:"rows"`
		}
		rec := a.do(t, http.MethodGet, "/sessions/"+id+"/roster/export", "", "", nil, &export)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, id, export.Session.ID)
		require.Len(t, export.Rows, 5)
	})
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/health", "", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
