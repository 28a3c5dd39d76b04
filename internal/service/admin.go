package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/events"
	"github.com/drillhub/training-registry/internal/metrics"
	"github.com/drillhub/training-registry/internal/model"
	"github.com/drillhub/training-registry/internal/repository"
)

// maxCapacity bounds session capacity to something an operator can plausibly
// mean; anything larger is almost certainly a typo.
const maxCapacity = 100_000

// AdminService creates and updates session definitions. It is the only writer
// of a session's mutable fields.
type AdminService struct {
	sessions SessionStore
	clock    clock.Clock
	pub      events.Publisher
	metrics  *metrics.Metrics
	validate *validator.Validate
	log      *slog.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(sessions SessionStore, clk clock.Clock, pub events.Publisher, m *metrics.Metrics, log *slog.Logger) *AdminService {
	return &AdminService{
		sessions: sessions,
		clock:    clk,
		pub:      pub,
		metrics:  m,
		validate: validator.New(),
		log:      log,
	}
}

// CreateSession validates the request, assigns an ID, and persists the
// session with zero registrations.
func (s *AdminService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := validateWindow(req.StartAt, req.EndAt); err != nil {
		return nil, err
	}
	if req.Capacity > maxCapacity {
		return nil, &ValidationError{Field: "capacity", Reason: "exceeds maximum"}
	}

	now := s.clock.Now()
	session := &model.Session{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Capacity:    req.Capacity,
		Location:    req.Location,
		Instructor:  req.Instructor,
		Mandatory:   req.Mandatory,
		Tags:        normalizeTags(req.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.metrics.SessionsCreated.Inc()
	if err := s.pub.SessionCreated(session); err != nil {
		s.log.Warn("publish session.created failed", "session_id", session.ID, "error", err)
	}
	s.log.Info("session created", "session_id", session.ID, "title", session.Title, "capacity", session.Capacity)
	return session, nil
}

// UpdateSession applies a partial update. Reducing capacity below the current
// active registration count fails with CapacityConflictError and nothing is
// persisted; the store holds the session lock for the whole check-and-write
// so a racing registration cannot slip under the new limit.
func (s *AdminService) UpdateSession(ctx context.Context, id string, patch model.UpdateSessionRequest) (*model.Session, error) {
	now := s.clock.Now()
	return s.sessions.Update(ctx, id, func(session *model.Session, active int) error {
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return &ValidationError{Field: "title", Reason: "must not be empty"}
			}
			session.Title = title
		}
		if patch.Description != nil {
			session.Description = *patch.Description
		}
		if patch.Category != nil {
			session.Category = *patch.Category
		}
		if patch.StartAt != nil {
			session.StartAt = *patch.StartAt
		}
		if patch.EndAt != nil {
			session.EndAt = *patch.EndAt
		}
		if err := validateWindow(session.StartAt, session.EndAt); err != nil {
			return err
		}
		if patch.Capacity != nil {
			if *patch.Capacity < 1 {
				return &ValidationError{Field: "capacity", Reason: "must be at least 1"}
			}
			if *patch.Capacity > maxCapacity {
				return &ValidationError{Field: "capacity", Reason: "exceeds maximum"}
			}
			if *patch.Capacity < active {
				return &repository.CapacityConflictError{Requested: *patch.Capacity, Active: active}
			}
			session.Capacity = *patch.Capacity
		}
		if patch.Location != nil {
			session.Location = *patch.Location
		}
		if patch.Instructor != nil {
			session.Instructor = *patch.Instructor
		}
		if patch.Mandatory != nil {
			session.Mandatory = *patch.Mandatory
		}
		if patch.Tags != nil {
			session.Tags = normalizeTags(*patch.Tags)
		}
		session.UpdatedAt = now
		return nil
	})
}

// GetSession returns a single session.
func (s *AdminService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// ListSessions returns all sessions.
func (s *AdminService) ListSessions(ctx context.Context) ([]model.Session, error) {
	return s.sessions.List(ctx)
}

func validateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return &ValidationError{Field: "window", Reason: "start must be before end"}
	}
	return nil
}

// normalizeTags trims, drops empties, and de-duplicates while keeping the
// original order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
