package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/events"
	"github.com/drillhub/training-registry/internal/lifecycle"
	"github.com/drillhub/training-registry/internal/metrics"
	"github.com/drillhub/training-registry/internal/model"
	"github.com/drillhub/training-registry/internal/repository"
)

// RegistrationService orchestrates register and cancel operations against the
// ledger. The capacity-critical section itself lives inside the ledger so the
// check and the write commit atomically; this layer adds the time-window
// rules, events, and metrics.
type RegistrationService struct {
	sessions SessionStore
	ledger   RegistrationLedger
	clock    clock.Clock
	pub      events.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(sessions SessionStore, ledger RegistrationLedger, clk clock.Clock, pub events.Publisher, m *metrics.Metrics, log *slog.Logger) *RegistrationService {
	return &RegistrationService{
		sessions: sessions,
		ledger:   ledger,
		clock:    clk,
		pub:      pub,
		metrics:  m,
		log:      log,
	}
}

// Register enrolls a participant in a session. It fails with
// ErrSessionNotFound, ErrWindowClosed, ErrAlreadyRegistered, or
// CapacityExceededError; a retry of a call that already succeeded gets
// ErrAlreadyRegistered instead of a duplicate entry.
func (s *RegistrationService) Register(ctx context.Context, sessionID, participantID string) (*model.RegistrationEntry, error) {
	if participantID == "" {
		return nil, &ValidationError{Field: "participant_id", Reason: "must not be empty"}
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if lifecycle.SessionStatus(session, now) == model.SessionCompleted {
		return nil, ErrWindowClosed
	}

	entry, err := s.ledger.Register(ctx, sessionID, participantID, now)
	if err != nil {
		var full *repository.CapacityExceededError
		if errors.As(err, &full) {
			s.metrics.CapacityRejections.Inc()
		}
		return nil, err
	}

	s.metrics.Registrations.Inc()
	if err := s.pub.RegistrationCreated(entry); err != nil {
		s.log.Warn("publish registration.created failed", "session_id", sessionID, "error", err)
	}
	s.log.Info("participant registered", "session_id", sessionID, "participant_id", participantID)
	return entry, nil
}

// CancelOutcome is the result of a cancel call. LateCancellation flags a
// historical correction: the session had already ended when the cancel
// arrived. The operation still succeeds; the flag is informational.
type CancelOutcome struct {
	Entry            *model.RegistrationEntry
	LateCancellation bool
}

// Cancel withdraws a participant's active registration. Cancelling a pair
// whose entry is already cancelled succeeds and returns that entry, so client
// retries are harmless; a pair that never registered fails with
// ErrRegistrationNotFound.
func (s *RegistrationService) Cancel(ctx context.Context, sessionID, participantID string) (*CancelOutcome, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry, err := s.ledger.Cancel(ctx, sessionID, participantID, now)
	if err != nil {
		return nil, err
	}

	late := lifecycle.SessionStatus(session, now) == model.SessionCompleted
	s.metrics.Cancellations.Inc()
	if err := s.pub.RegistrationCancelled(entry); err != nil {
		s.log.Warn("publish registration.cancelled failed", "session_id", sessionID, "error", err)
	}
	if late {
		s.log.Warn("late cancellation on completed session", "session_id", sessionID, "participant_id", participantID)
	}
	return &CancelOutcome{Entry: entry, LateCancellation: late}, nil
}

// MarkAttendance records the stored outcome (completed/absent) for a
// participant's active entry. Display derivation keeps the marking invisible
// until the session window has passed.
func (s *RegistrationService) MarkAttendance(ctx context.Context, sessionID, participantID string, status model.EntryStatus) (*model.RegistrationEntry, error) {
	if status != model.EntryCompleted && status != model.EntryAbsent {
		return nil, &ValidationError{Field: "status", Reason: "must be completed or absent"}
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.ledger.MarkAttendance(ctx, sessionID, participantID, status, s.clock.Now())
}

// DisplayStatus returns the participant's display registration status for a
// session, derived through the lifecycle rules.
func (s *RegistrationService) DisplayStatus(ctx context.Context, sessionID, participantID string) (model.DisplayStatus, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	entry, err := s.ledger.LatestEntry(ctx, sessionID, participantID)
	if err != nil {
		return "", err
	}
	return lifecycle.DisplayStatus(entry, session, s.clock.Now()), nil
}
