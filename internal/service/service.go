// Package service implements the registry's business operations: session
// administration, capacity-bounded registration, and roster queries. Services
// depend on small store interfaces so the Postgres and in-memory
// implementations are interchangeable.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/drillhub/training-registry/internal/model"
)

// SessionStore is the persistence surface for sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
	// Update applies apply to the stored session while holding a lock that
	// excludes concurrent registrations; active is the authoritative count of
	// active entries at lock time.
	Update(ctx context.Context, id string, apply func(s *model.Session, active int) error) (*model.Session, error)
}

// RegistrationLedger is the persistence surface for registration entries.
type RegistrationLedger interface {
	Register(ctx context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error)
	Cancel(ctx context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error)
	MarkAttendance(ctx context.Context, sessionID, participantID string, status model.EntryStatus, now time.Time) (*model.RegistrationEntry, error)
	LatestEntry(ctx context.Context, sessionID, participantID string) (*model.RegistrationEntry, error)
	ListEntries(ctx context.Context, sessionID string) ([]model.RegistrationEntry, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
}

// ErrWindowClosed is returned when a participant tries to register for a
// session whose window has already passed.
var ErrWindowClosed = errors.New("session has already ended")

// ValidationError reports a malformed request. Nothing is persisted when one
// is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// validationError converts the first field failure reported by validator/v10
// into a ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &ValidationError{Field: fe.Field(), Reason: "failed " + reason + " check"}
	}
	return &ValidationError{Field: "request", Reason: err.Error()}
}
