// Package lifecycle derives session and registration display statuses from
// stored data plus the current time. Both functions are pure; every display
// site must call them instead of re-deriving inline.
package lifecycle

import (
	"time"

	"github.com/drillhub/training-registry/internal/model"
)

// SessionStatus classifies a session window relative to now. Both boundaries
// are inclusive of ongoing: a session is ongoing from the instant it starts
// through the instant it ends.
func SessionStatus(s *model.Session, now time.Time) model.SessionStatus {
	switch {
	case now.Before(s.StartAt):
		return model.SessionUpcoming
	case now.After(s.EndAt):
		return model.SessionCompleted
	default:
		return model.SessionOngoing
	}
}

// DisplayStatus reconciles a stored registration entry with the session's
// derived status. A nil entry means the participant never registered.
//
// Terminal attendance markings (completed/attended/absent) are suppressed
// until the session itself has ended: upstream feeds can pre-seed or carry
// stale attendance data, and showing "completed" for a session that has not
// yet occurred is worse than showing "registered".
func DisplayStatus(entry *model.RegistrationEntry, s *model.Session, now time.Time) model.DisplayStatus {
	if entry == nil {
		return model.DisplayNotRegistered
	}
	if entry.Status == model.EntryCancelled {
		return model.DisplayCancelled
	}
	if SessionStatus(s, now) != model.SessionCompleted {
		return model.DisplayRegistered
	}
	switch entry.Status {
	case model.EntryCompleted, model.EntryAttended:
		return model.DisplayCompleted
	default:
		// Absent and never-marked entries stay "registered": the engine does
		// not invent an outcome the attendance step never recorded.
		return model.DisplayRegistered
	}
}
