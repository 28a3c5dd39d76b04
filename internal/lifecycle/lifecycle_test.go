package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drillhub/training-registry/internal/model"
)

var (
	start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end   = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
)

func window() *model.Session {
	return &model.Session{ID: "s1", StartAt: start, EndAt: end}
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want model.SessionStatus
	}{
		{"well before start", start.Add(-24 * time.Hour), model.SessionUpcoming},
		{"instant before start", start.Add(-time.Nanosecond), model.SessionUpcoming},
		{"exactly at start", start, model.SessionOngoing},
		{"mid window", start.Add(time.Hour), model.SessionOngoing},
		{"exactly at end", end, model.SessionOngoing},
		{"instant after end", end.Add(time.Nanosecond), model.SessionCompleted},
		{"well after end", end.Add(24 * time.Hour), model.SessionCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SessionStatus(window(), tt.now))
		})
	}
}

func TestSessionStatusDeterministic(t *testing.T) {
	s := window()
	now := start.Add(30 * time.Minute)
	first := SessionStatus(s, now)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, SessionStatus(s, now))
	}
}

func TestDisplayStatus(t *testing.T) {
	entry := func(status model.EntryStatus) *model.RegistrationEntry {
		return &model.RegistrationEntry{SessionID: "s1", ParticipantID: "p1", Status: status}
	}
	tests := []struct {
		name  string
		entry *model.RegistrationEntry
		now   time.Time
		want  model.DisplayStatus
	}{
		{"no entry", nil, start, model.DisplayNotRegistered},
		{"cancelled before session", entry(model.EntryCancelled), start.Add(-time.Hour), model.DisplayCancelled},
		{"cancelled after session", entry(model.EntryCancelled), end.Add(time.Hour), model.DisplayCancelled},
		{"registered while upcoming", entry(model.EntryRegistered), start.Add(-time.Hour), model.DisplayRegistered},
		{"registered while ongoing", entry(model.EntryRegistered), start.Add(time.Hour), model.DisplayRegistered},
		// Pre-seeded attendance must not leak before the session ends.
		{"completed suppressed while upcoming", entry(model.EntryCompleted), start.Add(-time.Hour), model.DisplayRegistered},
		{"attended suppressed while ongoing", entry(model.EntryAttended), start.Add(time.Hour), model.DisplayRegistered},
		{"completed honored after end", entry(model.EntryCompleted), end.Add(time.Hour), model.DisplayCompleted},
		{"attended honored after end", entry(model.EntryAttended), end.Add(time.Hour), model.DisplayCompleted},
		// A session that ended without any attendance marking stays registered.
		{"unmarked after end", entry(model.EntryRegistered), end.Add(time.Hour), model.DisplayRegistered},
		{"absent shown as registered", entry(model.EntryAbsent), end.Add(time.Hour), model.DisplayRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DisplayStatus(tt.entry, window(), tt.now))
		})
	}
}
