package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drillhub/training-registry/internal/model"
)

// MemoryStore is an in-memory implementation of both the session store and
// the registration ledger. A single mutex guards all state, which serializes
// the read-count-then-write sequence the same way the Postgres implementation
// does with its row lock. Used for unit tests and DB_DRIVER=memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	entries  []model.RegistrationEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (m *MemoryStore) countActiveLocked(sessionID string) int {
	n := 0
	for i := range m.entries {
		if m.entries[i].SessionID == sessionID && m.entries[i].Status == model.EntryRegistered {
			n++
		}
	}
	return n
}

func (m *MemoryStore) sessionCopyLocked(s *model.Session) *model.Session {
	out := *s
	out.Tags = append([]string(nil), s.Tags...)
	out.Registered = m.countActiveLocked(s.ID)
	return &out
}

// Create inserts a new session.
func (m *MemoryStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	m.sessions[s.ID] = &cp
	return nil
}

// GetByID returns a single session or ErrSessionNotFound.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return m.sessionCopyLocked(s), nil
}

// List returns all sessions ordered by start time ascending.
func (m *MemoryStore) List(_ context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *m.sessionCopyLocked(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update applies apply to the session under the store lock and keeps the
// result. apply returning an error aborts with nothing changed.
func (m *MemoryStore) Update(_ context.Context, id string, apply func(s *model.Session, active int) error) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := m.sessionCopyLocked(s)
	if err := apply(cp, cp.Registered); err != nil {
		return nil, err
	}
	stored := *cp
	stored.Tags = append([]string(nil), cp.Tags...)
	m.sessions[id] = &stored
	return cp, nil
}

// Register creates an active entry while holding the store lock, so the
// capacity check and the insert are atomic.
func (m *MemoryStore) Register(_ context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	for i := range m.entries {
		e := &m.entries[i]
		if e.SessionID == sessionID && e.ParticipantID == participantID && e.Status == model.EntryRegistered {
			return nil, ErrAlreadyRegistered
		}
	}
	active := m.countActiveLocked(sessionID)
	if active >= s.Capacity {
		return nil, &CapacityExceededError{Capacity: s.Capacity, Registered: active}
	}
	entry := model.RegistrationEntry{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		ParticipantID:   participantID,
		Status:          model.EntryRegistered,
		RegisteredAt:    now,
		StatusChangedAt: now,
	}
	m.entries = append(m.entries, entry)
	return &entry, nil
}

// Cancel transitions the pair's active entry to cancelled, or returns the
// existing cancelled entry when there is nothing active to cancel.
func (m *MemoryStore) Cancel(_ context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		e := &m.entries[i]
		if e.SessionID == sessionID && e.ParticipantID == participantID && e.Status == model.EntryRegistered {
			e.Status = model.EntryCancelled
			e.StatusChangedAt = now
			cp := *e
			return &cp, nil
		}
	}
	var latest *model.RegistrationEntry
	for i := range m.entries {
		e := &m.entries[i]
		if e.SessionID != sessionID || e.ParticipantID != participantID || e.Status != model.EntryCancelled {
			continue
		}
		if latest == nil || e.StatusChangedAt.After(latest.StatusChangedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrRegistrationNotFound
	}
	cp := *latest
	return &cp, nil
}

// MarkAttendance records completed/absent on the pair's active entry.
func (m *MemoryStore) MarkAttendance(_ context.Context, sessionID, participantID string, status model.EntryStatus, now time.Time) (*model.RegistrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		e := &m.entries[i]
		if e.SessionID == sessionID && e.ParticipantID == participantID && e.Status == model.EntryRegistered {
			e.Status = status
			e.StatusChangedAt = now
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

// LatestEntry returns the pair's most recent entry, or (nil, nil) when the
// participant never registered. When two entries share a status_changed_at
// (cancel and re-register inside one clock tick) the active one wins: by the
// at-most-one-active invariant it is the present truth.
func (m *MemoryStore) LatestEntry(_ context.Context, sessionID, participantID string) (*model.RegistrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.RegistrationEntry
	for i := range m.entries {
		e := &m.entries[i]
		if e.SessionID != sessionID || e.ParticipantID != participantID {
			continue
		}
		switch {
		case latest == nil || e.StatusChangedAt.After(latest.StatusChangedAt):
			latest = e
		case e.StatusChangedAt.Equal(latest.StatusChangedAt) && e.Active() && !latest.Active():
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// ListEntries returns ledger entries, optionally narrowed to one session,
// ordered by registration time then participant.
func (m *MemoryStore) ListEntries(_ context.Context, sessionID string) ([]model.RegistrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RegistrationEntry
	for i := range m.entries {
		if sessionID == "" || m.entries[i].SessionID == sessionID {
			out = append(out, m.entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

// SeedEntry drops an entry straight into the ledger, bypassing every write
// invariant. Tests use it to simulate upstream data defects such as duplicate
// active entries or pre-seeded attendance.
func (m *MemoryStore) SeedEntry(e model.RegistrationEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	m.entries = append(m.entries, e)
}

// CountActive returns the number of active entries for a session.
func (m *MemoryStore) CountActive(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveLocked(sessionID), nil
}
