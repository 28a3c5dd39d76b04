package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/drillhub/training-registry/internal/clock"
	"github.com/drillhub/training-registry/internal/directory"
	"github.com/drillhub/training-registry/internal/lifecycle"
	"github.com/drillhub/training-registry/internal/model"
)

// RosterService joins the ledger with session data and the personnel
// directory to produce filtered, paginated report rows.
type RosterService struct {
	sessions  SessionStore
	ledger    RegistrationLedger
	directory directory.Directory
	clock     clock.Clock
	log       *slog.Logger
}

// NewRosterService constructs a RosterService.
func NewRosterService(sessions SessionStore, ledger RegistrationLedger, dir directory.Directory, clk clock.Clock, log *slog.Logger) *RosterService {
	return &RosterService{
		sessions:  sessions,
		ledger:    ledger,
		directory: dir,
		clock:     clk,
		log:       log,
	}
}

// Query returns one page of roster rows matching filter. Pages are 1-based;
// a page number past the end clamps to the last valid page instead of
// erroring. Rows are ordered by registration time, ties broken by participant
// ID, so repeated calls paginate deterministically.
func (s *RosterService) Query(ctx context.Context, filter model.RosterFilter, page model.PageRequest) (*model.RosterPage, error) {
	if page.Number < 1 {
		return nil, &ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	if page.Size < 1 {
		return nil, &ValidationError{Field: "page_size", Reason: "must be at least 1"}
	}

	rows, err := s.buildRows(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(rows)
	totalPages := (total + page.Size - 1) / page.Size
	number := page.Number
	if totalPages == 0 {
		number = 1
	} else if number > totalPages {
		number = totalPages
	}

	start := (number - 1) * page.Size
	end := start + page.Size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &model.RosterPage{
		Rows:       rows[start:end],
		Page:       number,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// FullRoster returns every matching row for one session, unpaginated. The
// export formatter consumes this.
func (s *RosterService) FullRoster(ctx context.Context, sessionID string) ([]model.RosterRow, error) {
	return s.buildRows(ctx, model.RosterFilter{SessionID: sessionID})
}

func (s *RosterService) buildRows(ctx context.Context, filter model.RosterFilter) ([]model.RosterRow, error) {
	sessions, err := s.sessionsByID(ctx, filter.SessionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListEntries(ctx, filter.SessionID)
	if err != nil {
		return nil, err
	}
	entries = s.dedupe(entries)

	now := s.clock.Now()
	rows := make([]model.RosterRow, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		session, ok := sessions[entry.SessionID]
		if !ok {
			// Orphaned ledger rows are skipped, not fatal.
			s.log.Warn("ledger entry references unknown session", "session_id", entry.SessionID)
			continue
		}
		row := model.RosterRow{
			Entry:         entry,
			DisplayStatus: lifecycle.DisplayStatus(&entry, session, now),
			Participant:   s.lookup(ctx, entry.ParticipantID),
		}
		if !matches(row, filter) {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Entry, rows[j].Entry
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ParticipantID < b.ParticipantID
	})
	return rows, nil
}

func (s *RosterService) sessionsByID(ctx context.Context, sessionID string) (map[string]*model.Session, error) {
	out := make(map[string]*model.Session)
	if sessionID != "" {
		session, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		out[session.ID] = session
		return out, nil
	}
	all, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		out[all[i].ID] = &all[i]
	}
	return out, nil
}

// dedupe collapses entries that share a (session, participant) key down to
// the one with the latest status change, so a cancel/re-register history
// yields a single row. A status_changed_at tie resolves to the active entry,
// which by the at-most-one-active invariant is the present truth. More than
// one *active* entry per key violates that invariant; the case is logged as
// an upstream data defect and repaired at read time only, the ledger itself
// is left untouched.
func (s *RosterService) dedupe(entries []model.RegistrationEntry) []model.RegistrationEntry {
	type key struct{ sessionID, participantID string }
	latest := make(map[key]model.RegistrationEntry, len(entries))
	activeCount := make(map[key]int)
	collapsed := false
	for _, e := range entries {
		k := key{e.SessionID, e.ParticipantID}
		if e.Status == model.EntryRegistered {
			activeCount[k]++
		}
		current, ok := latest[k]
		if !ok {
			latest[k] = e
			continue
		}
		collapsed = true
		switch {
		case e.StatusChangedAt.After(current.StatusChangedAt):
			latest[k] = e
		case e.StatusChangedAt.Equal(current.StatusChangedAt) &&
			e.Status == model.EntryRegistered && current.Status != model.EntryRegistered:
			latest[k] = e
		}
	}
	if !collapsed {
		return entries
	}
	for k, n := range activeCount {
		if n > 1 {
			s.log.Warn("ledger holds duplicate active entries, repaired at read time",
				"session_id", k.sessionID, "participant_id", k.participantID, "active", n)
		}
	}
	out := make([]model.RegistrationEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	return out
}

// lookup resolves the directory projection, degrading to the placeholder on
// any failure so an unavailable directory never breaks a roster.
func (s *RosterService) lookup(ctx context.Context, participantID string) model.Participant {
	p, err := s.directory.Lookup(ctx, participantID)
	if err != nil {
		s.log.Debug("directory lookup failed, using placeholder", "participant_id", participantID, "error", err)
		return directory.Placeholder(participantID)
	}
	return p
}

func matches(row model.RosterRow, filter model.RosterFilter) bool {
	if filter.Status != "" && row.DisplayStatus != filter.Status {
		return false
	}
	if filter.Company != "" && row.Participant.Company != filter.Company {
		return false
	}
	if filter.Query != "" {
		q := strings.ToLower(filter.Query)
		if !strings.Contains(strings.ToLower(row.Participant.FullName), q) &&
			!strings.Contains(strings.ToLower(row.Entry.ParticipantID), q) &&
			!strings.Contains(strings.ToLower(row.Participant.Email), q) {
			return false
		}
	}
	return true
}
