package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drillhub/training-registry/internal/model"
)

// RegistrationRepository handles persistence for the registration ledger.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const entryColumns = `id, session_id, participant_id, status, registered_at, status_changed_at`

func scanEntry(row pgx.Row) (*model.RegistrationEntry, error) {
	var e model.RegistrationEntry
	err := row.Scan(&e.ID, &e.SessionID, &e.ParticipantID, &e.Status,
		&e.RegisteredAt, &e.StatusChangedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Register creates an active entry for (sessionID, participantID) while
// enforcing capacity and the at-most-one-active invariant.
//
// A naive read-count-then-insert lets two concurrent callers both observe a
// free slot and both insert, overbooking the session. The whole sequence
// therefore runs in one transaction that first takes a row-level lock on the
// session (SELECT ... FOR UPDATE), serializing registrations per session.
// The partial unique index on (session_id, participant_id) where
// status = 'registered' backs up the duplicate check at the schema level.
func (r *RegistrationRepository) Register(ctx context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var capacity int
	err = tx.QueryRow(ctx,
		`SELECT capacity FROM sessions WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session row: %w", err)
	}

	// Authoritative count; the cached registered_count column is not trusted.
	var active int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = 'registered'`,
		sessionID,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("count active registrations: %w", err)
	}

	var dup int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE session_id = $1 AND participant_id = $2 AND status = 'registered'`,
		sessionID, participantID,
	).Scan(&dup)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if dup > 0 {
		err = ErrAlreadyRegistered
		return nil, err
	}

	if active >= capacity {
		err = &CapacityExceededError{Capacity: capacity, Registered: active}
		return nil, err
	}

	entry := &model.RegistrationEntry{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		ParticipantID:   participantID,
		Status:          model.EntryRegistered,
		RegisteredAt:    now,
		StatusChangedAt: now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, session_id, participant_id, status, registered_at, status_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.SessionID, entry.ParticipantID, entry.Status,
		entry.RegisteredAt, entry.StatusChangedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = ErrAlreadyRegistered
			return nil, err
		}
		return nil, writeConflict("register", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET registered_count = $2, updated_at = $3 WHERE id = $1`,
		sessionID, active+1, now,
	)
	if err != nil {
		return nil, fmt.Errorf("update registered_count: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, writeConflict("register", fmt.Errorf("commit transaction: %w", err))
	}
	return entry, nil
}

// Cancel transitions the pair's active entry to cancelled. Cancelling an
// already-cancelled pair is a no-op that returns the existing cancelled entry
// so client retries stay harmless; a pair with no entry at all (or only
// attendance-marked entries) returns ErrRegistrationNotFound.
func (r *RegistrationRepository) Cancel(ctx context.Context, sessionID, participantID string, now time.Time) (*model.RegistrationEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entry *model.RegistrationEntry
	entry, err = scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM registrations
		 WHERE session_id = $1 AND participant_id = $2 AND status = 'registered'
		 FOR UPDATE`,
		sessionID, participantID,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lock registration: %w", err)
		}
		// No active entry: idempotent only when the latest entry is cancelled.
		entry, err = scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM registrations
			 WHERE session_id = $1 AND participant_id = $2 AND status = 'cancelled'
			 ORDER BY status_changed_at DESC LIMIT 1`,
			sessionID, participantID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = ErrRegistrationNotFound
			}
			return nil, err
		}
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return entry, nil
	}

	entry.Status = model.EntryCancelled
	entry.StatusChangedAt = now
	_, err = tx.Exec(ctx,
		`UPDATE registrations SET status = $2, status_changed_at = $3 WHERE id = $1`,
		entry.ID, entry.Status, entry.StatusChangedAt,
	)
	if err != nil {
		return nil, writeConflict("cancel", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions
		 SET registered_count = GREATEST(registered_count - 1, 0), updated_at = $2
		 WHERE id = $1`,
		sessionID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("update registered_count: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, writeConflict("cancel", fmt.Errorf("commit transaction: %w", err))
	}
	return entry, nil
}

// MarkAttendance records the outcome of the pair's active entry after the
// fact. Only the 'completed' and 'absent' statuses are accepted; the write is
// storage-level and display derivation decides when it becomes visible.
func (r *RegistrationRepository) MarkAttendance(ctx context.Context, sessionID, participantID string, status model.EntryStatus, now time.Time) (*model.RegistrationEntry, error) {
	if status != model.EntryCompleted && status != model.EntryAbsent {
		return nil, fmt.Errorf("invalid attendance status %q", status)
	}
	entry, err := scanEntry(r.db.QueryRow(ctx,
		`UPDATE registrations SET status = $3, status_changed_at = $4
		 WHERE session_id = $1 AND participant_id = $2 AND status = 'registered'
		 RETURNING `+entryColumns,
		sessionID, participantID, status, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, writeConflict("mark attendance", err)
	}
	return entry, nil
}

// LatestEntry returns the pair's most recent entry by status change, or
// (nil, nil) when the participant never registered. A status_changed_at tie
// (cancel and re-register inside one clock tick) resolves to the active
// entry: by the at-most-one-active invariant it is the present truth.
func (r *RegistrationRepository) LatestEntry(ctx context.Context, sessionID, participantID string) (*model.RegistrationEntry, error) {
	var entry *model.RegistrationEntry
	err := withReadRetry(ctx, func() error {
		var scanErr error
		entry, scanErr = scanEntry(r.db.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM registrations
			 WHERE session_id = $1 AND participant_id = $2
			 ORDER BY status_changed_at DESC, (status = 'registered') DESC, registered_at DESC
			 LIMIT 1`,
			sessionID, participantID,
		))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns ledger entries, optionally narrowed to one session,
// ordered by registration time then participant so pagination downstream is
// stable even if the table's natural order is not.
func (r *RegistrationRepository) ListEntries(ctx context.Context, sessionID string) ([]model.RegistrationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM registrations`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = $1`
		args = append(args, sessionID)
	}
	query += ` ORDER BY registered_at ASC, participant_id ASC`

	var entries []model.RegistrationEntry
	err := withReadRetry(ctx, func() error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("scan registration: %w", err)
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return entries, nil
}

// CountActive returns the authoritative number of active entries for a session.
func (r *RegistrationRepository) CountActive(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := withReadRetry(ctx, func() error {
		return r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = 'registered'`,
			sessionID,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}
	return count, nil
}
