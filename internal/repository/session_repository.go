// Package repository implements persistence for sessions and the
// registration ledger. It uses pgx directly (no ORM); a mutex-guarded
// in-memory implementation of the same interfaces lives in memory.go.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drillhub/training-registry/internal/model"
)

// SessionRepository handles persistence for sessions.
//
// The registered_count column is a cached counter kept in step by the ledger
// writes; all reads reconcile against the authoritative count of active
// ledger entries so drift can never reach a caller.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `s.id, s.title, s.description, s.category, s.start_at, s.end_at,
	s.capacity, s.location, s.instructor, s.mandatory, s.tags,
	(SELECT COUNT(*) FROM registrations r
	 WHERE r.session_id = s.id AND r.status = 'registered') AS registered,
	s.created_at, s.updated_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Category, &s.StartAt, &s.EndAt,
		&s.Capacity, &s.Location, &s.Instructor, &s.Mandatory, &s.Tags,
		&s.Registered, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, title, description, category, start_at, end_at,
		   capacity, location, instructor, mandatory, tags, registered_count,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $12)`,
		s.ID, s.Title, s.Description, s.Category, s.StartAt, s.EndAt,
		s.Capacity, s.Location, s.Instructor, s.Mandatory, s.Tags, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID returns a single session or ErrSessionNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var s *model.Session
	err := withReadRetry(ctx, func() error {
		var scanErr error
		s, scanErr = scanSession(r.db.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// List returns all sessions ordered by start time ascending.
func (r *SessionRepository) List(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := withReadRetry(ctx, func() error {
		rows, err := r.db.Query(ctx,
			`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.start_at ASC, s.id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions = sessions[:0]
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return fmt.Errorf("scan session: %w", err)
			}
			sessions = append(sessions, *s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Update locks the session row, passes the current state and the
// authoritative active-registration count to apply, and persists whatever
// apply leaves behind. apply returning an error aborts the update with
// nothing persisted.
//
// Holding the row lock while apply runs is what makes a capacity reduction
// race-free against concurrent registrations: Register takes the same lock.
func (r *SessionRepository) Update(ctx context.Context, id string, apply func(s *model.Session, active int) error) (*model.Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var s *model.Session
	s, err = scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1 FOR UPDATE OF s`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session row: %w", err)
	}

	// The count must run as its own statement after the lock is held.
	// Correlated inside the locking SELECT it would read the registrations
	// table from that statement's snapshot, missing an insert committed while
	// the statement was blocked on the row lock.
	var active int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = 'registered'`,
		id,
	).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("count active registrations: %w", err)
	}
	s.Registered = active

	if err = apply(s, active); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions
		 SET title = $2, description = $3, category = $4, start_at = $5, end_at = $6,
		     capacity = $7, location = $8, instructor = $9, mandatory = $10,
		     tags = $11, updated_at = $12
		 WHERE id = $1`,
		s.ID, s.Title, s.Description, s.Category, s.StartAt, s.EndAt,
		s.Capacity, s.Location, s.Instructor, s.Mandatory, s.Tags, s.UpdatedAt,
	)
	if err != nil {
		return nil, writeConflict("update session", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, writeConflict("update session", fmt.Errorf("commit transaction: %w", err))
	}
	return s, nil
}
