package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// readRetries is the total number of attempts an idempotent read makes.
// Writes are never retried here: a register retry must re-check capacity, so
// transient write conflicts surface as RetryableError instead.
const readRetries = 3

const retryBackoff = 50 * time.Millisecond

// isTransient reports whether err is a store failure that is safe to retry
// for an idempotent operation.
func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// withReadRetry runs fn up to readRetries times, backing off between attempts
// that fail transiently.
func withReadRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return err
}

// writeConflict wraps transient write failures so callers can decide whether
// to retry the whole operation.
func writeConflict(op string, err error) error {
	if isTransient(err) {
		return &RetryableError{Op: op, Err: err}
	}
	return err
}
