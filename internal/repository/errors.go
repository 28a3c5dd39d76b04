package repository

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrRegistrationNotFound is returned when no registration entry exists for
// a (session, participant) pair.
var ErrRegistrationNotFound = errors.New("registration not found")

// ErrAlreadyRegistered is returned when the pair already holds an active entry.
var ErrAlreadyRegistered = errors.New("participant already registered for this session")

// CapacityExceededError is returned when a session has no remaining slots at
// the instant of commit. It carries the counts so callers can report them.
type CapacityExceededError struct {
	Capacity   int
	Registered int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("session is full: %d of %d slots taken", e.Registered, e.Capacity)
}

// CapacityConflictError is returned when an administrator tries to reduce a
// session's capacity below its current active registration count.
type CapacityConflictError struct {
	Requested int
	Active    int
}

func (e *CapacityConflictError) Error() string {
	return fmt.Sprintf("cannot reduce capacity to %d: %d participants actively registered", e.Requested, e.Active)
}

// RetryableError wraps a transient store failure on a write path. The engine
// never retries writes itself: a register retry must re-check capacity, so
// the decision belongs to the caller.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: transient store conflict: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }
