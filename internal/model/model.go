// Package model defines the core domain types for the training registry.
package model

import (
	"encoding/json"
	"time"
)

// SessionStatus is derived from a session's window and the current time.
// It is never stored.
type SessionStatus string

const (
	SessionUpcoming  SessionStatus = "upcoming"
	SessionOngoing   SessionStatus = "ongoing"
	SessionCompleted SessionStatus = "completed"
)

// EntryStatus is the stored status of a registration entry.
type EntryStatus string

const (
	EntryRegistered EntryStatus = "registered"
	EntryCancelled  EntryStatus = "cancelled"
	EntryCompleted  EntryStatus = "completed"
	EntryAbsent     EntryStatus = "absent"
	// EntryAttended is a legacy alias some upstream feeds still write; it is
	// treated as EntryCompleted on display.
	EntryAttended EntryStatus = "attended"
)

// DisplayStatus is the registration status presented to callers. It reconciles
// the stored entry status with the session's derived status and is never
// stored either.
type DisplayStatus string

const (
	DisplayNotRegistered DisplayStatus = "not_registered"
	DisplayRegistered    DisplayStatus = "registered"
	DisplayCancelled     DisplayStatus = "cancelled"
	DisplayCompleted     DisplayStatus = "completed"
)

// LabeledRef normalizes fields that arrive either as a bare string or as a
// structured {name, detail} object. Exactly one of Label or Name is expected
// to be set; Detail is optional extra context for Name.
type LabeledRef struct {
	Label  string `json:"label,omitempty"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and the structured form so the
// normalization happens once at the boundary.
func (r *LabeledRef) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*r = LabeledRef{Label: label}
		return nil
	}
	type ref LabeledRef
	var structured ref
	if err := json.Unmarshal(data, &structured); err != nil {
		return err
	}
	*r = LabeledRef(structured)
	return nil
}

// Display returns the human-readable form of the reference.
func (r LabeledRef) Display() string {
	if r.Label != "" {
		return r.Label
	}
	if r.Detail != "" {
		return r.Name + " (" + r.Detail + ")"
	}
	return r.Name
}

// IsZero reports whether the reference carries no value at all.
func (r LabeledRef) IsZero() bool {
	return r.Label == "" && r.Name == "" && r.Detail == ""
}

// Session represents a scheduled training event with a fixed window and
// capacity. Registered is a cached count of active entries; the ledger is
// authoritative and the cache is reconciled against it on read.
type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	Capacity    int        `json:"capacity"`
	Location    LabeledRef `json:"location"`
	Instructor  LabeledRef `json:"instructor"`
	Mandatory   bool       `json:"mandatory"`
	Tags        []string   `json:"tags"`
	Registered  int        `json:"registered"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Remaining returns the number of open slots.
func (s *Session) Remaining() int {
	return s.Capacity - s.Registered
}

// IsFull returns true when no slots remain.
func (s *Session) IsFull() bool {
	return s.Registered >= s.Capacity
}

// RegistrationEntry records one enrollment attempt for one participant on one
// session. At most one entry per (session, participant) pair may hold
// EntryRegistered at any time; cancellation keeps the old entry and a
// re-registration creates a new one.
type RegistrationEntry struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	ParticipantID   string      `json:"participant_id"`
	Status          EntryStatus `json:"status"`
	RegisteredAt    time.Time   `json:"registered_at"`
	StatusChangedAt time.Time   `json:"status_changed_at"`
}

// Active reports whether this entry currently occupies a capacity slot.
func (e *RegistrationEntry) Active() bool {
	return e.Status == EntryRegistered
}

// Participant is the display projection the personnel directory supplies for
// a participant identifier. The engine never stores it.
type Participant struct {
	ID       string `json:"id"`
	Rank     string `json:"rank"`
	FullName string `json:"full_name"`
	Company  string `json:"company"`
	Email    string `json:"email"`
}

// RosterRow joins a registration entry with its derived display status and
// the participant projection.
type RosterRow struct {
	Entry         RegistrationEntry `json:"entry"`
	DisplayStatus DisplayStatus     `json:"display_status"`
	Participant   Participant       `json:"participant"`
}

// RosterFilter narrows a roster query. All fields are optional; Query matches
// case-insensitively against the participant's name, identifier, and email.
type RosterFilter struct {
	SessionID string
	Query     string
	Company   string
	Status    DisplayStatus
}

// PageRequest selects an offset-based page. Number and Size are 1-based and
// must both be >= 1.
type PageRequest struct {
	Number int
	Size   int
}

// RosterPage is one page of a roster query result.
type RosterPage struct {
	Rows       []RosterRow `json:"rows"`
	Page       int         `json:"page"`
	TotalCount int         `json:"total_count"`
	TotalPages int         `json:"total_pages"`
}

// CreateSessionRequest is the payload for creating a session.
type CreateSessionRequest struct {
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	StartAt     time.Time  `json:"start_at" validate:"required"`
	EndAt       time.Time  `json:"end_at" validate:"required"`
	Capacity    int        `json:"capacity" validate:"min=1"`
	Location    LabeledRef `json:"location"`
	Instructor  LabeledRef `json:"instructor"`
	Mandatory   bool       `json:"mandatory"`
	Tags        []string   `json:"tags"`
}

// UpdateSessionRequest is a partial update; nil fields are left unchanged.
type UpdateSessionRequest struct {
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	Category    *string     `json:"category"`
	StartAt     *time.Time  `json:"start_at"`
	EndAt       *time.Time  `json:"end_at"`
	Capacity    *int        `json:"capacity"`
	Location    *LabeledRef `json:"location"`
	Instructor  *LabeledRef `json:"instructor"`
	Mandatory   *bool       `json:"mandatory"`
	Tags        *[]string   `json:"tags"`
}

// RegisterRequest is the payload for register/cancel calls. ParticipantID is
// optional; when empty the caller's own identity is used.
type RegisterRequest struct {
	ParticipantID string `json:"participant_id"`
}

// AttendanceRequest marks the outcome of a registration after the fact.
type AttendanceRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=completed absent"`
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
