// Package events publishes registry notifications over NATS for downstream
// consumers (notification workers, reporting feeds). Publishing is best
// effort: a failed publish is logged by the caller, never surfaced to the
// participant.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/drillhub/training-registry/internal/model"
)

// Publisher emits registry lifecycle events.
type Publisher interface {
	SessionCreated(s *model.Session) error
	RegistrationCreated(e *model.RegistrationEntry) error
	RegistrationCancelled(e *model.RegistrationEntry) error
}

// NatsPublisher publishes events to NATS subjects.
type NatsPublisher struct {
	conn *nats.Conn
}

// NewNatsPublisher connects to NATS at natsURL.
func NewNatsPublisher(natsURL string) (*NatsPublisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{conn: nc}, nil
}

// Close drains the underlying connection.
func (p *NatsPublisher) Close() {
	p.conn.Close()
}

// SessionCreatedEvent announces a newly created session.
type SessionCreatedEvent struct {
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Capacity  int       `json:"capacity"`
}

// RegistrationEvent announces a register or cancel on the ledger.
type RegistrationEvent struct {
	EventType     string    `json:"event_type"`
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

func (p *NatsPublisher) publish(subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, payload)
}

func (p *NatsPublisher) SessionCreated(s *model.Session) error {
	return p.publish("session.created", SessionCreatedEvent{
		EventType: "session.created",
		SessionID: s.ID,
		Title:     s.Title,
		StartAt:   s.StartAt,
		EndAt:     s.EndAt,
		Capacity:  s.Capacity,
	})
}

func (p *NatsPublisher) RegistrationCreated(e *model.RegistrationEntry) error {
	return p.publish("registration.created", RegistrationEvent{
		EventType:     "registration.created",
		SessionID:     e.SessionID,
		ParticipantID: e.ParticipantID,
		Status:        string(e.Status),
		At:            e.StatusChangedAt,
	})
}

func (p *NatsPublisher) RegistrationCancelled(e *model.RegistrationEntry) error {
	return p.publish("registration.cancelled", RegistrationEvent{
		EventType:     "registration.cancelled",
		SessionID:     e.SessionID,
		ParticipantID: e.ParticipantID,
		Status:        string(e.Status),
		At:            e.StatusChangedAt,
	})
}

// NoopPublisher discards every event. Used when NATS_URL is unset and in
// tests that do not assert on events.
type NoopPublisher struct{}

func (NoopPublisher) SessionCreated(*model.Session) error                  { return nil }
func (NoopPublisher) RegistrationCreated(*model.RegistrationEntry) error   { return nil }
func (NoopPublisher) RegistrationCancelled(*model.RegistrationEntry) error { return nil }
