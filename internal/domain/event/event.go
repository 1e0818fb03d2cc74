package event

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the closed set of domain events the core emits.
type Type string

const (
	TypeTransactionCreated   Type = "transaction.created"
	TypeTransactionSent      Type = "transaction.sent"
	TypeTransactionReceived  Type = "transaction.received"
	TypeTransactionValidated Type = "transaction.validated"
	TypeTransactionTimedOut  Type = "transaction.timed_out"
	TypeTimeoutWarning       Type = "transaction.timeout_warning"
	TypeDisputeRaised        Type = "dispute.raised"
	TypeDisputeResolved      Type = "dispute.resolved"
	TypeEvidenceSubmitted    Type = "dispute.evidence_submitted"
	TypeActionCompleted      Type = "dispute.action_completed"
	TypeAutomationApplied    Type = "automation.applied"
)

// Event is one domain occurrence published to external subscribers. Fields
// holds a flat string payload; subscribers must not assume more structure
// than the documented keys per type.
type Event struct {
	ID            uuid.UUID         `json:"id"`
	Type          Type              `json:"type"`
	TransactionID uuid.UUID         `json:"transactionId"`
	OccurredAt    time.Time         `json:"occurredAt"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, txID uuid.UUID, fields map[string]string) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		TransactionID: txID,
		OccurredAt:    time.Now().UTC(),
		Fields:        fields,
	}
}

// Publisher is the fan-out boundary. Publish must never block and never
// fail the triggering transition.
type Publisher interface {
	Publish(e Event)
}

// NopPublisher drops every event. Used in tests and as a default.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
