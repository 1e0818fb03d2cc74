package transaction

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State represents the settlement state of a transaction.
type State string

const (
	StateInitiated State = "INITIATED"
	StateSent      State = "SENT"
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateDisputed  State = "DISPUTED"
	StateTimeout   State = "TIMEOUT"
	StateResolved  State = "RESOLVED"
	StateCancelled State = "CANCELLED"
)

// DisputeStatus tracks the lifecycle of an open dispute.
type DisputeStatus string

const (
	DisputeStatusPendingResponse DisputeStatus = "PENDING_RESPONSE"
	DisputeStatusAccepted        DisputeStatus = "ACCEPTED"
	DisputeStatusArbitrated      DisputeStatus = "ARBITRATED"
)

// Recognized metadata keys. Unrecognized keys pass through opaquely.
const (
	MetaKeyBatchEligible = "batch_eligible"
	MetaKeySkipEvidence  = "skip_evidence"
	MetaKeyAutoConfirmed = "auto_confirmed"
	MetaKeyAutoApproved  = "auto_approved"
	MetaKeyQtyReceived   = "qty_received"
	MetaKeyValue         = "value"
	MetaKeyCarrier       = "carrier"
	MetaKeyOrderRef      = "order_ref"
)

var (
	ErrNotFound               = errors.New("transaction not found")
	ErrAlreadyExists          = errors.New("transaction already exists")
	ErrUnauthorized           = errors.New("caller is not a declared party for this operation")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAlreadyProcessed       = errors.New("operation already processed")
	ErrValidationFailed       = errors.New("validation failed")
)

// Evidence is an artifact reference attached to a disputed transaction.
// Verification is out of band; only the flag is tracked here.
type Evidence struct {
	Type        string    `json:"type"`
	SubmittedBy string    `json:"submittedBy"`
	SubmittedAt time.Time `json:"submittedAt"`
	ContentHash string    `json:"contentHash"`
	Verified    bool      `json:"verified"`
}

// DisputeMeta holds the open dispute attached to a transaction.
type DisputeMeta struct {
	DisputeID    uuid.UUID     `json:"disputeId"`
	Initiator    string        `json:"initiator"`
	Status       DisputeStatus `json:"status"`
	Reason       Reason        `json:"reason"`
	RequestedQty int           `json:"requestedQty"`
	RaisedAt     time.Time     `json:"raisedAt"`
}

// NewDisputeMeta opens a dispute record in PENDING_RESPONSE.
func NewDisputeMeta(initiator string, reason Reason, requestedQty int) *DisputeMeta {
	return &DisputeMeta{
		DisputeID:    uuid.New(),
		Initiator:    initiator,
		Status:       DisputeStatusPendingResponse,
		Reason:       reason,
		RequestedQty: requestedQty,
		RaisedAt:     time.Now().UTC(),
	}
}

// Reason classifies why a dispute was raised.
type Reason string

const (
	ReasonNotReceived      Reason = "NOT_RECEIVED"
	ReasonNotSent          Reason = "NOT_SENT"
	ReasonNotConfirming    Reason = "NOT_CONFIRMING"
	ReasonWrongItem        Reason = "WRONG_ITEM"
	ReasonDefective        Reason = "DEFECTIVE"
	ReasonQuantityMismatch Reason = "QUANTITY_MISMATCH"
	ReasonOther            Reason = "OTHER"
)

// Transaction is a proposed transfer subject to dual confirmation. It is
// owned by the transaction store, mutated only through state machine
// operations and never deleted.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	Sender          string            `json:"sender"`
	Receiver        string            `json:"receiver"`
	State           State             `json:"state"`
	ItemType        string            `json:"itemType"`
	ItemID          string            `json:"itemId"`
	Quantity        int               `json:"quantity"`
	CreatedAt       time.Time         `json:"createdAt"`
	SentAt          *time.Time        `json:"sentAt,omitempty"`
	ReceivedAt      *time.Time        `json:"receivedAt,omitempty"`
	TimeoutDeadline *time.Time        `json:"timeoutDeadline,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	DisputeReason   string            `json:"disputeReason,omitempty"`
	Evidence        []Evidence        `json:"evidence,omitempty"`
	Dispute         *DisputeMeta      `json:"dispute,omitempty"`

	// Version is the ledger optimistic-concurrency token of the record this
	// transaction was loaded from.
	Version uint64 `json:"-"`
}

// New creates a transaction in INITIATED with the given confirmation window.
func New(id uuid.UUID, sender, receiver, itemType, itemID string, qty int, metadata map[string]string, window time.Duration) (*Transaction, error) {
	if strings.TrimSpace(sender) == "" || strings.TrimSpace(receiver) == "" {
		return nil, ErrValidationFailed
	}
	if sender == receiver {
		return nil, ErrValidationFailed
	}
	if qty <= 0 {
		return nil, ErrValidationFailed
	}
	if strings.TrimSpace(itemType) == "" {
		return nil, ErrValidationFailed
	}
	now := time.Now().UTC()
	deadline := now.Add(window)
	return &Transaction{
		ID:              id,
		Sender:          sender,
		Receiver:        receiver,
		State:           StateInitiated,
		ItemType:        itemType,
		ItemID:          itemID,
		Quantity:        qty,
		CreatedAt:       now,
		TimeoutDeadline: &deadline,
		Metadata:        metadata,
	}, nil
}

// transitions enumerates the legal state edges.
var transitions = map[State][]State{
	StateInitiated: {StateSent, StateValidated, StateDisputed, StateTimeout},
	StateSent:      {StateReceived, StateDisputed, StateTimeout},
	StateReceived:  {StateValidated, StateDisputed},
	StateDisputed:  {StateResolved, StateValidated, StateCancelled},
}

// CanTransition reports whether moving from the current state to next is
// legal. Terminal states have no outgoing edges.
func (t *Transaction) CanTransition(next State) bool {
	for _, s := range transitions[t.State] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the transaction can no longer change state.
func (t *Transaction) IsTerminal() bool {
	switch t.State {
	case StateValidated, StateResolved, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// IsParty reports whether partyID is the declared sender or receiver.
func (t *Transaction) IsParty(partyID string) bool {
	return partyID == t.Sender || partyID == t.Receiver
}

// CounterpartyOf returns the other declared party, or "" if partyID is not a
// party of this transaction.
func (t *Transaction) CounterpartyOf(partyID string) string {
	switch partyID {
	case t.Sender:
		return t.Receiver
	case t.Receiver:
		return t.Sender
	}
	return ""
}

// CanDispute reports whether a dispute may be raised in the current state.
// DISPUTED is reachable from INITIATED, SENT or RECEIVED only, and at most
// one dispute may be open.
func (t *Transaction) CanDispute() bool {
	if t.Dispute != nil {
		return false
	}
	switch t.State {
	case StateInitiated, StateSent, StateReceived:
		return true
	}
	return false
}

// TimeoutEligible reports whether the transaction is still waiting on a
// confirmation whose window can expire.
func (t *Transaction) TimeoutEligible() bool {
	return (t.State == StateInitiated || t.State == StateSent) && t.TimeoutDeadline != nil
}

// MetaFlag reports whether a recognized metadata key holds "true".
func (t *Transaction) MetaFlag(key string) bool {
	return t.Metadata[key] == "true"
}

// SetMeta sets a metadata key, allocating the map on first use.
func (t *Transaction) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
