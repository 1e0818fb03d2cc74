package dispute

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
)

// Decision is an arbitration outcome.
type Decision string

const (
	DecisionInFavorSender   Decision = "IN_FAVOR_SENDER"
	DecisionInFavorReceiver Decision = "IN_FAVOR_RECEIVER"
	DecisionPartial         Decision = "PARTIAL"
	// DecisionAccepted records a voluntary acceptance by the counter-party.
	DecisionAccepted Decision = "ACCEPTED"
)

// RequiredAction is the follow-up the losing side owes after resolution.
type RequiredAction string

const (
	ActionNone          RequiredAction = "NONE"
	ActionReturn        RequiredAction = "RETURN"
	ActionResend        RequiredAction = "RESEND"
	ActionReplace       RequiredAction = "REPLACE"
	ActionResendPartial RequiredAction = "RESEND_PARTIAL"
	ActionPartialReturn RequiredAction = "PARTIAL_RETURN"
	ActionPartialResend RequiredAction = "PARTIAL_RESEND"
)

var (
	ErrResolutionNotFound = errors.New("resolution not found")
	ErrInvalidDecision    = errors.New("invalid dispute decision")
)

// DefaultActionDeadline is the window the loser has to perform the required
// follow-up action.
const DefaultActionDeadline = 72 * time.Hour

// Resolution is the recorded outcome of a dispute. It is created exactly
// once, by acceptance or arbitration, and is immutable except for the
// ActionCompleted/FollowUpTxID pair.
type Resolution struct {
	DisputeID       uuid.UUID      `json:"disputeId"`
	TransactionID   uuid.UUID      `json:"transactionId"`
	Decision        Decision       `json:"decision"`
	Winner          string         `json:"winner"`
	Loser           string         `json:"loser"`
	RequiredAction  RequiredAction `json:"requiredAction"`
	ActionQuantity  int            `json:"actionQuantity"`
	ActionDeadline  *time.Time     `json:"actionDeadline,omitempty"`
	Resolver        string         `json:"resolver"`
	ResolvedAt      time.Time      `json:"resolvedAt"`
	Notes           string         `json:"notes,omitempty"`
	ActionCompleted bool           `json:"actionCompleted"`
	FollowUpTxID    *uuid.UUID     `json:"followUpTxId,omitempty"`

	Version uint64 `json:"-"`
}

// Outcome is the derived winner/loser and follow-up for a dispute.
type Outcome struct {
	Winner         string
	Loser          string
	RequiredAction RequiredAction
	FinalState     transaction.State
}

// DeriveAccepted derives the outcome when the counter-party voluntarily
// accepts the dispute: the initiator's complaint stands.
//
//	sender wins NOT_CONFIRMING  -> NONE (deemed received), transaction VALIDATED
//	sender wins anything else   -> RETURN
//	receiver wins NOT_RECEIVED / NOT_SENT -> RESEND
//	receiver wins WRONG_ITEM / DEFECTIVE  -> REPLACE
//	receiver wins QUANTITY_MISMATCH       -> RESEND_PARTIAL
func DeriveAccepted(tx *transaction.Transaction) Outcome {
	meta := tx.Dispute
	initiatorIsSender := meta.Initiator == tx.Sender
	out := Outcome{
		Winner:     meta.Initiator,
		Loser:      tx.CounterpartyOf(meta.Initiator),
		FinalState: transaction.StateResolved,
	}
	if initiatorIsSender {
		if meta.Reason == transaction.ReasonNotConfirming {
			// Receiver concedes the goods arrived; the transfer settles.
			out.RequiredAction = ActionNone
			out.FinalState = transaction.StateValidated
		} else {
			out.RequiredAction = ActionReturn
		}
		return out
	}
	switch meta.Reason {
	case transaction.ReasonNotReceived, transaction.ReasonNotSent:
		out.RequiredAction = ActionResend
	case transaction.ReasonWrongItem, transaction.ReasonDefective:
		out.RequiredAction = ActionReplace
	case transaction.ReasonQuantityMismatch:
		out.RequiredAction = ActionResendPartial
	default:
		out.RequiredAction = ActionReturn
	}
	return out
}

// DeriveArbitrated derives the outcome of a neutral decision. A decision in
// favor of the initiator mirrors acceptance; against the initiator the
// complaint is rejected and no action is owed; PARTIAL decisions require a
// partial follow-up on the initiator's side.
func DeriveArbitrated(tx *transaction.Transaction, decision Decision) (Outcome, error) {
	meta := tx.Dispute
	initiatorIsSender := meta.Initiator == tx.Sender
	switch decision {
	case DecisionInFavorSender, DecisionInFavorReceiver:
		favorsSender := decision == DecisionInFavorSender
		if favorsSender == initiatorIsSender {
			return DeriveAccepted(tx), nil
		}
		// Complaint rejected.
		winner := tx.CounterpartyOf(meta.Initiator)
		return Outcome{
			Winner:         winner,
			Loser:          meta.Initiator,
			RequiredAction: ActionNone,
			FinalState:     transaction.StateResolved,
		}, nil
	case DecisionPartial:
		out := Outcome{
			Winner:     meta.Initiator,
			Loser:      tx.CounterpartyOf(meta.Initiator),
			FinalState: transaction.StateResolved,
		}
		if initiatorIsSender {
			out.RequiredAction = ActionPartialReturn
		} else {
			out.RequiredAction = ActionPartialResend
		}
		return out, nil
	default:
		return Outcome{}, ErrInvalidDecision
	}
}

// NewResolution records an outcome against a dispute.
func NewResolution(disputeID, txID uuid.UUID, decision Decision, out Outcome, qty int, resolver, notes string) *Resolution {
	now := time.Now().UTC()
	r := &Resolution{
		DisputeID:      disputeID,
		TransactionID:  txID,
		Decision:       decision,
		Winner:         out.Winner,
		Loser:          out.Loser,
		RequiredAction: out.RequiredAction,
		ActionQuantity: qty,
		Resolver:       resolver,
		ResolvedAt:     now,
		Notes:          notes,
	}
	if out.RequiredAction != ActionNone {
		deadline := now.Add(DefaultActionDeadline)
		r.ActionDeadline = &deadline
	}
	return r
}

// MarkCompleted sets the once-only completion pair.
func (r *Resolution) MarkCompleted(followUpTxID uuid.UUID) error {
	if r.ActionCompleted {
		return transaction.ErrAlreadyProcessed
	}
	r.ActionCompleted = true
	r.FollowUpTxID = &followUpTxID
	return nil
}
