// Package disputes runs the raise/accept/arbitrate flow and the resolution
// lifecycle. Acceptance and arbitration are mutually exclusive terminal
// operations on a dispute; the resolution record's create-once write is the
// arbiter, so the first writer wins and the second fails closed.
package disputes

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/dispute"
	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

// RolePlatformOwner may arbitrate disputes it is a party to.
const RolePlatformOwner = "platform_owner"

var validReasons = map[transaction.Reason]struct{}{
	transaction.ReasonNotReceived:      {},
	transaction.ReasonNotSent:          {},
	transaction.ReasonNotConfirming:    {},
	transaction.ReasonWrongItem:        {},
	transaction.ReasonDefective:        {},
	transaction.ReasonQuantityMismatch: {},
	transaction.ReasonOther:            {},
}

// Service is the dispute and resolution manager.
type Service struct {
	txs         transaction.Repository
	resolutions dispute.Repository
	trust       *trustledger.Service
	pub         event.Publisher
	locks       *engine.KeyedMutex
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewService(txs transaction.Repository, resolutions dispute.Repository, trustSvc *trustledger.Service, pub event.Publisher, locks *engine.KeyedMutex, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	return &Service{
		txs:         txs,
		resolutions: resolutions,
		trust:       trustSvc,
		pub:         pub,
		locks:       locks,
		metrics:     metrics,
		logger:      logger.With().Str("service", "disputes").Logger(),
	}
}

// Raise opens a dispute on a live transaction. The initiator must be a
// declared party; at most one dispute may ever be opened per transaction.
func (s *Service) Raise(ctx context.Context, txID uuid.UUID, initiator string, reason transaction.Reason, requestedQty int) (*transaction.Transaction, error) {
	if _, ok := validReasons[reason]; !ok {
		return nil, fmt.Errorf("dispute reason %q: %w", reason, transaction.ErrValidationFailed)
	}
	if requestedQty < 0 {
		return nil, fmt.Errorf("requested quantity %d: %w", requestedQty, transaction.ErrValidationFailed)
	}

	unlock := s.locks.Lock(txID)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParty(initiator) {
		return nil, fmt.Errorf("raise dispute by %s: %w", initiator, transaction.ErrUnauthorized)
	}
	if !tx.CanDispute() {
		if tx.Dispute != nil {
			return nil, transaction.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("raise dispute in state %s: %w", tx.State, transaction.ErrInvalidStateTransition)
	}

	wasInFlight := tx.State == transaction.StateInitiated || tx.State == transaction.StateSent
	meta := transaction.NewDisputeMeta(initiator, reason, requestedQty)
	tx.State = transaction.StateDisputed
	tx.DisputeReason = string(reason)
	tx.Dispute = meta
	tx.TimeoutDeadline = nil
	if err := s.txs.Update(ctx, tx); err != nil {
		return nil, err
	}

	s.metrics.DisputesRaised.Inc()
	if wasInFlight {
		s.metrics.InFlight.Dec()
	}
	// The contested outcome counts against both parties until resolution
	// attributes it.
	for _, party := range []string{tx.Sender, tx.Receiver} {
		if err := s.trust.RecordDispute(ctx, party); err != nil {
			s.logger.Error().Err(err).Str("party_id", party).Msg("trust dispute record failed")
		}
	}

	s.pub.Publish(event.New(event.TypeDisputeRaised, tx.ID, map[string]string{
		"disputeId":    meta.DisputeID.String(),
		"initiator":    initiator,
		"counterparty": tx.CounterpartyOf(initiator),
		"reason":       string(reason),
		"requestedQty": strconv.Itoa(requestedQty),
	}))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("dispute_id", meta.DisputeID.String()).
		Str("initiator", initiator).
		Str("reason", string(reason)).
		Msg("dispute raised")
	return tx, nil
}

// Accept records the counter-party's voluntary acceptance of the dispute.
// The initiator's complaint stands and the required follow-up is derived
// from the reason table.
func (s *Service) Accept(ctx context.Context, txID uuid.UUID, acceptor string, agreedQty int) (*dispute.Resolution, error) {
	unlock := s.locks.Lock(txID)
	defer unlock()

	tx, err := s.openDispute(ctx, txID)
	if err != nil {
		return nil, err
	}
	if acceptor != tx.CounterpartyOf(tx.Dispute.Initiator) {
		return nil, fmt.Errorf("accept dispute by %s: %w", acceptor, transaction.ErrUnauthorized)
	}

	out := dispute.DeriveAccepted(tx)
	res := dispute.NewResolution(tx.Dispute.DisputeID, tx.ID, dispute.DecisionAccepted, out, s.actionQty(tx, agreedQty), acceptor, "")
	return s.close(ctx, tx, res, out.FinalState, transaction.DisputeStatusAccepted, false)
}

// Resolve arbitrates the dispute. The resolver must be neutral unless it
// holds the platform owner role.
func (s *Service) Resolve(ctx context.Context, txID uuid.UUID, resolver, resolverRole string, decision dispute.Decision, notes string, qty int) (*dispute.Resolution, error) {
	unlock := s.locks.Lock(txID)
	defer unlock()

	tx, err := s.openDispute(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.IsParty(resolver) && resolverRole != RolePlatformOwner {
		return nil, fmt.Errorf("resolver %s is a transaction party: %w", resolver, transaction.ErrUnauthorized)
	}
	if len(tx.Evidence) == 0 && !tx.MetaFlag(transaction.MetaKeySkipEvidence) {
		return nil, fmt.Errorf("arbitration requires submitted evidence: %w", transaction.ErrValidationFailed)
	}

	out, err := dispute.DeriveArbitrated(tx, decision)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transaction.ErrValidationFailed, err)
	}
	res := dispute.NewResolution(tx.Dispute.DisputeID, tx.ID, decision, out, s.actionQty(tx, qty), resolver, notes)
	return s.close(ctx, tx, res, out.FinalState, transaction.DisputeStatusArbitrated, true)
}

// MarkActionCompleted records the once-only follow-up completion.
func (s *Service) MarkActionCompleted(ctx context.Context, disputeID, followUpTxID uuid.UUID) (*dispute.Resolution, error) {
	unlock := s.locks.Lock(disputeID)
	defer unlock()

	res, err := s.resolutions.GetByDisputeID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.txs.GetByID(ctx, followUpTxID); err != nil {
		return nil, fmt.Errorf("follow-up transaction: %w", err)
	}
	if err := res.MarkCompleted(followUpTxID); err != nil {
		return nil, err
	}
	if err := s.resolutions.Update(ctx, res); err != nil {
		return nil, err
	}
	s.pub.Publish(event.New(event.TypeActionCompleted, res.TransactionID, map[string]string{
		"disputeId":    disputeID.String(),
		"followUpTxId": followUpTxID.String(),
		"action":       string(res.RequiredAction),
	}))
	s.logger.Info().
		Str("dispute_id", disputeID.String()).
		Str("follow_up_tx_id", followUpTxID.String()).
		Msg("required action completed")
	return res, nil
}

// PendingActions returns the resolutions whose follow-up is still owed to
// the given party.
func (s *Service) PendingActions(ctx context.Context, partyID string) ([]*dispute.Resolution, error) {
	return s.resolutions.ListPendingByWinner(ctx, partyID)
}

// Resolution returns the recorded outcome for a dispute.
func (s *Service) Resolution(ctx context.Context, disputeID uuid.UUID) (*dispute.Resolution, error) {
	return s.resolutions.GetByDisputeID(ctx, disputeID)
}

// openDispute loads the transaction and checks it carries an open dispute.
func (s *Service) openDispute(ctx context.Context, txID uuid.UUID) (*transaction.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Dispute == nil {
		return nil, fmt.Errorf("no dispute on transaction: %w", transaction.ErrNotFound)
	}
	if tx.State != transaction.StateDisputed {
		return nil, transaction.ErrAlreadyProcessed
	}
	return tx, nil
}

// close writes the resolution (create-once, first writer wins), moves the
// transaction to its final state and settles the trust outcome.
func (s *Service) close(ctx context.Context, tx *transaction.Transaction, res *dispute.Resolution, finalState transaction.State, status transaction.DisputeStatus, arbitrated bool) (*dispute.Resolution, error) {
	if err := s.resolutions.Create(ctx, res); err != nil {
		return nil, err
	}
	tx.State = finalState
	tx.Dispute.Status = status
	if err := s.txs.Update(ctx, tx); err != nil {
		// The resolution record exists but the transaction write lost; the
		// caller retries and hits AlreadyProcessed, which is the fail-closed
		// behavior we want.
		return nil, err
	}

	s.metrics.DisputesResolved.Inc()
	if err := s.trust.RecordSuccess(ctx, res.Winner); err != nil {
		s.logger.Error().Err(err).Str("party_id", res.Winner).Msg("trust credit failed")
	}
	if arbitrated && res.Loser != "" {
		if err := s.trust.ApplyAdjustment(ctx, res.Loser, trust.AdjustmentDisputeFault); err != nil {
			s.logger.Error().Err(err).Str("party_id", res.Loser).Msg("dispute fault penalty failed")
		}
	}

	fields := map[string]string{
		"disputeId": res.DisputeID.String(),
		"decision":  string(res.Decision),
		"winner":    res.Winner,
		"loser":     res.Loser,
		"action":    string(res.RequiredAction),
		"actionQty": strconv.Itoa(res.ActionQuantity),
	}
	if res.ActionDeadline != nil {
		fields["actionDeadline"] = res.ActionDeadline.Format("2006-01-02T15:04:05Z07:00")
	}
	s.pub.Publish(event.New(event.TypeDisputeResolved, tx.ID, fields))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("dispute_id", res.DisputeID.String()).
		Str("decision", string(res.Decision)).
		Str("winner", res.Winner).
		Str("action", string(res.RequiredAction)).
		Msg("dispute resolved")
	return res, nil
}

// actionQty picks the follow-up quantity: the explicit agreement, else the
// disputed request, else the declared quantity.
func (s *Service) actionQty(tx *transaction.Transaction, qty int) int {
	if qty > 0 {
		return qty
	}
	if tx.Dispute != nil && tx.Dispute.RequestedQty > 0 {
		return tx.Dispute.RequestedQty
	}
	return tx.Quantity
}
