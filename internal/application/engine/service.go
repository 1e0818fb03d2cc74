// Package engine applies transaction state transitions. Every mutating
// operation validates its preconditions under the per-id lock before the
// single version-checked write, so a retried call that already took effect
// fails closed instead of re-applying.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

const (
	// DefaultWindow is the confirmation window armed at creation and
	// re-armed when the sender confirms.
	DefaultWindow = 48 * time.Hour
	// DefaultAutoConfirmThreshold is the internal-scale sender trust score
	// at or above which ConfirmSent settles the transaction directly.
	DefaultAutoConfirmThreshold = 0.9
)

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	DefaultWindow        time.Duration
	AutoConfirmThreshold float64
}

func (c Config) normalized() Config {
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = DefaultWindow
	}
	if c.AutoConfirmThreshold <= 0 {
		c.AutoConfirmThreshold = DefaultAutoConfirmThreshold
	}
	return c
}

// Service is the state machine engine.
type Service struct {
	txs     transaction.Repository
	trust   *trustledger.Service
	pub     event.Publisher
	locks   *KeyedMutex
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     Config
}

func NewService(txs transaction.Repository, trustSvc *trustledger.Service, pub event.Publisher, locks *KeyedMutex, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Service {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	return &Service{
		txs:     txs,
		trust:   trustSvc,
		pub:     pub,
		locks:   locks,
		metrics: metrics,
		logger:  logger.With().Str("service", "engine").Logger(),
		cfg:     cfg.normalized(),
	}
}

// Locks exposes the per-transaction mutex so that dispute operations
// serialize against engine operations on the same transaction.
func (s *Service) Locks() *KeyedMutex { return s.locks }

// BaseWindow returns the configured default confirmation window.
func (s *Service) BaseWindow() time.Duration { return s.cfg.DefaultWindow }

// CreateParams carries the fields of a new transaction. Window overrides
// the default confirmation window when positive.
type CreateParams struct {
	Sender   string
	Receiver string
	ItemType string
	ItemID   string
	Quantity int
	Metadata map[string]string
	Window   time.Duration
}

// Create opens a new transaction in INITIATED with its timeout armed.
func (s *Service) Create(ctx context.Context, p CreateParams) (*transaction.Transaction, error) {
	window := p.Window
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}
	tx, err := transaction.New(uuid.New(), p.Sender, p.Receiver, p.ItemType, p.ItemID, p.Quantity, p.Metadata, window)
	if err != nil {
		return nil, err
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, err
	}
	s.metrics.TransactionsCreated.Inc()
	s.metrics.InFlight.Inc()
	s.pub.Publish(event.New(event.TypeTransactionCreated, tx.ID, map[string]string{
		"sender":   tx.Sender,
		"receiver": tx.Receiver,
		"itemType": tx.ItemType,
		"quantity": strconv.Itoa(tx.Quantity),
	}))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("sender", tx.Sender).
		Str("receiver", tx.Receiver).
		Dur("window", window).
		Msg("transaction created")
	return tx, nil
}

// ConfirmSent records the sender's confirmation. When the sender's trust
// score meets the auto-confirm threshold the transaction settles directly,
// never resting in SENT; otherwise it moves to SENT and the window re-arms
// for the receiver.
func (s *Service) ConfirmSent(ctx context.Context, id uuid.UUID, caller string) (*transaction.Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != tx.Sender {
		return nil, fmt.Errorf("confirm sent by %s: %w", caller, transaction.ErrUnauthorized)
	}
	if tx.State != transaction.StateInitiated {
		if tx.SentAt != nil || tx.State == transaction.StateValidated {
			return nil, transaction.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("confirm sent in state %s: %w", tx.State, transaction.ErrInvalidStateTransition)
	}

	score, err := s.trust.Get(ctx, tx.Sender)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tx.SentAt = &now

	if score.Score >= s.cfg.AutoConfirmThreshold {
		tx.ReceivedAt = &now
		tx.State = transaction.StateValidated
		tx.TimeoutDeadline = nil
		tx.SetMeta(transaction.MetaKeyAutoConfirmed, "true")
		if err := s.txs.Update(ctx, tx); err != nil {
			return nil, err
		}
		s.settle(ctx, tx, "auto_confirm")
		return tx, nil
	}

	// Re-arm the window, preserving the per-transaction length chosen at
	// creation.
	deadline := now.Add(s.window(tx))
	tx.TimeoutDeadline = &deadline
	tx.State = transaction.StateSent
	if err := s.txs.Update(ctx, tx); err != nil {
		return nil, err
	}
	s.pub.Publish(event.New(event.TypeTransactionSent, tx.ID, map[string]string{
		"sender":   tx.Sender,
		"awaiting": tx.Receiver,
	}))
	s.logger.Info().Str("transaction_id", tx.ID.String()).Msg("sender confirmed")
	return tx, nil
}

// ConfirmReceived records the receiver's confirmation. receivedQty of zero
// means "as declared". A matching quantity completes the dual confirmation
// and settles the transaction; a mismatch leaves it resting in RECEIVED for
// a dispute or a later automated approval.
func (s *Service) ConfirmReceived(ctx context.Context, id uuid.UUID, caller string, receivedQty int) (*transaction.Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != tx.Receiver {
		return nil, fmt.Errorf("confirm received by %s: %w", caller, transaction.ErrUnauthorized)
	}
	if tx.State != transaction.StateSent {
		if tx.ReceivedAt != nil {
			return nil, transaction.ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("confirm received in state %s: %w", tx.State, transaction.ErrInvalidStateTransition)
	}

	now := time.Now().UTC()
	tx.ReceivedAt = &now
	tx.TimeoutDeadline = nil

	if receivedQty > 0 && receivedQty != tx.Quantity {
		tx.State = transaction.StateReceived
		tx.SetMeta(transaction.MetaKeyQtyReceived, strconv.Itoa(receivedQty))
		if err := s.txs.Update(ctx, tx); err != nil {
			return nil, err
		}
		s.metrics.InFlight.Dec()
		s.pub.Publish(event.New(event.TypeTransactionReceived, tx.ID, map[string]string{
			"receiver":    tx.Receiver,
			"receivedQty": strconv.Itoa(receivedQty),
		}))
		s.logger.Info().
			Str("transaction_id", tx.ID.String()).
			Int("received_qty", receivedQty).
			Int("declared_qty", tx.Quantity).
			Msg("receipt confirmed with quantity mismatch")
		return tx, nil
	}

	// Both confirmations present: the consensus rule settles the
	// transaction in the same write.
	tx.State = transaction.StateValidated
	if err := s.txs.Update(ctx, tx); err != nil {
		return nil, err
	}
	s.pub.Publish(event.New(event.TypeTransactionReceived, tx.ID, map[string]string{
		"receiver": tx.Receiver,
	}))
	s.settle(ctx, tx, "dual_confirmation")
	return tx, nil
}

// ValidateAutomated moves a transaction to VALIDATED on behalf of an
// automation action, but only from one of the allowed states. The state is
// re-checked under the lock; a transaction that moved on since the rule
// matched makes this a no-op. Returns whether it applied.
func (s *Service) ValidateAutomated(ctx context.Context, id uuid.UUID, metaKey string, allowed ...transaction.State) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	eligible := false
	for _, st := range allowed {
		if tx.State == st {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}

	now := time.Now().UTC()
	if tx.SentAt == nil {
		tx.SentAt = &now
	}
	if tx.ReceivedAt == nil {
		tx.ReceivedAt = &now
	}
	wasInFlight := tx.State == transaction.StateInitiated
	tx.State = transaction.StateValidated
	tx.TimeoutDeadline = nil
	tx.SetMeta(metaKey, "true")
	if err := s.txs.Update(ctx, tx); err != nil {
		return false, err
	}
	if !wasInFlight {
		// RECEIVED already left the in-flight gauge.
		s.metrics.InFlight.Inc()
	}
	s.settle(ctx, tx, metaKey)
	return true, nil
}

// Expire moves a still-waiting transaction past its deadline to TIMEOUT and
// applies the timeout penalties. Eligibility is re-checked under the lock;
// a transaction that confirmed since the scan is left alone. Returns whether
// it applied.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !tx.TimeoutEligible() || time.Now().UTC().Before(*tx.TimeoutDeadline) {
		return false, nil
	}

	before := tx.State
	tx.State = transaction.StateTimeout
	if err := s.txs.Update(ctx, tx); err != nil {
		return false, err
	}
	s.metrics.TransactionsTimedOut.Inc()
	s.metrics.InFlight.Dec()

	// Both parties are at fault while nothing shipped; once the sender has
	// acted only the receiver is penalized.
	if before == transaction.StateInitiated {
		s.penalize(ctx, tx.Sender, trust.PenaltyTimeout)
	}
	s.penalize(ctx, tx.Receiver, trust.PenaltyTimeout)

	s.pub.Publish(event.New(event.TypeTransactionTimedOut, tx.ID, map[string]string{
		"sender":      tx.Sender,
		"receiver":    tx.Receiver,
		"stateBefore": string(before),
	}))
	s.logger.Warn().
		Str("transaction_id", tx.ID.String()).
		Str("state_before", string(before)).
		Msg("transaction timed out")
	return true, nil
}

// RescaleDeadline multiplies the remaining confirmation window, used by the
// reduce_timeout automation action. No-op once the transaction stopped
// waiting.
func (s *Service) RescaleDeadline(ctx context.Context, id uuid.UUID, multiplier float64) (bool, error) {
	if multiplier <= 0 {
		return false, fmt.Errorf("deadline multiplier %v: %w", multiplier, transaction.ErrValidationFailed)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !tx.TimeoutEligible() {
		return false, nil
	}
	armedAt := tx.CreatedAt
	if tx.State == transaction.StateSent && tx.SentAt != nil {
		armedAt = *tx.SentAt
	}
	window := time.Duration(float64(tx.TimeoutDeadline.Sub(armedAt)) * multiplier)
	deadline := armedAt.Add(window)
	tx.TimeoutDeadline = &deadline
	if err := s.txs.Update(ctx, tx); err != nil {
		return false, err
	}
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Float64("multiplier", multiplier).
		Time("deadline", deadline).
		Msg("timeout window rescaled")
	return true, nil
}

// SetFlag marks a recognized metadata flag on a live transaction.
func (s *Service) SetFlag(ctx context.Context, id uuid.UUID, key string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tx.IsTerminal() {
		return fmt.Errorf("flag %s on terminal transaction: %w", key, transaction.ErrInvalidStateTransition)
	}
	if tx.MetaFlag(key) {
		return nil
	}
	tx.SetMeta(key, "true")
	return s.txs.Update(ctx, tx)
}

// Get returns the transaction by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return s.txs.GetByID(ctx, id)
}

// History returns every persisted version of the transaction, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]transaction.Transaction, error) {
	return s.txs.History(ctx, id)
}

// settle publishes the terminal validation and credits both parties. Trust
// writes follow the committed transition; their failure is logged, never
// rolled back into it.
func (s *Service) settle(ctx context.Context, tx *transaction.Transaction, reason string) {
	s.metrics.TransactionsValidated.Inc()
	s.metrics.InFlight.Dec()
	for _, party := range []string{tx.Sender, tx.Receiver} {
		if err := s.trust.RecordSuccess(ctx, party); err != nil {
			s.logger.Error().Err(err).
				Str("transaction_id", tx.ID.String()).
				Str("party_id", party).
				Msg("trust credit failed")
		}
	}
	s.pub.Publish(event.New(event.TypeTransactionValidated, tx.ID, map[string]string{
		"sender":   tx.Sender,
		"receiver": tx.Receiver,
		"reason":   reason,
	}))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("reason", reason).
		Msg("transaction validated")
}

func (s *Service) penalize(ctx context.Context, party string, delta float64) {
	if err := s.trust.ApplyPenalty(ctx, party, delta); err != nil {
		s.logger.Error().Err(err).Str("party_id", party).Msg("trust penalty failed")
	}
}

// window returns the confirmation window length the transaction was created
// with.
func (s *Service) window(tx *transaction.Transaction) time.Duration {
	if tx.TimeoutDeadline == nil {
		return s.cfg.DefaultWindow
	}
	if w := tx.TimeoutDeadline.Sub(tx.CreatedAt); w > 0 {
		return w
	}
	return s.cfg.DefaultWindow
}
