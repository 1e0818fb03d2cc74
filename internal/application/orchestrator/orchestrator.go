// Package orchestrator is the façade over the settlement core. It is the
// only component the API layer and external subscribers talk to: every
// mutation goes through the state machine engine or the dispute manager,
// with trust scoring and automation consulted around the transition.
package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/automation"
	"github.com/handoff-hub/handoff-hub/internal/application/disputes"
	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/scheduler"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/dispute"
	"github.com/handoff-hub/handoff-hub/internal/domain/rule"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
)

// Orchestrator coordinates the settlement core.
type Orchestrator struct {
	engine     *engine.Service
	disputes   *disputes.Service
	trust      *trustledger.Service
	automation *automation.Service
	scheduler  *scheduler.Scheduler
	txs        transaction.Repository
	logger     zerolog.Logger
}

func New(eng *engine.Service, disp *disputes.Service, trustSvc *trustledger.Service, auto *automation.Service, sched *scheduler.Scheduler, txs transaction.Repository, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:     eng,
		disputes:   disp,
		trust:      trustSvc,
		automation: auto,
		scheduler:  sched,
		txs:        txs,
		logger:     logger.With().Str("service", "orchestrator").Logger(),
	}
}

// CreateTransaction opens a transaction with a dynamically sized
// confirmation window, then gives automation a chance to short-circuit the
// manual protocol.
func (o *Orchestrator) CreateTransaction(ctx context.Context, p engine.CreateParams) (*transaction.Transaction, error) {
	if p.Window <= 0 {
		p.Window = o.automation.Window(ctx, o.engine.BaseWindow(), p.Sender, p.Receiver, rule.TransactionFacts{
			Quantity: p.Quantity,
			ItemType: p.ItemType,
			Value:    metaValue(p.Metadata),
		})
	}
	tx, err := o.engine.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	o.automation.Invalidate(tx.Sender, tx.Receiver)
	if o.automation.EvaluateAndApply(ctx, tx) != nil {
		// An action may have moved the transaction; return the live record.
		return o.engine.Get(ctx, tx.ID)
	}
	return tx, nil
}

// ConfirmSent records the sender's confirmation.
func (o *Orchestrator) ConfirmSent(ctx context.Context, id uuid.UUID, caller string) (*transaction.Transaction, error) {
	tx, err := o.engine.ConfirmSent(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		o.automation.Invalidate(tx.Sender, tx.Receiver)
	}
	return tx, nil
}

// ConfirmReceived records the receiver's confirmation. A transaction left
// resting in RECEIVED by a quantity mismatch is re-offered to automation.
func (o *Orchestrator) ConfirmReceived(ctx context.Context, id uuid.UUID, caller string, receivedQty int) (*transaction.Transaction, error) {
	tx, err := o.engine.ConfirmReceived(ctx, id, caller, receivedQty)
	if err != nil {
		return nil, err
	}
	o.automation.Invalidate(tx.Sender, tx.Receiver)
	if tx.State == transaction.StateReceived && o.automation.EvaluateAndApply(ctx, tx) != nil {
		return o.engine.Get(ctx, tx.ID)
	}
	return tx, nil
}

// RaiseDispute opens a dispute on the transaction.
func (o *Orchestrator) RaiseDispute(ctx context.Context, id uuid.UUID, initiator string, reason transaction.Reason, requestedQty int) (*transaction.Transaction, error) {
	tx, err := o.disputes.Raise(ctx, id, initiator, reason, requestedQty)
	if err != nil {
		return nil, err
	}
	o.automation.Invalidate(tx.Sender, tx.Receiver)
	return tx, nil
}

// AcceptDispute records the counter-party's acceptance.
func (o *Orchestrator) AcceptDispute(ctx context.Context, id uuid.UUID, acceptor string, agreedQty int) (*dispute.Resolution, error) {
	res, err := o.disputes.Accept(ctx, id, acceptor, agreedQty)
	if err != nil {
		return nil, err
	}
	o.automation.Invalidate(res.Winner, res.Loser)
	return res, nil
}

// ResolveDispute arbitrates the dispute.
func (o *Orchestrator) ResolveDispute(ctx context.Context, id uuid.UUID, resolver, resolverRole string, decision dispute.Decision, notes string, qty int) (*dispute.Resolution, error) {
	res, err := o.disputes.Resolve(ctx, id, resolver, resolverRole, decision, notes, qty)
	if err != nil {
		return nil, err
	}
	o.automation.Invalidate(res.Winner, res.Loser)
	return res, nil
}

// SubmitEvidence attaches an artifact reference to an open dispute.
func (o *Orchestrator) SubmitEvidence(ctx context.Context, id uuid.UUID, evType, submittedBy, contentHash string) (*transaction.Transaction, error) {
	return o.disputes.SubmitEvidence(ctx, id, evType, submittedBy, contentHash)
}

// GenerateEvidenceReport aggregates a transaction's evidence.
func (o *Orchestrator) GenerateEvidenceReport(ctx context.Context, id uuid.UUID) (*disputes.EvidenceReport, error) {
	return o.disputes.GenerateEvidenceReport(ctx, id)
}

// MarkActionCompleted records the once-only follow-up completion.
func (o *Orchestrator) MarkActionCompleted(ctx context.Context, disputeID, followUpTxID uuid.UUID) (*dispute.Resolution, error) {
	return o.disputes.MarkActionCompleted(ctx, disputeID, followUpTxID)
}

// GetPendingActions returns the follow-ups still owed to a party.
func (o *Orchestrator) GetPendingActions(ctx context.Context, partyID string) ([]*dispute.Resolution, error) {
	return o.disputes.PendingActions(ctx, partyID)
}

// GetResolution returns the recorded outcome of a dispute.
func (o *Orchestrator) GetResolution(ctx context.Context, disputeID uuid.UUID) (*dispute.Resolution, error) {
	return o.disputes.Resolution(ctx, disputeID)
}

// GetTransaction returns the transaction by id.
func (o *Orchestrator) GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return o.engine.Get(ctx, id)
}

// GetTransactionHistory returns every persisted version, oldest first.
func (o *Orchestrator) GetTransactionHistory(ctx context.Context, id uuid.UUID) ([]transaction.Transaction, error) {
	return o.engine.History(ctx, id)
}

// GetTrustScore returns a party's score on the canonical internal scale.
// Rescaling for external callers happens at the API boundary only.
func (o *Orchestrator) GetTrustScore(ctx context.Context, partyID string) (*trust.Score, error) {
	return o.trust.Get(ctx, partyID)
}

// ApplyTrustAdjustment applies an out-of-band score adjustment such as a
// late delivery or a product return.
func (o *Orchestrator) ApplyTrustAdjustment(ctx context.Context, partyID string, adj trust.Adjustment) (*trust.Score, error) {
	if err := o.trust.ApplyAdjustment(ctx, partyID, adj); err != nil {
		return nil, err
	}
	return o.trust.Get(ctx, partyID)
}

// EvaluateAutomation returns the rule that would fire for the transaction,
// without applying it.
func (o *Orchestrator) EvaluateAutomation(ctx context.Context, id uuid.UUID) (*rule.AutomationRule, error) {
	tx, err := o.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.automation.Evaluate(ctx, tx)
}

// ApplyAutomation evaluates and applies the matching rule, returning it.
func (o *Orchestrator) ApplyAutomation(ctx context.Context, id uuid.UUID) (*rule.AutomationRule, error) {
	tx, err := o.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	matched, err := o.automation.Evaluate(ctx, tx)
	if err != nil || matched == nil {
		return nil, err
	}
	if err := o.automation.Apply(ctx, tx, matched); err != nil {
		return nil, err
	}
	return matched, nil
}

// RunTimeoutScan runs one scheduler pass and returns the number of
// transactions expired.
func (o *Orchestrator) RunTimeoutScan(ctx context.Context) (int, error) {
	return o.scheduler.Scan(ctx)
}

// PerformanceMetrics is the aggregate settlement snapshot.
type PerformanceMetrics struct {
	Total             int                       `json:"total"`
	ByState           map[transaction.State]int `json:"byState"`
	InFlight          int                       `json:"inFlight"`
	ValidationRate    float64                   `json:"validationRate"`
	DisputeRate       float64                   `json:"disputeRate"`
	TimeoutRate       float64                   `json:"timeoutRate"`
	AverageSettlement time.Duration             `json:"averageSettlementNs"`
	GeneratedAt       time.Time                 `json:"generatedAt"`
}

// GetPerformanceMetrics aggregates over every transaction.
func (o *Orchestrator) GetPerformanceMetrics(ctx context.Context) (*PerformanceMetrics, error) {
	all, err := o.txs.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	pm := &PerformanceMetrics{
		Total:       len(all),
		ByState:     make(map[transaction.State]int),
		GeneratedAt: time.Now().UTC(),
	}
	var (
		settled   time.Duration
		validated int
		disputed  int
		timedOut  int
	)
	for _, tx := range all {
		pm.ByState[tx.State]++
		switch tx.State {
		case transaction.StateInitiated, transaction.StateSent:
			pm.InFlight++
		case transaction.StateValidated:
			validated++
			if tx.ReceivedAt != nil {
				settled += tx.ReceivedAt.Sub(tx.CreatedAt)
			}
		case transaction.StateTimeout:
			timedOut++
		}
		if tx.Dispute != nil {
			disputed++
		}
	}
	if pm.Total > 0 {
		pm.ValidationRate = float64(validated) / float64(pm.Total)
		pm.DisputeRate = float64(disputed) / float64(pm.Total)
		pm.TimeoutRate = float64(timedOut) / float64(pm.Total)
	}
	if validated > 0 {
		pm.AverageSettlement = settled / time.Duration(validated)
	}
	return pm, nil
}

func metaValue(metadata map[string]string) float64 {
	v, err := strconv.ParseFloat(metadata[transaction.MetaKeyValue], 64)
	if err != nil {
		return 0
	}
	return v
}
