// Package automation evaluates the priority-ordered policy rules against
// live trust scores and relationship metrics, and applies the side effects
// of the highest-priority match. Rules are loaded once at orchestrator start
// and read-only afterwards; failures here are logged and never surface to
// the transition that triggered evaluation.
package automation

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/rule"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

const (
	// DefaultCacheTTL bounds staleness of the relationship snapshot between
	// explicit invalidations.
	DefaultCacheTTL = 30 * time.Second
	// DefaultApproveDelay is the auto_approve postponement when a rule does
	// not set its own.
	DefaultApproveDelay = 5 * time.Minute

	applyTimeout = 30 * time.Second
)

// Config tunes the automation engine.
type Config struct {
	CacheTTL     time.Duration
	ApproveDelay time.Duration
}

func (c Config) normalized() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.ApproveDelay <= 0 {
		c.ApproveDelay = DefaultApproveDelay
	}
	return c
}

// Service is the automation rule engine.
type Service struct {
	rules   []rule.AutomationRule
	txs     transaction.Repository
	trust   *trustledger.Service
	engine  *engine.Service
	pub     event.Publisher
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     Config

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// cacheEntry is the pair-level aggregation; trust scores are read fresh on
// every evaluation.
type cacheEntry struct {
	pair pairMetrics
	at   time.Time
}

type pairMetrics struct {
	count             int
	successRate       float64
	averageSettlement time.Duration
	age               time.Duration
	totalValue        float64
	lastItemType      string
}

func NewService(rules []rule.AutomationRule, txs transaction.Repository, trustSvc *trustledger.Service, eng *engine.Service, pub event.Publisher, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Service {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	sorted := make([]rule.AutomationRule, len(rules))
	copy(sorted, rules)
	rule.SortByPriority(sorted)
	return &Service{
		rules:   sorted,
		txs:     txs,
		trust:   trustSvc,
		engine:  eng,
		pub:     pub,
		metrics: metrics,
		logger:  logger.With().Str("service", "automation").Logger(),
		cfg:     cfg.normalized(),
		cache:   make(map[string]cacheEntry),
	}
}

// Rules returns the admitted rule set in evaluation order.
func (s *Service) Rules() []rule.AutomationRule { return s.rules }

// Evaluate returns the highest-priority fully-matching rule for the
// transaction, or nil when nothing matches.
func (s *Service) Evaluate(ctx context.Context, tx *transaction.Transaction) (*rule.AutomationRule, error) {
	m, err := s.Metrics(ctx, tx.Sender, tx.Receiver, facts(tx))
	if err != nil {
		return nil, err
	}
	matched, evalErr := rule.FirstMatch(s.rules, m)
	if evalErr != nil {
		s.logger.Warn().Err(evalErr).Msg("rule condition evaluation skipped rules")
	}
	return matched, nil
}

// Apply runs the matched rule's action against the transaction. Delayed
// actions are scheduled and re-check state at fire time.
func (s *Service) Apply(ctx context.Context, tx *transaction.Transaction, r *rule.AutomationRule) error {
	var (
		applied bool
		err     error
	)
	switch r.Action {
	case rule.ActionInstantValidate:
		applied, err = s.engine.ValidateAutomated(ctx, tx.ID, transaction.MetaKeyAutoConfirmed, transaction.StateInitiated)
	case rule.ActionAutoApprove:
		delay := r.Delay
		if delay <= 0 {
			delay = s.cfg.ApproveDelay
		}
		s.scheduleApprove(tx.ID, r.ID, delay)
		applied = true
	case rule.ActionReduceTimeout:
		applied, err = s.engine.RescaleDeadline(ctx, tx.ID, r.Multiplier)
	case rule.ActionSkipEvidence:
		err = s.engine.SetFlag(ctx, tx.ID, transaction.MetaKeySkipEvidence)
		applied = err == nil
	case rule.ActionBatchApprove:
		err = s.engine.SetFlag(ctx, tx.ID, transaction.MetaKeyBatchEligible)
		applied = err == nil
	}
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	s.metrics.AutomationApplied.WithLabelValues(string(r.Action)).Inc()
	s.pub.Publish(event.New(event.TypeAutomationApplied, tx.ID, map[string]string{
		"ruleId": r.ID,
		"action": string(r.Action),
	}))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("rule_id", r.ID).
		Str("action", string(r.Action)).
		Msg("automation rule applied")
	return nil
}

// EvaluateAndApply is the orchestrator's post-transition hook. Failures are
// logged, never propagated to the triggering transition.
func (s *Service) EvaluateAndApply(ctx context.Context, tx *transaction.Transaction) *rule.AutomationRule {
	matched, err := s.Evaluate(ctx, tx)
	if err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Msg("automation evaluation failed")
		return nil
	}
	if matched == nil {
		return nil
	}
	if err := s.Apply(ctx, tx, matched); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Str("rule_id", matched.ID).
			Msg("automation action failed")
	}
	return matched
}

// Window computes the per-transaction confirmation window from the base
// window and the relationship snapshot.
func (s *Service) Window(ctx context.Context, base time.Duration, sender, receiver string, f rule.TransactionFacts) time.Duration {
	m, err := s.Metrics(ctx, sender, receiver, f)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("sender", sender).
			Str("receiver", receiver).
			Msg("dynamic window fell back to base")
		return base
	}
	return rule.DynamicTimeout(base, m)
}

// scheduleApprove arms the delayed transition to VALIDATED. At fire time the
// transaction must still rest in RECEIVED, otherwise the approval is a
// no-op.
func (s *Service) scheduleApprove(id uuid.UUID, ruleID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		defer cancel()
		applied, err := s.engine.ValidateAutomated(ctx, id, transaction.MetaKeyAutoApproved, transaction.StateReceived)
		if err != nil {
			s.logger.Error().Err(err).
				Str("transaction_id", id.String()).
				Str("rule_id", ruleID).
				Msg("delayed approval failed")
			return
		}
		if !applied {
			s.logger.Debug().
				Str("transaction_id", id.String()).
				Str("rule_id", ruleID).
				Msg("delayed approval skipped, transaction moved on")
		}
	})
	s.logger.Info().
		Str("transaction_id", id.String()).
		Str("rule_id", ruleID).
		Dur("delay", delay).
		Msg("delayed approval scheduled")
}

// Metrics builds the rule evaluation snapshot for a pair: fresh trust
// scores plus the cached relationship aggregation.
func (s *Service) Metrics(ctx context.Context, sender, receiver string, f rule.TransactionFacts) (rule.RelationshipMetrics, error) {
	senderScore, err := s.trust.Get(ctx, sender)
	if err != nil {
		return rule.RelationshipMetrics{}, err
	}
	receiverScore, err := s.trust.Get(ctx, receiver)
	if err != nil {
		return rule.RelationshipMetrics{}, err
	}
	pair, err := s.pairMetrics(ctx, sender, receiver)
	if err != nil {
		return rule.RelationshipMetrics{}, err
	}
	return rule.RelationshipMetrics{
		SenderScore:        senderScore.Score,
		ReceiverScore:      receiverScore.Score,
		TransactionCount:   pair.count,
		SuccessRate:        pair.successRate,
		AverageSettlement:  pair.averageSettlement,
		RelationshipAge:    pair.age,
		TotalValue:         pair.totalValue,
		LastItemType:       pair.lastItemType,
		RepeatShipment:     pair.lastItemType != "" && pair.lastItemType == f.ItemType,
		CurrentTransaction: f,
	}, nil
}

// Invalidate drops the cached aggregation for a pair after a relevant
// write.
func (s *Service) Invalidate(sender, receiver string) {
	s.mu.Lock()
	delete(s.cache, pairKey(sender, receiver))
	s.mu.Unlock()
}

func (s *Service) pairMetrics(ctx context.Context, sender, receiver string) (pairMetrics, error) {
	key := pairKey(sender, receiver)
	now := time.Now().UTC()

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && now.Sub(entry.at) < s.cfg.CacheTTL {
		return entry.pair, nil
	}

	history, err := s.txs.ListByPair(ctx, sender, receiver)
	if err != nil {
		return pairMetrics{}, err
	}
	pair := aggregate(history, now)

	s.mu.Lock()
	s.cache[key] = cacheEntry{pair: pair, at: now}
	s.mu.Unlock()
	return pair, nil
}

func aggregate(history []*transaction.Transaction, now time.Time) pairMetrics {
	var (
		pair      pairMetrics
		validated int
		completed int
		settled   time.Duration
		earliest  time.Time
		latest    time.Time
	)
	pair.count = len(history)
	pair.successRate = 1
	for _, tx := range history {
		if earliest.IsZero() || tx.CreatedAt.Before(earliest) {
			earliest = tx.CreatedAt
		}
		if v, err := strconv.ParseFloat(tx.Metadata[transaction.MetaKeyValue], 64); err == nil {
			pair.totalValue += v
		}
		if tx.IsTerminal() {
			completed++
			// Pattern detection looks at completed shipments only, so an
			// in-flight transaction never matches against itself.
			if tx.CreatedAt.After(latest) {
				latest = tx.CreatedAt
				pair.lastItemType = tx.ItemType
			}
			if tx.State == transaction.StateValidated {
				validated++
				if tx.ReceivedAt != nil {
					settled += tx.ReceivedAt.Sub(tx.CreatedAt)
				}
			}
		}
	}
	if completed > 0 {
		pair.successRate = float64(validated) / float64(completed)
	}
	if validated > 0 {
		pair.averageSettlement = settled / time.Duration(validated)
	}
	if !earliest.IsZero() {
		pair.age = now.Sub(earliest)
	}
	return pair
}

func pairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return p[0] + "|" + p[1]
}

func facts(tx *transaction.Transaction) rule.TransactionFacts {
	f := rule.TransactionFacts{
		Quantity: tx.Quantity,
		ItemType: tx.ItemType,
	}
	if v, err := strconv.ParseFloat(tx.Metadata[transaction.MetaKeyValue], 64); err == nil {
		f.Value = v
	}
	return f
}
