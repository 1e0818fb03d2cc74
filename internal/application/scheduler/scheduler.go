// Package scheduler runs the periodic timeout scan over in-flight
// transactions. Expiry itself is delegated to the engine, which re-checks
// eligibility under the per-transaction lock, so a confirmation racing the
// scan always wins.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

const (
	// DefaultInterval is the scan period.
	DefaultInterval = 30 * time.Second
	// DefaultWarnFraction of the window elapsed triggers the escalation
	// warning.
	DefaultWarnFraction = 0.8
)

// Config tunes the scheduler. Zero values fall back to the defaults.
type Config struct {
	Interval     time.Duration
	WarnFraction float64
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.WarnFraction <= 0 || c.WarnFraction >= 1 {
		c.WarnFraction = DefaultWarnFraction
	}
	return c
}

// Scheduler is the timeout scanner.
type Scheduler struct {
	txs     transaction.Repository
	engine  *engine.Service
	pub     event.Publisher
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     Config

	mu sync.Mutex
	// warned tracks deadlines already escalated, keyed by transaction and
	// armed deadline so a re-armed window warns again.
	warned map[warnKey]struct{}
}

type warnKey struct {
	id       uuid.UUID
	deadline time.Time
}

func New(txs transaction.Repository, eng *engine.Service, pub event.Publisher, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Scheduler {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	return &Scheduler{
		txs:     txs,
		engine:  eng,
		pub:     pub,
		metrics: metrics,
		logger:  logger.With().Str("service", "scheduler").Logger(),
		cfg:     cfg.normalized(),
		warned:  make(map[warnKey]struct{}),
	}
}

// Run scans on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("timeout scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("timeout scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error().Err(err).Msg("timeout scan failed")
			}
		}
	}
}

// Scan runs one pass over the in-flight transactions: expired windows move
// to TIMEOUT, windows past the warning fraction emit a one-shot escalation
// event. Returns the number of transactions expired.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	inflight, err := s.txs.ListInFlight(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	expired := 0
	for _, tx := range inflight {
		if !tx.TimeoutEligible() {
			continue
		}
		if !now.Before(*tx.TimeoutDeadline) {
			applied, err := s.engine.Expire(ctx, tx.ID)
			if err != nil {
				s.logger.Error().Err(err).
					Str("transaction_id", tx.ID.String()).
					Msg("expiry failed")
				continue
			}
			if applied {
				expired++
				s.clearWarned(tx.ID)
			}
			continue
		}
		s.maybeWarn(tx, now)
	}
	s.pruneWarned(now)
	return expired, nil
}

// maybeWarn emits the escalation warning once per armed deadline.
func (s *Scheduler) maybeWarn(tx *transaction.Transaction, now time.Time) {
	armedAt := tx.CreatedAt
	awaiting := tx.Sender
	if tx.State == transaction.StateSent {
		awaiting = tx.Receiver
		if tx.SentAt != nil {
			armedAt = *tx.SentAt
		}
	}
	window := tx.TimeoutDeadline.Sub(armedAt)
	if window <= 0 || now.Sub(armedAt) < time.Duration(float64(window)*s.cfg.WarnFraction) {
		return
	}

	key := warnKey{id: tx.ID, deadline: *tx.TimeoutDeadline}
	s.mu.Lock()
	_, seen := s.warned[key]
	if !seen {
		s.warned[key] = struct{}{}
	}
	s.mu.Unlock()
	if seen {
		return
	}

	s.metrics.TimeoutWarnings.Inc()
	s.pub.Publish(event.New(event.TypeTimeoutWarning, tx.ID, map[string]string{
		"awaiting": awaiting,
		"deadline": tx.TimeoutDeadline.Format(time.RFC3339),
	}))
	s.logger.Warn().
		Str("transaction_id", tx.ID.String()).
		Str("awaiting", awaiting).
		Time("deadline", *tx.TimeoutDeadline).
		Msg("timeout window near expiry")
}

func (s *Scheduler) clearWarned(id uuid.UUID) {
	s.mu.Lock()
	for key := range s.warned {
		if key.id == id {
			delete(s.warned, key)
		}
	}
	s.mu.Unlock()
}

// pruneWarned drops entries whose deadline passed long ago, keeping the map
// bounded.
func (s *Scheduler) pruneWarned(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	s.mu.Lock()
	for key := range s.warned {
		if key.deadline.Before(cutoff) {
			delete(s.warned, key)
		}
	}
	s.mu.Unlock()
}
