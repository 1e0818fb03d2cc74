// Package trustledger maintains per-party trust scores. Records are
// created lazily with a neutral score on first reference and mutated only
// through the outcome and adjustment paths here.
package trustledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
)

// maxRetries bounds version-conflict retries. Score writes for unrelated
// parties never contend; conflicts only arise from concurrent outcomes for
// the same party.
const maxRetries = 3

// Service is the trust score ledger.
type Service struct {
	repo   trust.Repository
	logger zerolog.Logger
}

func NewService(repo trust.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "trustledger").Logger(),
	}
}

// Get returns the party's score, creating the neutral record on first
// reference.
func (s *Service) Get(ctx context.Context, partyID string) (*trust.Score, error) {
	score, err := s.repo.Get(ctx, partyID)
	if errors.Is(err, trust.ErrPartyNotFound) {
		score = trust.NewScore(partyID)
		if putErr := s.repo.Put(ctx, score); putErr != nil {
			if errors.Is(putErr, ledger.ErrKeyExists) || errors.Is(putErr, ledger.ErrVersionConflict) {
				// Lost the creation race; the other writer's record wins.
				return s.repo.Get(ctx, partyID)
			}
			return nil, putErr
		}
		return score, nil
	}
	return score, err
}

// RecordSuccess folds a successful settlement into the party's score.
func (s *Service) RecordSuccess(ctx context.Context, partyID string) error {
	return s.mutate(ctx, partyID, func(score *trust.Score) {
		score.RecordSuccess()
	})
}

// RecordDispute folds a disputed outcome into the party's score.
func (s *Service) RecordDispute(ctx context.Context, partyID string) error {
	return s.mutate(ctx, partyID, func(score *trust.Score) {
		score.RecordDispute()
	})
}

// ApplyPenalty subtracts a fixed delta, floor-clamped at zero.
func (s *Service) ApplyPenalty(ctx context.Context, partyID string, delta float64) error {
	return s.mutate(ctx, partyID, func(score *trust.Score) {
		score.ApplyPenalty(delta)
	})
}

// ApplyAdjustment applies one of the fixed out-of-band adjustments.
func (s *Service) ApplyAdjustment(ctx context.Context, partyID string, adj trust.Adjustment) error {
	delta, ok := adj.Delta()
	if !ok {
		return fmt.Errorf("unknown trust adjustment %q: %w", adj, transaction.ErrValidationFailed)
	}
	return s.ApplyPenalty(ctx, partyID, delta)
}

func (s *Service) mutate(ctx context.Context, partyID string, apply func(*trust.Score)) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		score, err := s.Get(ctx, partyID)
		if err != nil {
			return err
		}
		apply(score)
		err = s.repo.Put(ctx, score)
		if err == nil {
			s.logger.Debug().
				Str("party_id", partyID).
				Float64("score", score.Score).
				Int("total", score.TotalTransactions).
				Msg("trust score updated")
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("trust score update for %s: %w", partyID, lastErr)
}
