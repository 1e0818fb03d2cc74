package ledgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
)

const trustKeyPrefix = "trust/"

// TrustStore implements trust.Repository.
type TrustStore struct {
	ledger ledger.Ledger
}

func NewTrustStore(l ledger.Ledger) *TrustStore {
	return &TrustStore{ledger: l}
}

func (s *TrustStore) Get(ctx context.Context, partyID string) (*trust.Score, error) {
	rec, err := s.ledger.Get(ctx, trustKeyPrefix+partyID)
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, trust.ErrPartyNotFound
	}
	if err != nil {
		return nil, err
	}
	var score trust.Score
	if err := json.Unmarshal(rec.Value, &score); err != nil {
		return nil, fmt.Errorf("decode trust score %s: %w", partyID, err)
	}
	score.Version = rec.Version
	return &score, nil
}

func (s *TrustStore) Put(ctx context.Context, score *trust.Score) error {
	value, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode trust score: %w", err)
	}
	rec, err := s.ledger.Put(ctx, trustKeyPrefix+score.PartyID, value, score.Version)
	if err != nil {
		return err
	}
	score.Version = rec.Version
	return nil
}
