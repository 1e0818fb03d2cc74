package ledgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/handoff-hub/handoff-hub/internal/domain/dispute"
	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
)

const resolutionKeyPrefix = "resolution/"

// ResolutionStore implements dispute.Repository.
type ResolutionStore struct {
	ledger ledger.Ledger
}

func NewResolutionStore(l ledger.Ledger) *ResolutionStore {
	return &ResolutionStore{ledger: l}
}

func (s *ResolutionStore) Create(ctx context.Context, r *dispute.Resolution) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	rec, err := s.ledger.Put(ctx, resolutionKeyPrefix+r.DisputeID.String(), value, 0)
	if errors.Is(err, ledger.ErrKeyExists) {
		return transaction.ErrAlreadyProcessed
	}
	if err != nil {
		return err
	}
	r.Version = rec.Version
	return nil
}

func (s *ResolutionStore) GetByDisputeID(ctx context.Context, disputeID uuid.UUID) (*dispute.Resolution, error) {
	rec, err := s.ledger.Get(ctx, resolutionKeyPrefix+disputeID.String())
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, dispute.ErrResolutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeResolution(rec)
}

func (s *ResolutionStore) Update(ctx context.Context, r *dispute.Resolution) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	rec, err := s.ledger.Put(ctx, resolutionKeyPrefix+r.DisputeID.String(), value, r.Version)
	if err != nil {
		return err
	}
	r.Version = rec.Version
	return nil
}

func (s *ResolutionStore) ListPendingByWinner(ctx context.Context, partyID string) ([]*dispute.Resolution, error) {
	keys, err := s.ledger.Keys(ctx, resolutionKeyPrefix)
	if err != nil {
		return nil, err
	}
	var out []*dispute.Resolution
	for _, key := range keys {
		rec, err := s.ledger.Get(ctx, key)
		if errors.Is(err, ledger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r, err := decodeResolution(rec)
		if err != nil {
			return nil, err
		}
		if r.Winner == partyID && !r.ActionCompleted && r.RequiredAction != dispute.ActionNone {
			out = append(out, r)
		}
	}
	return out, nil
}

func decodeResolution(rec *ledger.Record) (*dispute.Resolution, error) {
	var r dispute.Resolution
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return nil, fmt.Errorf("decode resolution %s: %w", rec.Key, err)
	}
	r.Version = rec.Version
	return &r, nil
}
