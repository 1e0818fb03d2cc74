// Package ledgerstore implements the domain repositories as thin typed
// codecs over the ledger abstraction. All durability, versioning and
// history semantics live in the ledger backend; the stores only own the key
// scheme and the JSON encoding.
package ledgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
)

const txKeyPrefix = "tx/"

func txKey(id uuid.UUID) string { return txKeyPrefix + id.String() }

// TransactionStore implements transaction.Repository.
type TransactionStore struct {
	ledger ledger.Ledger
}

func NewTransactionStore(l ledger.Ledger) *TransactionStore {
	return &TransactionStore{ledger: l}
}

func (s *TransactionStore) Create(ctx context.Context, tx *transaction.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	rec, err := s.ledger.Put(ctx, txKey(tx.ID), value, 0)
	if errors.Is(err, ledger.ErrKeyExists) {
		return transaction.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	tx.Version = rec.Version
	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	rec, err := s.ledger.Get(ctx, txKey(id))
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, transaction.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTx(rec)
}

func (s *TransactionStore) Update(ctx context.Context, tx *transaction.Transaction) error {
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	rec, err := s.ledger.Put(ctx, txKey(tx.ID), value, tx.Version)
	if err != nil {
		return err
	}
	tx.Version = rec.Version
	return nil
}

func (s *TransactionStore) History(ctx context.Context, id uuid.UUID) ([]transaction.Transaction, error) {
	records, err := s.ledger.History(ctx, txKey(id))
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, transaction.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]transaction.Transaction, 0, len(records))
	for i := range records {
		tx, err := decodeTx(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, nil
}

func (s *TransactionStore) ListAll(ctx context.Context) ([]*transaction.Transaction, error) {
	return s.list(ctx, func(*transaction.Transaction) bool { return true })
}

func (s *TransactionStore) ListInFlight(ctx context.Context) ([]*transaction.Transaction, error) {
	return s.list(ctx, func(tx *transaction.Transaction) bool {
		return tx.State == transaction.StateInitiated || tx.State == transaction.StateSent
	})
}

func (s *TransactionStore) ListByPair(ctx context.Context, sender, receiver string) ([]*transaction.Transaction, error) {
	return s.list(ctx, func(tx *transaction.Transaction) bool {
		return (tx.Sender == sender && tx.Receiver == receiver) ||
			(tx.Sender == receiver && tx.Receiver == sender)
	})
}

func (s *TransactionStore) list(ctx context.Context, keep func(*transaction.Transaction) bool) ([]*transaction.Transaction, error) {
	keys, err := s.ledger.Keys(ctx, txKeyPrefix)
	if err != nil {
		return nil, err
	}
	var out []*transaction.Transaction
	for _, key := range keys {
		rec, err := s.ledger.Get(ctx, key)
		if errors.Is(err, ledger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tx, err := decodeTx(rec)
		if err != nil {
			return nil, err
		}
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func decodeTx(rec *ledger.Record) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	if err := json.Unmarshal(rec.Value, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", rec.Key, err)
	}
	tx.Version = rec.Version
	return &tx, nil
}
