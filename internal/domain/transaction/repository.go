package transaction

import (
	"context"

	"github.com/google/uuid"
)

// Repository is keyed CRUD over transaction records. Implementations sit on
// the ledger abstraction; Update must carry the version the transaction was
// loaded with and fail on conflict.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	// History returns every persisted version of the transaction, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]Transaction, error)
	// ListAll returns every transaction, for reporting aggregation.
	ListAll(ctx context.Context) ([]*Transaction, error)
	// ListInFlight returns transactions still in INITIATED or SENT.
	ListInFlight(ctx context.Context) ([]*Transaction, error)
	// ListByPair returns all transactions between the two parties, in either
	// role order, newest last.
	ListByPair(ctx context.Context, sender, receiver string) ([]*Transaction, error)
}
