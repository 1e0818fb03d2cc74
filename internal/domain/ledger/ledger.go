package ledger

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_ledger.go -package=mocks . Ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when no record exists for a key.
	ErrKeyNotFound = errors.New("ledger: key not found")
	// ErrVersionConflict is returned when a version-checked put loses a race.
	ErrVersionConflict = errors.New("ledger: version conflict")
	// ErrKeyExists is returned when creating a key that already has a record.
	ErrKeyExists = errors.New("ledger: key already exists")
)

// Record is one versioned value stored under a key.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   uint64          `json:"version"`
	WrittenAt time.Time       `json:"writtenAt"`
}

// Ledger is the storage boundary of the settlement core. Implementations own
// durability, replication and ordering; callers get per-key versioned writes
// and append-only history. Version 0 on Put means "create, must not exist".
type Ledger interface {
	// Get returns the latest record for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Record, error)
	// Put writes value under key. expectedVersion must match the current
	// version (ErrVersionConflict otherwise); expectedVersion 0 requires the
	// key to be absent (ErrKeyExists otherwise).
	Put(ctx context.Context, key string, value json.RawMessage, expectedVersion uint64) (*Record, error)
	// History returns every version written under key, oldest first.
	History(ctx context.Context, key string) ([]Record, error)
	// Keys lists keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
