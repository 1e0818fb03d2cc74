// Package memory provides the in-process ledger backend. It backs unit
// tests and serves as the replicated state of the raft ledger.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
)

// Ledger is a thread-safe in-memory ledger.Ledger with full history.
type Ledger struct {
	mu      sync.RWMutex
	records map[string][]ledger.Record // history per key, oldest first
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string][]ledger.Record)}
}

func (l *Ledger) Get(ctx context.Context, key string) (*ledger.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hist := l.records[key]
	if len(hist) == 0 {
		return nil, ledger.ErrKeyNotFound
	}
	rec := hist[len(hist)-1]
	return &rec, nil
}

func (l *Ledger) Put(ctx context.Context, key string, value json.RawMessage, expectedVersion uint64) (*ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putLocked(key, value, expectedVersion)
}

func (l *Ledger) putLocked(key string, value json.RawMessage, expectedVersion uint64) (*ledger.Record, error) {
	hist := l.records[key]
	current := uint64(0)
	if len(hist) > 0 {
		current = hist[len(hist)-1].Version
	}
	if expectedVersion == 0 && current != 0 {
		return nil, ledger.ErrKeyExists
	}
	if expectedVersion != current {
		return nil, ledger.ErrVersionConflict
	}
	rec := ledger.Record{
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		Version:   current + 1,
		WrittenAt: time.Now().UTC(),
	}
	l.records[key] = append(hist, rec)
	return &rec, nil
}

func (l *Ledger) History(ctx context.Context, key string) ([]ledger.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hist := l.records[key]
	if len(hist) == 0 {
		return nil, ledger.ErrKeyNotFound
	}
	out := make([]ledger.Record, len(hist))
	copy(out, hist)
	return out, nil
}

func (l *Ledger) Keys(ctx context.Context, prefix string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys []string
	for k := range l.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply performs a put without the context plumbing. It is the entry point
// the raft state machine uses when replaying the log.
func (l *Ledger) Apply(key string, value json.RawMessage, expectedVersion uint64) (*ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putLocked(key, value, expectedVersion)
}

// Snapshot serializes the full key history for raft snapshots.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.records)
}

// Restore replaces the ledger content from a snapshot.
func (l *Ledger) Restore(data []byte) error {
	records := make(map[string][]ledger.Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = records
	return nil
}
