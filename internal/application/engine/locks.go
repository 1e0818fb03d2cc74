package engine

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serializes operations per transaction id. Entries are
// reference-counted and removed once the last holder releases, so the map
// does not grow with the number of transactions ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the mutex for id and returns its unlock func.
func (k *KeyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
