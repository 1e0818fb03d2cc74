package raftledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
)

// command is one replicated put.
type command struct {
	Key             string          `json:"key"`
	Value           json.RawMessage `json:"value"`
	ExpectedVersion uint64          `json:"expectedVersion"`
}

// applyResult carries the FSM outcome back through the raft future. Errors
// travel as strings so they survive log replay on any node.
type applyResult struct {
	Record *ledger.Record `json:"record,omitempty"`
	Err    string         `json:"err,omitempty"`
}

// Ledger is the raft-backed ledger.Ledger. Writes go through the log;
// reads are served from the local replicated state.
type Ledger struct {
	node *Node
}

func NewLedger(node *Node) *Ledger {
	return &Ledger{node: node}
}

func (l *Ledger) Get(ctx context.Context, key string) (*ledger.Record, error) {
	return l.node.state.Get(ctx, key)
}

func (l *Ledger) Put(ctx context.Context, key string, value json.RawMessage, expectedVersion uint64) (*ledger.Record, error) {
	resp, err := l.node.apply(ctx, command{Key: key, Value: value, ExpectedVersion: expectedVersion})
	if err != nil {
		return nil, err
	}
	result, ok := resp.(applyResult)
	if !ok {
		return nil, errors.New("raftledger: unexpected apply response")
	}
	if result.Err != "" {
		return nil, decodeApplyError(result.Err)
	}
	return result.Record, nil
}

func (l *Ledger) History(ctx context.Context, key string) ([]ledger.Record, error) {
	return l.node.state.History(ctx, key)
}

func (l *Ledger) Keys(ctx context.Context, prefix string) ([]string, error) {
	return l.node.state.Keys(ctx, prefix)
}

// decodeApplyError maps replicated error strings back to ledger sentinels
// so callers can branch on them regardless of which node applied the write.
func decodeApplyError(msg string) error {
	for _, sentinel := range []error{ledger.ErrKeyNotFound, ledger.ErrVersionConflict, ledger.ErrKeyExists} {
		if msg == sentinel.Error() {
			return sentinel
		}
	}
	return errors.New(msg)
}
