package disputes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/handoff-hub/handoff-hub/internal/domain/event"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
)

// SubmitEvidence appends an artifact reference to an open dispute.
// Verification is out of band; the entry always starts unverified.
func (s *Service) SubmitEvidence(ctx context.Context, txID uuid.UUID, evType, submittedBy, contentHash string) (*transaction.Transaction, error) {
	if strings.TrimSpace(evType) == "" || strings.TrimSpace(contentHash) == "" {
		return nil, fmt.Errorf("evidence type and content hash are required: %w", transaction.ErrValidationFailed)
	}

	unlock := s.locks.Lock(txID)
	defer unlock()

	tx, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParty(submittedBy) {
		return nil, fmt.Errorf("evidence from %s: %w", submittedBy, transaction.ErrUnauthorized)
	}
	if tx.State != transaction.StateDisputed {
		return nil, fmt.Errorf("evidence in state %s: %w", tx.State, transaction.ErrInvalidStateTransition)
	}

	tx.Evidence = append(tx.Evidence, transaction.Evidence{
		Type:        evType,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
		ContentHash: contentHash,
	})
	if err := s.txs.Update(ctx, tx); err != nil {
		return nil, err
	}
	s.pub.Publish(event.New(event.TypeEvidenceSubmitted, tx.ID, map[string]string{
		"type":        evType,
		"submittedBy": submittedBy,
	}))
	s.logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("type", evType).
		Str("submitted_by", submittedBy).
		Msg("evidence submitted")
	return tx, nil
}

// EvidenceReport aggregates a transaction's evidence for reporting
// collaborators.
type EvidenceReport struct {
	TransactionID uuid.UUID              `json:"transactionId"`
	State         transaction.State      `json:"state"`
	DisputeID     *uuid.UUID             `json:"disputeId,omitempty"`
	GeneratedAt   time.Time              `json:"generatedAt"`
	Total         int                    `json:"total"`
	Verified      int                    `json:"verified"`
	Items         []transaction.Evidence `json:"items"`
	// Digest is the blake2b-256 hash of the item list, so downstream
	// consumers can detect a changed set without diffing entries.
	Digest string `json:"digest"`
}

// GenerateEvidenceReport builds the report for a transaction's evidence.
func (s *Service) GenerateEvidenceReport(ctx context.Context, txID uuid.UUID) (*EvidenceReport, error) {
	tx, err := s.txs.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	report := &EvidenceReport{
		TransactionID: tx.ID,
		State:         tx.State,
		GeneratedAt:   time.Now().UTC(),
		Total:         len(tx.Evidence),
		Items:         tx.Evidence,
	}
	if tx.Dispute != nil {
		id := tx.Dispute.DisputeID
		report.DisputeID = &id
	}
	for _, ev := range tx.Evidence {
		if ev.Verified {
			report.Verified++
		}
	}
	raw, err := json.Marshal(tx.Evidence)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(raw)
	report.Digest = hex.EncodeToString(sum[:])
	return report, nil
}
