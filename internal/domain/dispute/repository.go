package dispute

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists resolutions, one per dispute.
type Repository interface {
	// Create stores a new resolution; a second create for the same dispute
	// fails so that accept/arbitrate remain first-writer-wins.
	Create(ctx context.Context, r *Resolution) error
	GetByDisputeID(ctx context.Context, disputeID uuid.UUID) (*Resolution, error)
	// Update persists the completion pair, version-checked.
	Update(ctx context.Context, r *Resolution) error
	// ListPendingByWinner returns resolutions awaiting a follow-up action
	// owed to the given party.
	ListPendingByWinner(ctx context.Context, partyID string) ([]*Resolution, error)
}
