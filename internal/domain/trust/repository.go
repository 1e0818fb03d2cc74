package trust

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import "context"

// Repository persists trust scores, one record per party.
type Repository interface {
	// Get returns the score for a party, or ErrPartyNotFound.
	Get(ctx context.Context, partyID string) (*Score, error)
	// Put writes the score, version-checked against Score.Version.
	Put(ctx context.Context, score *Score) error
}
