package trust

import (
	"errors"
	"time"
)

const (
	// InitialScore is assigned when a party is first referenced.
	InitialScore = 0.5
	// MaxScore bounds the canonical internal scale.
	MaxScore = 1.0

	// blendThreshold is the transaction count above which the recomputed
	// score is dampened against the previous one.
	blendThreshold = 5
	blendRatio     = 0.7
	// milestoneEvery successful transactions earn a small bonus.
	milestoneEvery = 10
	milestoneBonus = 0.01
)

// Fixed penalty deltas. All applications are floor-clamped at 0.
const (
	PenaltyLateDelivery  = 0.01
	PenaltyProductReturn = 0.015
	PenaltyDisputeFault  = 0.05
	PenaltyTimeout       = 0.05
)

var ErrPartyNotFound = errors.New("trust score not found for party")

// Adjustment names an out-of-band score adjustment independent of the
// transaction flow.
type Adjustment string

const (
	AdjustmentLateDelivery  Adjustment = "LATE_DELIVERY"
	AdjustmentProductReturn Adjustment = "PRODUCT_RETURN"
	AdjustmentDisputeFault  Adjustment = "DISPUTE_FAULT"
)

// Delta returns the fixed penalty for the adjustment, as a positive number.
func (a Adjustment) Delta() (float64, bool) {
	switch a {
	case AdjustmentLateDelivery:
		return PenaltyLateDelivery, true
	case AdjustmentProductReturn:
		return PenaltyProductReturn, true
	case AdjustmentDisputeFault:
		return PenaltyDisputeFault, true
	}
	return 0, false
}

// Score is one party's bounded reputation record. The canonical range is
// [0, MaxScore]; external callers see the rescaled range only at the API
// boundary (see Scale).
type Score struct {
	PartyID                string    `json:"partyId"`
	Score                  float64   `json:"score"`
	TotalTransactions      int       `json:"totalTransactions"`
	SuccessfulTransactions int       `json:"successfulTransactions"`
	DisputedTransactions   int       `json:"disputedTransactions"`
	LastUpdated            time.Time `json:"lastUpdated"`

	Version uint64 `json:"-"`
}

// NewScore creates the lazily-initialized neutral record for a party.
func NewScore(partyID string) *Score {
	return &Score{
		PartyID:     partyID,
		Score:       InitialScore,
		LastUpdated: time.Now().UTC(),
	}
}

// RecordSuccess folds one successful settlement into the score.
func (s *Score) RecordSuccess() {
	s.TotalTransactions++
	s.SuccessfulTransactions++
	s.recompute()
	if s.SuccessfulTransactions%milestoneEvery == 0 {
		s.Score = clamp(s.Score + milestoneBonus)
	}
	s.LastUpdated = time.Now().UTC()
}

// RecordDispute folds one disputed outcome into the score.
func (s *Score) RecordDispute() {
	s.TotalTransactions++
	s.DisputedTransactions++
	s.recompute()
	s.LastUpdated = time.Now().UTC()
}

// recompute applies the naive success ratio, blended against the previous
// score once the party has enough history to dampen oscillation.
func (s *Score) recompute() {
	if s.TotalTransactions == 0 {
		return
	}
	naive := float64(s.SuccessfulTransactions) / float64(s.TotalTransactions)
	if s.TotalTransactions > blendThreshold {
		s.Score = clamp(blendRatio*naive + (1-blendRatio)*s.Score)
	} else {
		s.Score = clamp(naive)
	}
}

// ApplyPenalty subtracts a fixed delta, floor-clamped at 0.
func (s *Score) ApplyPenalty(delta float64) {
	s.Score = clamp(s.Score - delta)
	s.LastUpdated = time.Now().UTC()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// Clamp bounds a candidate score to the canonical range.
func Clamp(v float64) float64 { return clamp(v) }
