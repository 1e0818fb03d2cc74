package httpapi

import (
	"net/http"
	"time"

	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
)

// trustScoreResponse carries the externally scaled score. The canonical
// internal range never crosses this boundary.
type trustScoreResponse struct {
	PartyID                string    `json:"partyId"`
	Score                  float64   `json:"score"`
	ScaleMax               float64   `json:"scaleMax"`
	TotalTransactions      int       `json:"totalTransactions"`
	SuccessfulTransactions int       `json:"successfulTransactions"`
	DisputedTransactions   int       `json:"disputedTransactions"`
	LastUpdated            time.Time `json:"lastUpdated"`
}

type trustAdjustmentRequest struct {
	Adjustment string `json:"adjustment"`
}

func (s *Server) externalScore(score *trust.Score) trustScoreResponse {
	return trustScoreResponse{
		PartyID:                score.PartyID,
		Score:                  s.scale.ToExternal(score.Score),
		ScaleMax:               s.scale.ToExternal(trust.MaxScore),
		TotalTransactions:      score.TotalTransactions,
		SuccessfulTransactions: score.SuccessfulTransactions,
		DisputedTransactions:   score.DisputedTransactions,
		LastUpdated:            score.LastUpdated,
	}
}

func (s *Server) getTrustScore(w http.ResponseWriter, r *http.Request) {
	partyID := urlParam(r, "partyId")
	score, err := s.orch.GetTrustScore(r.Context(), partyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.externalScore(score))
}

func (s *Server) applyTrustAdjustment(w http.ResponseWriter, r *http.Request) {
	partyID := urlParam(r, "partyId")
	var req trustAdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	score, err := s.orch.ApplyTrustAdjustment(r.Context(), partyID, trust.Adjustment(req.Adjustment))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.externalScore(score))
}

func (s *Server) getPendingActions(w http.ResponseWriter, r *http.Request) {
	partyID := urlParam(r, "partyId")
	actions, err := s.orch.GetPendingActions(r.Context(), partyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"partyId": partyID,
		"pending": actions,
	})
}
