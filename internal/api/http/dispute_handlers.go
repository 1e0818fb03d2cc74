package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/handoff-hub/handoff-hub/internal/domain/dispute"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
)

type disputeRaiseRequest struct {
	Reason       string `json:"reason"`
	RequestedQty int    `json:"requestedQty,omitempty"`
}

type disputeAcceptRequest struct {
	AgreedQty int `json:"agreedQty,omitempty"`
}

type disputeResolveRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

type evidenceSubmitRequest struct {
	Type        string `json:"type"`
	ContentHash string `json:"contentHash"`
}

type actionCompleteRequest struct {
	FollowUpTxID string `json:"followUpTxId"`
}

func (s *Server) raiseDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	var req disputeRaiseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	party := authPartyFromContext(r.Context())
	tx, err := s.orch.RaiseDispute(r.Context(), id, party.PartyID, transaction.Reason(req.Reason), req.RequestedQty)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) acceptDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	var req disputeAcceptRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	party := authPartyFromContext(r.Context())
	res, err := s.orch.AcceptDispute(r.Context(), id, party.PartyID, req.AgreedQty)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	var req disputeResolveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	party := authPartyFromContext(r.Context())
	res, err := s.orch.ResolveDispute(r.Context(), id, party.PartyID, party.Role, dispute.Decision(req.Decision), req.Notes, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) submitEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	var req evidenceSubmitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	party := authPartyFromContext(r.Context())
	tx, err := s.orch.SubmitEvidence(r.Context(), id, req.Type, party.PartyID, req.ContentHash)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) evidenceReport(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	report, err := s.orch.GenerateEvidenceReport(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) getResolution(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dispute id")
		return
	}
	res, err := s.orch.GetResolution(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) markActionCompleted(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "disputeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid dispute id")
		return
	}
	var req actionCompleteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	followUpID, err := uuid.Parse(req.FollowUpTxID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid followUpTxId")
		return
	}
	res, err := s.orch.MarkActionCompleted(r.Context(), id, followUpID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
