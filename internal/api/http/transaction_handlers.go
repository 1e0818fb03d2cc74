package httpapi

import (
	"net/http"

	"github.com/handoff-hub/handoff-hub/internal/application/engine"
)

type transactionCreateRequest struct {
	Sender   string            `json:"sender"`
	Receiver string            `json:"receiver"`
	ItemType string            `json:"itemType"`
	ItemID   string            `json:"itemId,omitempty"`
	Quantity int               `json:"quantity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type confirmReceivedRequest struct {
	ReceivedQty int `json:"receivedQty,omitempty"`
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	party := authPartyFromContext(r.Context())
	if party.PartyID != req.Sender && party.PartyID != req.Receiver {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "caller must be a declared party")
		return
	}
	tx, err := s.orch.CreateTransaction(r.Context(), engine.CreateParams{
		Sender:   req.Sender,
		Receiver: req.Receiver,
		ItemType: req.ItemType,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	tx, err := s.orch.GetTransaction(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) getTransactionHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	history, err := s.orch.GetTransactionHistory(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactionId": id,
		"versions":      history,
	})
}

func (s *Server) confirmSent(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	party := authPartyFromContext(r.Context())
	tx, err := s.orch.ConfirmSent(r.Context(), id, party.PartyID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) confirmReceived(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	var req confirmReceivedRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	party := authPartyFromContext(r.Context())
	tx, err := s.orch.ConfirmReceived(r.Context(), id, party.PartyID, req.ReceivedQty)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (s *Server) evaluateAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	matched, err := s.orch.EvaluateAutomation(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactionId": id,
		"matched":       matched,
	})
}

func (s *Server) applyAutomation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "txId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid transaction id")
		return
	}
	applied, err := s.orch.ApplyAutomation(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactionId": id,
		"applied":       applied,
	})
}
