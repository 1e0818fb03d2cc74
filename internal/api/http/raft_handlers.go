package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/handoff-hub/handoff-hub/internal/infrastructure/raftledger"
)

type raftJoinRequest struct {
	NodeID string `json:"nodeId"`
	Addr   string `json:"addr"`
}

// EnableRaftAdmin mounts the cluster admin endpoints. Only meaningful when
// the ledger runs on the raft backend.
func (s *Server) EnableRaftAdmin(node *raftledger.Node) {
	s.raft = node
}

func (s *Server) raftRoutes(r chi.Router) {
	r.Get("/status", s.raftStatus)
	r.Post("/join", s.raftJoin)
}

func (s *Server) raftStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"nodeId":     s.raft.ID(),
		"isLeader":   s.raft.IsLeader(),
		"leaderAddr": s.raft.LeaderAddr(),
	})
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	var req raftJoinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if !s.raft.IsLeader() {
		respondError(w, http.StatusConflict, "NOT_LEADER", "join requests must go to the leader: "+s.raft.LeaderAddr())
		return
	}
	if err := s.raft.AddVoter(r.Context(), req.NodeID, req.Addr); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"nodeId": req.NodeID,
		"addr":   req.Addr,
	})
}
