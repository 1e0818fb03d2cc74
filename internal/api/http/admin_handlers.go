package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/handoff-hub/handoff-hub/internal/domain/event"
)

func (s *Server) runTimeoutScan(w http.ResponseWriter, r *http.Request) {
	expired, err := s.orch.RunTimeoutScan(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"expired": expired,
	})
}

func (s *Server) getPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	pm, err := s.orch.GetPerformanceMetrics(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pm)
}

// streamEvents streams domain events over SSE. An optional comma-separated
// "types" filter narrows the subscription.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	var types []event.Type
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			types = append(types, event.Type(strings.TrimSpace(t)))
		}
	}

	subID := "sse-" + uuid.NewString()
	sub := s.bus.Subscribe(subID, types...)
	defer s.bus.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
