package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/application/orchestrator"
	"github.com/handoff-hub/handoff-hub/internal/domain/dispute"
	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/transaction"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/pubsub"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/raftledger"
)

// Server holds dependencies for HTTP handlers. Trust scores cross this
// boundary on the external scale only; everything behind it stays canonical.
type Server struct {
	orch      *orchestrator.Orchestrator
	bus       *pubsub.Bus
	metrics   http.Handler
	jwtSecret []byte
	scale     trust.Scale
	raft      *raftledger.Node
	logger    zerolog.Logger
}

func NewServer(orch *orchestrator.Orchestrator, bus *pubsub.Bus, metricsHandler http.Handler, jwtSecret []byte, logger zerolog.Logger) *Server {
	return &Server{
		orch:      orch,
		bus:       bus,
		metrics:   metricsHandler,
		jwtSecret: jwtSecret,
		scale:     trust.DefaultScale,
		logger:    logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.createTransaction)
			r.Get("/{txId}", s.getTransaction)
			r.Get("/{txId}/history", s.getTransactionHistory)
			r.Post("/{txId}/confirm-sent", s.confirmSent)
			r.Post("/{txId}/confirm-received", s.confirmReceived)

			r.Post("/{txId}/dispute", s.raiseDispute)
			r.Post("/{txId}/dispute/accept", s.acceptDispute)
			r.Post("/{txId}/dispute/resolve", s.resolveDispute)
			r.Post("/{txId}/evidence", s.submitEvidence)
			r.Get("/{txId}/evidence/report", s.evidenceReport)

			r.Get("/{txId}/automation", s.evaluateAutomation)
			r.Post("/{txId}/automation/apply", s.applyAutomation)
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/{disputeId}/resolution", s.getResolution)
			r.Post("/{disputeId}/complete", s.markActionCompleted)
		})

		r.Route("/parties/{partyId}", func(r chi.Router) {
			r.Get("/trust", s.getTrustScore)
			r.Post("/trust/adjustments", s.applyTrustAdjustment)
			r.Get("/pending-actions", s.getPendingActions)
		})

		r.Post("/scheduler/scan", s.runTimeoutScan)
		r.Get("/performance", s.getPerformanceMetrics)
		r.Get("/events", s.streamEvents)

		if s.raft != nil {
			r.Route("/raft", s.raftRoutes)
		}
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps core sentinel errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, trust.ErrPartyNotFound),
		errors.Is(err, dispute.ErrResolutionNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, transaction.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, transaction.ErrAlreadyProcessed),
		errors.Is(err, transaction.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "ALREADY_PROCESSED", err.Error())
	case errors.Is(err, transaction.ErrInvalidStateTransition):
		respondError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, ledger.ErrVersionConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, transaction.ErrValidationFailed),
		errors.Is(err, dispute.ErrInvalidDecision):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
