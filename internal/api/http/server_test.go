package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-hub/handoff-hub/internal/application/automation"
	"github.com/handoff-hub/handoff-hub/internal/application/disputes"
	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/orchestrator"
	"github.com/handoff-hub/handoff-hub/internal/application/scheduler"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/ledgerstore"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/memory"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/pubsub"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	led := memory.NewLedger()
	txs := ledgerstore.NewTransactionStore(led)
	resolutions := ledgerstore.NewResolutionStore(led)
	trustSvc := trustledger.NewService(ledgerstore.NewTrustStore(led), logger)
	metrics := observability.NewNop()
	bus := pubsub.NewBus(logger)
	locks := engine.NewKeyedMutex()

	eng := engine.NewService(txs, trustSvc, bus, locks, metrics, logger, engine.Config{})
	disp := disputes.NewService(txs, resolutions, trustSvc, bus, locks, metrics, logger)
	auto := automation.NewService(nil, txs, trustSvc, eng, bus, metrics, logger, automation.Config{})
	sched := scheduler.New(txs, eng, bus, metrics, logger, scheduler.Config{})
	orch := orchestrator.New(eng, disp, trustSvc, auto, sched, txs, logger)

	srv := httptest.NewServer(NewServer(orch, bus, nil, testSecret, logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doAs(t *testing.T, srv *httptest.Server, partyID, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if partyID != "" {
		req.Header.Set("X-Party-Id", partyID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createTx(t *testing.T, srv *httptest.Server) uuid.UUID {
	t.Helper()
	resp := doAs(t, srv, "acme", http.MethodPost, "/v1/transactions", map[string]interface{}{
		"sender": "acme", "receiver": "globex", "itemType": "pallet", "quantity": 10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, resp, &body)
	return body.ID
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing identity", func(t *testing.T) {
		resp := doAs(t, srv, "", http.MethodGet, "/v1/performance", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("header identity", func(t *testing.T) {
		resp := doAs(t, srv, "acme", http.MethodGet, "/v1/performance", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("valid bearer token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"party_id": "acme",
			"role":     "supplier",
		}).SignedString(testSecret)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/performance", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("bad signature", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"party_id": "acme",
		}).SignedString([]byte("other-secret"))
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/performance", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token without party claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"role": "supplier",
		}).SignedString(testSecret)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/performance", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("health needs no identity", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestTransactionEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("create by a non-party is forbidden", func(t *testing.T) {
		resp := doAs(t, srv, "initech", http.MethodPost, "/v1/transactions", map[string]interface{}{
			"sender": "acme", "receiver": "globex", "itemType": "pallet", "quantity": 10,
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp := doAs(t, srv, "acme", http.MethodPost, "/v1/transactions", map[string]interface{}{
			"sender": "acme", "receiver": "globex", "itemType": "pallet", "quantity": 10, "surprise": true,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("dual confirmation over the wire", func(t *testing.T) {
		id := createTx(t, srv)

		resp := doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var sent struct {
			State string `json:"state"`
		}
		decode(t, resp, &sent)
		assert.Equal(t, "SENT", sent.State)

		resp = doAs(t, srv, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-received", id), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var received struct {
			State string `json:"state"`
		}
		decode(t, resp, &received)
		assert.Equal(t, "VALIDATED", received.State)

		resp = doAs(t, srv, "acme", http.MethodGet, fmt.Sprintf("/v1/transactions/%s/history", id), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var history struct {
			Versions []json.RawMessage `json:"versions"`
		}
		decode(t, resp, &history)
		assert.Len(t, history.Versions, 3)
	})

	t.Run("error mapping", func(t *testing.T) {
		resp := doAs(t, srv, "acme", http.MethodGet, "/v1/transactions/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		id := createTx(t, srv)
		resp = doAs(t, srv, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = doAs(t, srv, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-received", id), nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "receipt before dispatch")

		resp = doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp = doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "retry fails closed")

		resp = doAs(t, srv, "acme", http.MethodGet, "/v1/transactions/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestDisputeEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createTx(t, srv)
	resp := doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doAs(t, srv, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/dispute", id), map[string]interface{}{
		"reason": "NOT_RECEIVED",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var disputed struct {
		State   string `json:"state"`
		Dispute struct {
			DisputeID uuid.UUID `json:"disputeId"`
		} `json:"dispute"`
	}
	decode(t, resp, &disputed)
	assert.Equal(t, "DISPUTED", disputed.State)

	resp = doAs(t, srv, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/evidence", id), map[string]interface{}{
		"type": "pod_scan", "contentHash": "deadbeef",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doAs(t, srv, "acme", http.MethodGet, fmt.Sprintf("/v1/transactions/%s/evidence/report", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		Total  int    `json:"total"`
		Digest string `json:"digest"`
	}
	decode(t, resp, &report)
	assert.Equal(t, 1, report.Total)
	assert.NotEmpty(t, report.Digest)

	resp = doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/dispute/accept", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolution struct {
		Winner         string `json:"winner"`
		RequiredAction string `json:"requiredAction"`
	}
	decode(t, resp, &resolution)
	assert.Equal(t, "globex", resolution.Winner)
	assert.Equal(t, "RESEND", resolution.RequiredAction)

	resp = doAs(t, srv, "acme", http.MethodGet, fmt.Sprintf("/v1/disputes/%s/resolution", disputed.Dispute.DisputeID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doAs(t, srv, "globex", http.MethodGet, "/v1/parties/globex/pending-actions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending struct {
		Pending []json.RawMessage `json:"pending"`
	}
	decode(t, resp, &pending)
	assert.Len(t, pending.Pending, 1)

	resp = doAs(t, srv, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/dispute/accept", id), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "second acceptance fails closed")
}

func TestTrustEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("score is published on the external scale", func(t *testing.T) {
		resp := doAs(t, srv, "acme", http.MethodGet, "/v1/parties/acme/trust", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Score    float64 `json:"score"`
			ScaleMax float64 `json:"scaleMax"`
		}
		decode(t, resp, &body)
		assert.Equal(t, 50.0, body.Score, "neutral start")
		assert.Equal(t, 100.0, body.ScaleMax)
	})

	t.Run("adjustments", func(t *testing.T) {
		resp := doAs(t, srv, "acme", http.MethodPost, "/v1/parties/acme/trust/adjustments", map[string]interface{}{
			"adjustment": "DISPUTE_FAULT",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Score float64 `json:"score"`
		}
		decode(t, resp, &body)
		assert.InDelta(t, 45.0, body.Score, 1e-9)

		resp = doAs(t, srv, "acme", http.MethodPost, "/v1/parties/acme/trust/adjustments", map[string]interface{}{
			"adjustment": "BOGUS",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAdminEndpoints(t *testing.T) {
	srv := newTestServer(t)
	createTx(t, srv)

	resp := doAs(t, srv, "ops", http.MethodPost, "/v1/scheduler/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scan struct {
		Expired int `json:"expired"`
	}
	decode(t, resp, &scan)
	assert.Zero(t, scan.Expired)

	resp = doAs(t, srv, "ops", http.MethodGet, "/v1/performance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var perf struct {
		Total   int            `json:"total"`
		ByState map[string]int `json:"byState"`
	}
	decode(t, resp, &perf)
	assert.Equal(t, 1, perf.Total)
	assert.Equal(t, 1, perf.ByState["INITIATED"])
}
