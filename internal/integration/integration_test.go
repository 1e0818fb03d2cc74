//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/handoff-hub/handoff-hub/internal/api/http"
	"github.com/handoff-hub/handoff-hub/internal/application/automation"
	"github.com/handoff-hub/handoff-hub/internal/application/disputes"
	"github.com/handoff-hub/handoff-hub/internal/application/engine"
	"github.com/handoff-hub/handoff-hub/internal/application/orchestrator"
	"github.com/handoff-hub/handoff-hub/internal/application/scheduler"
	"github.com/handoff-hub/handoff-hub/internal/application/trustledger"
	"github.com/handoff-hub/handoff-hub/internal/domain/trust"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/ledgerstore"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/memory"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/pubsub"
	"github.com/handoff-hub/handoff-hub/internal/infrastructure/rules"
	"github.com/handoff-hub/handoff-hub/internal/observability"
)

// stack wires the full service graph over the in-memory ledger, mirroring
// cmd/server without the process scaffolding.
type stack struct {
	srv        *httptest.Server
	txs        *ledgerstore.TransactionStore
	trustStore *ledgerstore.TrustStore
}

const ruleDoc = `
[[rules]]
id = "trusted-instant"
name = "Instant validation for trusted pairs"
action = "instant_validate"
priority = 100
enabled = true

  [[rules.conditions]]
  kind = "trust_score"
  target = "min"
  operator = ">="
  threshold = 0.9
`

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	led := memory.NewLedger()
	txs := ledgerstore.NewTransactionStore(led)
	resolutions := ledgerstore.NewResolutionStore(led)
	trustStore := ledgerstore.NewTrustStore(led)
	trustSvc := trustledger.NewService(trustStore, logger)
	metrics := observability.NewNop()
	bus := pubsub.NewBus(logger)
	locks := engine.NewKeyedMutex()

	ruleSet, err := rules.Parse([]byte(ruleDoc))
	require.NoError(t, err)

	eng := engine.NewService(txs, trustSvc, bus, locks, metrics, logger, engine.Config{})
	disp := disputes.NewService(txs, resolutions, trustSvc, bus, locks, metrics, logger)
	auto := automation.NewService(ruleSet, txs, trustSvc, eng, bus, metrics, logger, automation.Config{})
	sched := scheduler.New(txs, eng, bus, metrics, logger, scheduler.Config{})
	orch := orchestrator.New(eng, disp, trustSvc, auto, sched, txs, logger)

	srv := httptest.NewServer(httpapi.NewServer(orch, bus, nil, nil, logger).Router())
	t.Cleanup(srv.Close)
	return &stack{srv: srv, txs: txs, trustStore: trustStore}
}

func (s *stack) do(t *testing.T, partyID, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Party-Id", partyID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (s *stack) seedScore(t *testing.T, partyID string, value float64) {
	t.Helper()
	score := trust.NewScore(partyID)
	score.Score = value
	require.NoError(t, s.trustStore.Put(context.Background(), score))
}

func (s *stack) createTx(t *testing.T, sender, receiver string, qty int) uuid.UUID {
	t.Helper()
	resp, body := s.do(t, sender, http.MethodPost, "/v1/transactions", map[string]interface{}{
		"sender": sender, "receiver": receiver, "itemType": "pallet", "quantity": qty,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var tx struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &tx))
	return tx.ID
}

func (s *stack) txState(t *testing.T, viewer string, id uuid.UUID) string {
	t.Helper()
	resp, body := s.do(t, viewer, http.MethodGet, "/v1/transactions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tx struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &tx))
	return tx.State
}

func TestSettlementLifecycle(t *testing.T) {
	s := newStack(t)
	id := s.createTx(t, "acme", "globex", 10)

	resp, _ := s.do(t, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SENT", s.txState(t, "acme", id))

	resp, _ = s.do(t, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-received", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VALIDATED", s.txState(t, "acme", id))

	// Both parties are credited for the settled transfer.
	for _, party := range []string{"acme", "globex"} {
		resp, body := s.do(t, party, http.MethodGet, "/v1/parties/"+party+"/trust", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var score struct {
			Score                  float64 `json:"score"`
			SuccessfulTransactions int     `json:"successfulTransactions"`
		}
		require.NoError(t, json.Unmarshal(body, &score))
		assert.Equal(t, 1, score.SuccessfulTransactions, party)
		assert.Equal(t, 100.0, score.Score, party)
	}
}

func TestInstantValidationForTrustedPair(t *testing.T) {
	s := newStack(t)
	s.seedScore(t, "acme", 0.95)
	s.seedScore(t, "globex", 0.92)

	id := s.createTx(t, "acme", "globex", 10)

	// The automation hook fires on creation; the trusted pair skips the
	// manual confirmations entirely.
	assert.Equal(t, "VALIDATED", s.txState(t, "acme", id))
}

func TestDisputeArbitrationFlow(t *testing.T) {
	s := newStack(t)
	id := s.createTx(t, "acme", "globex", 10)

	resp, _ := s.do(t, "acme", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/confirm-sent", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/dispute", id), map[string]interface{}{
		"reason": "QUANTITY_MISMATCH", "requestedQty": 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "DISPUTED", s.txState(t, "acme", id))

	var disputed struct {
		Dispute struct {
			DisputeID uuid.UUID `json:"disputeId"`
		} `json:"dispute"`
	}
	require.NoError(t, json.Unmarshal(body, &disputed))

	resp, _ = s.do(t, "globex", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/evidence", id), map[string]interface{}{
		"type": "photo", "contentHash": "deadbeef",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, "arbiter-1", http.MethodPost, fmt.Sprintf("/v1/transactions/%s/dispute/resolve", id), map[string]interface{}{
		"decision": "IN_FAVOR_RECEIVER", "notes": "short shipment confirmed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res struct {
		Winner         string `json:"winner"`
		Loser          string `json:"loser"`
		RequiredAction string `json:"requiredAction"`
		ActionQuantity int    `json:"actionQuantity"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "globex", res.Winner)
	assert.Equal(t, "acme", res.Loser)
	assert.Equal(t, "RESEND_PARTIAL", res.RequiredAction)
	assert.Equal(t, 4, res.ActionQuantity)
	assert.Equal(t, "RESOLVED", s.txState(t, "acme", id))

	// The loser resends the shortfall and closes the follow-up.
	followUp := s.createTx(t, "acme", "globex", 4)
	resp, body = s.do(t, "acme", http.MethodPost, fmt.Sprintf("/v1/disputes/%s/complete", disputed.Dispute.DisputeID), map[string]interface{}{
		"followUpTxId": followUp.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = s.do(t, "acme", http.MethodPost, fmt.Sprintf("/v1/disputes/%s/complete", disputed.Dispute.DisputeID), map[string]interface{}{
		"followUpTxId": followUp.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTimeoutScanOverWire(t *testing.T) {
	s := newStack(t)
	id := s.createTx(t, "acme", "globex", 10)

	// Backdate the armed window so the scan sees it expired.
	ctx := context.Background()
	tx, err := s.txs.GetByID(ctx, id)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	tx.TimeoutDeadline = &past
	require.NoError(t, s.txs.Update(ctx, tx))

	resp, body := s.do(t, "ops", http.MethodPost, "/v1/scheduler/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scan struct {
		Expired int `json:"expired"`
	}
	require.NoError(t, json.Unmarshal(body, &scan))
	assert.Equal(t, 1, scan.Expired)
	assert.Equal(t, "TIMEOUT", s.txState(t, "acme", id))
}

func TestEventStream(t *testing.T) {
	s := newStack(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/v1/events?types=transaction.created", nil)
	require.NoError(t, err)
	req.Header.Set("X-Party-Id", "watcher")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	id := s.createTx(t, "acme", "globex", 10)

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "transaction.created", eventLine)

	var payload struct {
		TransactionID uuid.UUID `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal([]byte(dataLine), &payload))
	assert.Equal(t, id, payload.TransactionID)
}
