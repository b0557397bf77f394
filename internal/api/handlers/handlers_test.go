package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/ticketline/internal/domain"
	"github.com/avolkov/ticketline/internal/jobs"
	"github.com/avolkov/ticketline/internal/lineage"
	"github.com/avolkov/ticketline/internal/store/inmemory"
)

// capturingPublisher records published jobs without running them.
type capturingPublisher struct {
	published []*jobs.ReconcileNotificationJob
	err       error
}

func (p *capturingPublisher) PublishReconcile(ctx context.Context, job *jobs.ReconcileNotificationJob) error {
	if p.err != nil {
		return p.err
	}
	if job.JobID == "" {
		job.JobID = "job-1"
	}
	p.published = append(p.published, job)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func TestWebhookHandler_AcceptsAndEnqueues(t *testing.T) {
	pub := &capturingPublisher{}
	h := NewWebhookHandler(pub, nil, zerolog.Nop())

	body := "txn_id=TXN-1&payment_status=Completed&mc_gross=15.00"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleNotification(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, body, pub.published[0].RawBody)
	assert.Equal(t, "TXN-1", pub.published[0].GatewayTxnID)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])
}

func TestWebhookHandler_EmptyBody(t *testing.T) {
	pub := &capturingPublisher{}
	h := NewWebhookHandler(pub, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(""))
	rec := httptest.NewRecorder()

	h.HandleNotification(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.published)
}

func TestWebhookHandler_QueueUnavailable(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("queue is closed")}
	h := NewWebhookHandler(pub, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader("txn_id=TXN-1"))
	rec := httptest.NewRecorder()

	h.HandleNotification(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func seedChain(t *testing.T, ledger *inmemory.Store) {
	t.Helper()
	ctx := context.Background()

	n := &domain.Notification{
		ID:            "n1",
		GatewayTxnID:  "TXN-1",
		PaymentStatus: domain.PaymentStatusCompleted,
		ReceivedAt:    time.Now().UTC(),
	}
	root := &domain.LedgerTransaction{
		ID:                     "t1",
		ItemID:                 "item-a",
		LinkedNotificationID:   "n1",
		LinkedNotificationKind: domain.LinkedNotificationKindIPN,
		Status:                 domain.StatusSettled,
		Quantity:               1,
		Amount:                 15.00,
		Currency:               "USD",
		Leaf:                   true,
	}
	require.NoError(t, ledger.ApplyNotification(ctx, n, []*domain.LedgerTransaction{root}))

	child := &domain.LedgerTransaction{
		ID:                  "t2",
		ParentTransactionID: "t1",
		ItemID:              "item-a",
		Status:              domain.StatusUserRevoked,
		Quantity:            1,
		Amount:              15.00,
		Currency:            "USD",
		Leaf:                true,
	}
	require.NoError(t, ledger.AppendChild(ctx, child))
}

func TestTransactionsHandler_GetTransaction(t *testing.T) {
	ledger := inmemory.NewStore()
	seedChain(t, ledger)
	h := NewTransactionsHandler(ledger, lineage.NewService(ledger), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetTransaction(rec, httptest.NewRequest(http.MethodGet, "/api/transactions/t1", nil), "t1")

	assert.Equal(t, http.StatusOK, rec.Code)
	var got domain.LedgerTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ID)
	assert.False(t, got.Leaf)
}

func TestTransactionsHandler_GetTransaction_NotFound(t *testing.T) {
	ledger := inmemory.NewStore()
	h := NewTransactionsHandler(ledger, lineage.NewService(ledger), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetTransaction(rec, httptest.NewRequest(http.MethodGet, "/api/transactions/nope", nil), "nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionsHandler_GetLineage(t *testing.T) {
	ledger := inmemory.NewStore()
	seedChain(t, ledger)
	h := NewTransactionsHandler(ledger, lineage.NewService(ledger), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetLineage(rec, httptest.NewRequest(http.MethodGet, "/api/transactions/t1/lineage", nil), "t1")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chain  []*domain.LedgerTransaction `json:"chain"`
		Length int                         `json:"length"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Length)
	assert.Equal(t, "t1", resp.Chain[0].ID)
	assert.Equal(t, "t2", resp.Chain[1].ID)
}

func TestTransactionsHandler_ListByNotification(t *testing.T) {
	ledger := inmemory.NewStore()
	seedChain(t, ledger)
	h := NewTransactionsHandler(ledger, lineage.NewService(ledger), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ListByNotification(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/n1/transactions", nil), "n1")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Transactions []*domain.LedgerTransaction `json:"transactions"`
		Count        int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "t1", resp.Transactions[0].ID)
}
