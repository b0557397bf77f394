package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/ticketline/internal/api/middleware"
	"github.com/avolkov/ticketline/internal/archive"
	"github.com/avolkov/ticketline/internal/jobs"
	"github.com/avolkov/ticketline/internal/lineage"
	"github.com/avolkov/ticketline/internal/store"
)

// maxBodyBytes caps webhook bodies; gateway notifications are small.
const maxBodyBytes = 1 << 20

// WebhookHandler accepts gateway notification deliveries. It acks fast and
// defers reconciliation to the job queue: the gateway redelivers on timeout,
// and the engine's idempotency guard makes redelivery harmless.
type WebhookHandler struct {
	publisher jobs.Publisher
	archiver  archive.Archiver // nil when archival is disabled
	log       zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(publisher jobs.Publisher, archiver archive.Archiver, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		archiver:  archiver,
		log:       log,
	}
}

// HandleNotification handles POST /webhooks/gateway
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty notification body")
		return
	}

	// Pull the gateway txn id out up front for job listings; the decoder
	// re-parses the body authoritatively in the worker.
	gatewayTxnID := ""
	if values, err := url.ParseQuery(string(body)); err == nil {
		gatewayTxnID = values.Get("txn_id")
	}

	job := &jobs.ReconcileNotificationJob{
		RawBody:      string(body),
		GatewayTxnID: gatewayTxnID,
	}

	// Archival is best-effort: a broken archive must not bounce payments.
	if h.archiver != nil {
		uri, err := h.archiver.Archive(ctx, body, time.Now())
		if err != nil {
			h.log.Error().Err(err).Str("gateway_txn_id", gatewayTxnID).Msg("Failed to archive notification body")
		} else {
			job.ArchiveURI = uri
		}
	}

	if err := h.publisher.PublishReconcile(ctx, job); err != nil {
		h.log.Error().Err(err).Str("gateway_txn_id", gatewayTxnID).Msg("Failed to enqueue notification")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to accept notification")
		return
	}

	h.log.Info().
		Str("gateway_txn_id", gatewayTxnID).
		Str("job_id", job.JobID).
		Msg("Notification accepted")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"job_id": job.JobID})
}

// TransactionsHandler serves ledger reads.
type TransactionsHandler struct {
	ledger   store.LedgerStore
	lineages *lineage.Service
	log      zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(ledger store.LedgerStore, lineages *lineage.Service, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger:   ledger,
		lineages: lineages,
		log:      log,
	}
}

// GetTransaction handles GET /api/transactions/:id
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.ledger.GetTransaction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", id).Msg("Failed to get transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// GetLineage handles GET /api/transactions/:id/lineage
func (h *TransactionsHandler) GetLineage(w http.ResponseWriter, r *http.Request, id string) {
	chains, err := h.lineages.ForestByIDs(r.Context(), []string{id})
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", id).Msg("Failed to compute lineage")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute lineage")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"chain":  chains[0],
		"length": len(chains[0]),
	})
}

// ListByNotification handles GET /api/notifications/:id/transactions
func (h *TransactionsHandler) ListByNotification(w http.ResponseWriter, r *http.Request, notificationID string) {
	txns, err := h.ledger.ListByLinkedNotification(r.Context(), notificationID)
	if err != nil {
		h.log.Error().Err(err).Str("notification_id", notificationID).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

// JobsHandler serves job status reads.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.JobFilter{
		GatewayTxnID: r.URL.Query().Get("gateway_txn_id"),
		Status:       jobs.JobStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/:id
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
