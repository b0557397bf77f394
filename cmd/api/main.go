package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avolkov/ticketline/internal/api/handlers"
	"github.com/avolkov/ticketline/internal/api/middleware"
	"github.com/avolkov/ticketline/internal/archive"
	"github.com/avolkov/ticketline/internal/jobs"
	jobsinmemory "github.com/avolkov/ticketline/internal/jobs/inmemory"
	"github.com/avolkov/ticketline/internal/lineage"
	"github.com/avolkov/ticketline/internal/logger"
	"github.com/avolkov/ticketline/internal/reconcile"
	"github.com/avolkov/ticketline/internal/store/boltdb"
)

func main() {
	// Parse command-line flags
	var (
		port     = flag.String("port", "8080", "HTTP server port")
		dbPath   = flag.String("db", "ticketline.db", "Path to the ledger database file")
		bucket   = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for raw notification archival (or set GCS_BUCKET env)")
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.NewWithLevel(*logLevel)

	ctx := context.Background()

	// Open the ledger database
	ledger, err := boltdb.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open ledger database")
	}
	defer ledger.Close()

	// Raw notification archival is optional
	var archiver archive.Archiver
	if *bucket == "" {
		log.Warn().Msg("No GCS bucket configured - raw notification archival is disabled")
	} else {
		gcsArchive, err := archive.NewGCSArchive(ctx, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create notification archive")
		}
		defer gcsArchive.Close()
		archiver = gcsArchive
	}

	engine := reconcile.NewEngine(ledger, ledger, ledger, log)
	lineages := lineage.NewService(ledger)

	// Initialize job infrastructure
	jobStore := jobsinmemory.NewStore()
	jobQueue := jobsinmemory.NewQueue(100, jobStore)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// Create job handler for processing reconciliation jobs
	jobHandler := func(ctx context.Context, job jobs.Job) error {
		reconcileJob, ok := job.(*jobs.ReconcileNotificationJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", reconcileJob.JobID).
			Str("gateway_txn_id", reconcileJob.GatewayTxnID).
			Msg("Processing notification")

		values, err := url.ParseQuery(reconcileJob.RawBody)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", reconcileJob.JobID).
				Msg("Failed to parse notification body")
			return err
		}

		outcome, err := engine.DecodeAndReconcile(ctx, values)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", reconcileJob.JobID).
				Str("gateway_txn_id", reconcileJob.GatewayTxnID).
				Msg("Reconciliation failed")
			return err
		}

		log.Info().
			Str("job_id", reconcileJob.JobID).
			Str("gateway_txn_id", reconcileJob.GatewayTxnID).
			Str("outcome", string(outcome.Kind)).
			Int("transactions", len(outcome.Transactions)).
			Msg("Notification reconciled")

		return nil
	}

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting reconciliation worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Reconciliation worker stopped with error")
		}
	}()

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(jobQueue, archiver, log)
	transactionsHandler := handlers.NewTransactionsHandler(ledger, lineages, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Gateway webhook endpoint
	mux.HandleFunc("/webhooks/gateway", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			webhookHandler.HandleNotification(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Transactions endpoints
	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
		if rest == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Transaction ID is required")
			return
		}
		if id, ok := strings.CutSuffix(rest, "/lineage"); ok {
			transactionsHandler.GetLineage(w, r, id)
			return
		}
		transactionsHandler.GetTransaction(w, r, rest)
	})

	// Notification -> transactions lookup
	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
		notificationID, ok := strings.CutSuffix(rest, "/transactions")
		if !ok || notificationID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Notification ID is required")
			return
		}
		transactionsHandler.ListByNotification(w, r, notificationID)
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Cancel worker context
	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	// Close job queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
