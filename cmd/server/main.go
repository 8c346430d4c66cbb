package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pesio-ai/be-hr-approvals/internal/client"
	"github.com/pesio-ai/be-hr-approvals/internal/config"
	"github.com/pesio-ai/be-hr-approvals/internal/handler"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/database"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-hr-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-hr-approvals/internal/repository"
	"github.com/pesio-ai/be-hr-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("aggregation_policy", string(cfg.Engine.AggregationPolicy)).
		Msg("Starting HR Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	submissionRepo := repository.NewSubmissionRepository(db, cfg.Engine.AggregationPolicy)
	stepsRepo := repository.NewApprovalStepsRepository(db)
	auditRepo := repository.NewApprovalAuditRepository(db)

	// Initialize platform service clients
	directoryClient := client.NewDirectoryClient(cfg.Clients.DirectoryURL, cfg.Clients.HTTPTimeout)
	scheduleClient := client.NewScheduleClient(cfg.Clients.ScheduleURL, cfg.Clients.HTTPTimeout)

	publisher, err := client.NewNotificationPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create notification publisher")
	}
	defer publisher.Close()

	log.Info().
		Str("directory_url", cfg.Clients.DirectoryURL).
		Str("schedule_url", cfg.Clients.ScheduleURL).
		Msg("Platform service clients initialized")

	// Initialize services
	dispatcher := service.NewSideEffectDispatcher(publisher, cfg.Engine.DispatchQueueSize, log)
	approvalService := service.NewApprovalService(
		submissionRepo, stepsRepo, auditRepo,
		directoryClient, scheduleClient,
		dispatcher, log,
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Submission routes
	mux.HandleFunc("/api/v1/submissions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListSubmissions(w, r)
		case http.MethodPost:
			httpHandler.CreateSubmission(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/submissions/get", requireMethod(http.MethodGet, httpHandler.GetSubmission))
	mux.HandleFunc("/api/v1/submissions/chain", requireMethod(http.MethodPut, httpHandler.ReplaceChain))
	mux.HandleFunc("/api/v1/submissions/delete", requireMethod(http.MethodDelete, httpHandler.DeleteSubmission))
	mux.HandleFunc("/api/v1/submissions/audit", requireMethod(http.MethodGet, httpHandler.AuditTrail))
	mux.HandleFunc("/api/v1/steps/get", requireMethod(http.MethodGet, httpHandler.GetStep))
	mux.HandleFunc("/api/v1/steps/decide", requireMethod(http.MethodPost, httpHandler.DecideStep))
	mux.HandleFunc("/api/v1/approvals/pending", requireMethod(http.MethodGet, httpHandler.PendingApprovals))

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Flush queued side effects before dropping the NATS connection
	dispatcher.Close()

	log.Info().Msg("Server stopped")
}

// requireMethod rejects requests whose method does not match.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
