// Agent chat reference server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agent-chat/internal/agent"
	"github.com/ashureev/agent-chat/internal/api"
	"github.com/ashureev/agent-chat/internal/config"
	"github.com/ashureev/agent-chat/internal/feed"
	"github.com/ashureev/agent-chat/internal/identity"
	"github.com/ashureev/agent-chat/internal/middleware"
	"github.com/ashureev/agent-chat/internal/retention"
	"github.com/ashureev/agent-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const feedReplaySize = 50

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "provider", cfg.Provider, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	documents, err := agent.NewDocuments(cfg.DocumentsDir, cfg.MaxUploadBytes, repo, logger)
	if err != nil {
		slog.Error("Failed to initialize document storage", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := feed.NewHub(feedReplaySize, cfg.CORSOrigins, logger)
	service := agent.NewService(newProcessor(cfg), repo, documents, logger,
		agent.WithPublisher(hub),
		agent.WithHistoryTurns(cfg.HistoryTurns),
	)
	slog.Info("Agent processor ready", "processor", service.ProcessorName())

	// Initialize handlers.
	agentHandler := agent.NewHandler(service, documents, conversationLogger, agent.HandlerConfig{
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	})
	defer agentHandler.Close()

	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout)
	configHandler := api.NewConfigHandler(cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware)

	// Public routes.
	healthHandler.RegisterHealth(r)
	configHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/feed", hub.ServeHTTP)

	// Create server.
	// The feed keeps websocket connections open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention worker.
	retention.NewWorker(repo, documents, cfg.Retention, logger).Start(ctx)

	// Start gRPC health server.
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		grpcHealth := api.NewGRPCHealth(repo, 15*time.Second, cfg.HealthCheckTimeout, logger)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newProcessor(cfg *config.Config) agent.Processor {
	if cfg.Provider == config.ProviderOpenAI {
		return agent.NewOpenAIProcessor(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	}
	return agent.NewEchoProcessor()
}
