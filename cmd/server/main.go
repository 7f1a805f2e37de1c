// PromptDeck - multi-provider AI session orchestrator
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/akolesov/promptdeck/internal/api"
	"github.com/akolesov/promptdeck/internal/config"
	"github.com/akolesov/promptdeck/internal/events"
	"github.com/akolesov/promptdeck/internal/middleware"
	"github.com/akolesov/promptdeck/internal/orchestrator"
	"github.com/akolesov/promptdeck/internal/store"
	"github.com/akolesov/promptdeck/internal/surface"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	host, err := surface.NewDockerHost(surface.HostOptions{
		Image:                cfg.Surface.Image,
		Network:              cfg.Surface.Network,
		DebugPort:            cfg.Surface.DebugPort,
		ProvisionConcurrency: cfg.Surface.ProvisionConcurrency,
		ReadyTimeout:         cfg.Surface.ReadyTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize surface host", "error", err)
		os.Exit(1)
	}

	networkID, err := host.EnsureNetwork(context.Background())
	if err != nil {
		slog.Error("Failed to ensure surface network", "error", err)
		os.Exit(1)
	}
	slog.Info("Surface network ready", "network_id", networkID)

	hub := events.NewHub()
	orch := orchestrator.New(repo, host, hub, cfg.CaptureSettleDelay)

	if err := orch.LoadPersistedSessions(context.Background()); err != nil {
		slog.Error("Failed to restore persisted sessions", "error", err)
	}

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(orch, repo)
	captureHandler := api.NewCaptureHandler(repo)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := events.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	captureHandler.RegisterRoutes(r)

	// Lifecycle event stream.
	r.Get("/ws/events", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived event streams
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Save state and release surfaces; storage partitions survive for the
	// next startup.
	orch.Destroy(shutdownCtx)

	slog.Info("Server stopped successfully")
}
