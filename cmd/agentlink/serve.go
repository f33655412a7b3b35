package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ashureev/agentlink/internal/agent"
	"github.com/ashureev/agentlink/internal/api"
	"github.com/ashureev/agentlink/internal/config"
	"github.com/ashureev/agentlink/internal/middleware"
	"github.com/ashureev/agentlink/internal/session"
	"github.com/ashureev/agentlink/internal/store"
	"github.com/ashureev/agentlink/internal/stream"
	"github.com/ashureev/agentlink/internal/viewer"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func sessionOptions(cfg *config.Config, logger *slog.Logger) session.Options {
	return session.Options{
		Backoff: stream.Backoff{
			Initial:    cfg.Stream.BackoffInitial,
			Max:        cfg.Stream.BackoffMax,
			Multiplier: cfg.Stream.BackoffMultiplier,
		},
		Logger:        logger,
		ResponseRate:  rate.Limit(cfg.Sessions.ResponseRate),
		ResponseBurst: cfg.Sessions.ResponseBurst,
	}
}

func dialAgent(cfg *config.Config, logger *slog.Logger) (*agent.GrpcClient, error) {
	client, err := agent.NewGrpcClient(agent.GrpcClientConfig{
		Address:        cfg.Agent.Address,
		ConnectTimeout: cfg.Agent.ConnectTimeout,
		RequestTimeout: cfg.Agent.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect agent service: %w", err)
	}
	return client, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "agent_addr", cfg.Agent.Address)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	client, err := dialAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sessions := session.NewManager(client, sessionOptions(cfg, logger))
	defer sessions.Close()

	conns := viewer.NewConnManager()
	sessions.OnDetach(conns.CloseAgent)

	base := api.NewHandler(sessions, repo, logger)
	wsHandler := viewer.NewWebSocketHandler(sessions, conns, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	allowed := []string{"*"}
	if !cfg.IsDevelopment() && cfg.FrontendURL != "" {
		allowed = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowed))

	api.NewHealthHandler(base).RegisterHealth(r)
	api.NewAgentHandler(base).RegisterRoutes(r)
	api.NewInputHandler(base).RegisterRoutes(r)
	r.Get("/ws/agents/{agentID}", wsHandler.ServeHTTP)

	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Sessions.IdleTTL > 0 {
		sessions.StartReaper(ctx, cfg.Sessions.IdleTTL, cfg.Sessions.ReaperInterval)
	}
	if cfg.Sessions.HistoryRetention > 0 {
		store.StartPruneWorker(ctx, repo, cfg.Sessions.HistoryRetention, time.Hour)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped successfully")
	return nil
}
