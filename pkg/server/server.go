package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelchain/modelchain/pkg/capability"
	"github.com/modelchain/modelchain/pkg/config"
	"github.com/modelchain/modelchain/pkg/ledger"
	"github.com/modelchain/modelchain/pkg/memory"
	"github.com/modelchain/modelchain/pkg/router"
	"github.com/modelchain/modelchain/pkg/store"
)

// Server is the HTTP surface over the routing, memory and record
// components.
type Server struct {
	cfg    *config.ServerConfig
	engine *capability.Engine
	router *router.Router
	memory *memory.Manager
	ledger *ledger.Ledger
	store  *store.Store

	httpServer *http.Server
}

func New(cfg *config.ServerConfig, eng *capability.Engine, rt *router.Router, mem *memory.Manager, led *ledger.Ledger, st *store.Store) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		router: rt,
		memory: mem,
		ledger: led,
		store:  st,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router with all API endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	if config.BoolValue(s.cfg.MetricsEnabled, true) {
		r.Use(metricsMiddleware)
	}
	if config.BoolValue(s.cfg.CORSEnabled, true) {
		r.Use(corsMiddleware)
	}

	r.Get("/health", s.handleHealth)
	if config.BoolValue(s.cfg.MetricsEnabled, true) {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/models/register", s.handleRegisterModel)
		r.Get("/models", s.handleListModels)
		r.Get("/models/{id}", s.handleGetModel)
		r.Post("/models/{id}/verify", s.handleVerifyModel)

		r.Post("/users/register", s.handleRegisterUser)

		r.Post("/chat/register-conversation", s.handleRegisterConversation)
		r.Post("/route/get-conversation", s.handleGetConversation)
		r.Post("/chat/route", s.handleChatRoute)
		r.Get("/conversations", s.handleListConversations)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)

		r.Post("/performance/report", s.handlePerformanceReport)
		r.Get("/performance/{model_id}", s.handlePerformanceHistory)
		r.Post("/violations/report", s.handleViolationReport)
		r.Get("/violations/{model_id}", s.handleViolationHistory)

		r.Get("/trust-scores", s.handleTrustScores)
		r.Get("/trust-scores/{model_id}", s.handleTrustScore)

		r.Get("/dashboard/overview", s.handleDashboardOverview)
		r.Post("/routing/commit-batch", s.handleCommitBatch)
	})

	return r
}

// Start serves until ctx is cancelled, then drains connections within
// the configured grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("Shutting down HTTP server", "grace", grace)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	s.memory.Wait()
	return nil
}
