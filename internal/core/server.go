// Package core provides the API chassis for the payment reconciliation
// service. It creates a chi router and enforces cross-cutting concerns --
// request correlation, logging, panics, and error envelopes -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"polarsync/internal/config"
)

// RouteRegistrar mounts a group of domain handler routes onto the v1 router.
// The indirection keeps core free of handler package imports.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by all HTTP handlers and owns the
// router. Handlers are mounted by the application entry point through
// RouteRegistrars.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	// WebhookRegistrars are mounted under /webhooks by MountRoutes.
	// Webhook routes sit outside /v1: providers are configured with a
	// stable URL that must not move with API versions.
	WebhookRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the chassis. Routes are mounted separately via
// MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-owned resources.
// Database pools are owned by main and closed there.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
