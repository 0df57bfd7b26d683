// Package core provides the HTTP chassis for the entitlement API. It builds a
// chi router, applies the cross-cutting middleware (recovery, request IDs,
// logging, metrics, authentication) and lets the entry point mount domain
// handlers under /v1.
package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"invoicely/internal/config"
	"invoicely/internal/telemetry"
)

// RouteRegistrar mounts a group of routes on the /v1 router.
type RouteRegistrar func(r chi.Router)

// Server holds the chassis dependencies.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       telemetry.Recorder
	Authenticator Authenticator

	HealthProbes      []HealthProbe
	V1RouteRegistrars []RouteRegistrar

	// Closers run on Shutdown in order.
	Closers []func() error

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately via MountRoutes
// so tests can register their own.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers.
func (s *Server) Shutdown(_ context.Context) error {
	s.Logger.Info("server shutdown initiated")
	var errs []error
	for _, c := range s.Closers {
		if err := c(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	s.Logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
