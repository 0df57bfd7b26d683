// Package main is the entry point for the Invoicely entitlement API server.
//
// It loads configuration, assembles the entitlement service, builds the HTTP
// server with the core chassis (middleware, routing, health checks) and
// starts listening. A cron schedule runs the batch recheck in-process so a
// single binary covers local and small deployments; production schedules
// cmd/recheck-worker instead.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"invoicely/internal/api/handlers"
	"invoicely/internal/app"
	"invoicely/internal/auth"
	"invoicely/internal/config"
	"invoicely/internal/core"
	"invoicely/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("invoicely API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps, err := app.New(startCtx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("assembling dependencies: %w", err)
	}

	srv, err := buildServer(cfg, deps, logger)
	if err != nil {
		_ = deps.Close()
		return err
	}

	scheduler, err := startRecheckSchedule(cfg, deps, logger)
	if err != nil {
		_ = deps.Close()
		return err
	}
	if scheduler != nil {
		defer func() { <-scheduler.Stop().Done() }()
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the chassis and mounts the entitlement and webhook routes.
func buildServer(cfg *config.Config, deps *app.App, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = deps.Metrics
	srv.Closers = append(srv.Closers, deps.Closers()...)
	srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{ProbeName: "database", Ping: deps.Ping})

	switch {
	case cfg.Auth.JWTSigningKey.IsSet():
		srv.Authenticator = auth.NewJWTAuthenticator(cfg.Auth.JWTSigningKey.Unmask(), cfg.Auth.JWTIssuer)
	case cfg.Environment != "local":
		return nil, errors.New("JWT_SIGNING_KEY is required outside local")
	default:
		logger.Warn("JWT_SIGNING_KEY not set; authenticated routes will reject every request")
	}

	entitlements := handlers.NewEntitlementHandler(deps.Service, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, entitlements.RegisterRoutes)

	if cfg.Billing.StripeWebhookSecret.IsSet() {
		webhooks := handlers.NewStripeWebhookHandler(&external.StripeVerifier{}, deps.Service, cfg.Billing.StripeWebhookSecret.Unmask(), logger)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, webhooks.RegisterRoutes)
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; webhook endpoint disabled")
	}

	srv.MountRoutes()
	return srv, nil
}

// startRecheckSchedule registers the batch recheck on cfg.Entitlement.RecheckSchedule.
// An empty schedule disables it.
func startRecheckSchedule(cfg *config.Config, deps *app.App, logger *slog.Logger) (*cron.Cron, error) {
	spec := cfg.Entitlement.RecheckSchedule
	if spec == "" {
		return nil, nil
	}
	rechecker := deps.Rechecker()

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		report, err := rechecker.Run(ctx)
		if err != nil {
			logger.Error("scheduled recheck failed", "error", err)
			return
		}
		logger.Info("scheduled recheck complete",
			"due", report.Due,
			"resolved", report.Resolved,
			"failed", report.Failed,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling recheck %q: %w", spec, err)
	}
	c.Start()
	logger.Info("recheck scheduled", "schedule", spec)
	return c, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Pool and other resources registered on the server.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
