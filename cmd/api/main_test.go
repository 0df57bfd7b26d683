package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"invoicely/internal/app"
	"invoicely/internal/auth"
	"invoicely/internal/config"
	"invoicely/internal/core"
)

const testSigningKey = "local-dev-signing-key-minimum-32-chars-long"

// buildTestServer assembles the full server over the in-memory store.
func buildTestServer(t *testing.T) (*core.Server, *config.Config) {
	t.Helper()
	setTestEnv(t)

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	deps, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })

	srv, err := buildServer(cfg, deps, logger)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	return srv, cfg
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestEntitlementRequiresToken(t *testing.T) {
	srv, _ := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEntitlementWithToken(t *testing.T) {
	srv, cfg := buildTestServer(t)

	token, err := auth.NewJWTAuthenticator(testSigningKey, cfg.Auth.JWTIssuer).Mint("user_1", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data struct {
			UserID          string `json:"user_id"`
			Tier            string `json:"tier"`
			MaxFreeInvoices int    `json:"max_free_invoices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.UserID != "user_1" || body.Data.Tier != "free" {
		t.Errorf("unexpected entitlement: %+v", body.Data)
	}
	if body.Data.MaxFreeInvoices != 3 {
		t.Errorf("expected ceiling 3, got %d", body.Data.MaxFreeInvoices)
	}
}

func TestBuildServerRequiresSigningKeyOutsideLocal(t *testing.T) {
	setTestEnv(t)
	t.Setenv("APP_ENV", "dev")
	t.Setenv("JWT_SIGNING_KEY", "")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	deps, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer deps.Close()

	if _, err := buildServer(cfg, deps, logger); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestStartRecheckSchedule(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	deps, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer deps.Close()

	t.Run("disabled", func(t *testing.T) {
		cfg.Entitlement.RecheckSchedule = ""
		c, err := startRecheckSchedule(cfg, deps, logger)
		if err != nil || c != nil {
			t.Fatalf("expected nil scheduler, got %v, %v", c, err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		cfg.Entitlement.RecheckSchedule = "not a schedule"
		if _, err := startRecheckSchedule(cfg, deps, logger); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("valid", func(t *testing.T) {
		cfg.Entitlement.RecheckSchedule = "@every 1h"
		c, err := startRecheckSchedule(cfg, deps, logger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(c.Entries()) != 1 {
			t.Errorf("expected 1 entry, got %d", len(c.Entries()))
		}
		<-c.Stop().Done()
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(tt.level)
			if !logger.Enabled(context.Background(), tt.expected) {
				t.Errorf("expected level %v to be enabled", tt.expected)
			}
		})
	}
}

// setTestEnv sets the minimum environment for a local, in-memory server.
func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_dummy")
	t.Setenv("JWT_SIGNING_KEY", testSigningKey)
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("NOTICE_QUEUE_URL", "")
}
