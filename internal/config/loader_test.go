package config

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

type testSecretProvider struct {
	values     map[string]string
	err        error
	calledWith []string
}

func (p *testSecretProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	p.calledWith = append(p.calledWith, keys...)
	if p.err != nil {
		return nil, p.err
	}
	result := make(map[string]string)
	for _, k := range keys {
		if v, ok := p.values[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

// testDeps uses the real environment but never reads a .env file and routes
// writes through t.Setenv so they are undone after the test.
func testDeps(t *testing.T) loaderDeps {
	t.Helper()
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv: func(k, v string) error {
			t.Setenv(k, v)
			return nil
		},
		environ: os.Environ,
		dotenv:  func() error { return nil },
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("STORE_DRIVER", "memory")
}

func TestLoadConfigDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadConfigWithDeps(nil, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Billing.ProviderTimeout != 5*time.Second {
		t.Errorf("ProviderTimeout = %v, want 5s", cfg.Billing.ProviderTimeout)
	}
	if cfg.Entitlement.MaxFreeInvoices != 3 {
		t.Errorf("MaxFreeInvoices = %d, want 3", cfg.Entitlement.MaxFreeInvoices)
	}
	if cfg.Entitlement.CASMaxAttempts != 5 {
		t.Errorf("CASMaxAttempts = %d, want 5", cfg.Entitlement.CASMaxAttempts)
	}
	if cfg.Entitlement.PastDueGrace != 168*time.Hour {
		t.Errorf("PastDueGrace = %v, want 168h", cfg.Entitlement.PastDueGrace)
	}
	if cfg.Entitlement.RecheckSchedule != "@every 1h" {
		t.Errorf("RecheckSchedule = %q, want @every 1h", cfg.Entitlement.RecheckSchedule)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want dev", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Errorf("time.Local = %v, want UTC", time.Local)
	}
}

func TestLoadConfigPostgresRequiresURL(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	os.Unsetenv("DATABASE_URL")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Type != ErrValidation {
		t.Errorf("Type = %s, want %s", cfgErr.Type, ErrValidation)
	}
}

func TestLoadConfigInvalidEnvironment(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("APP_ENV", "qa")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrValidation {
		t.Fatalf("expected validation ConfigError, got %v", err)
	}
}

func TestLoadConfigParsingError(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("PROVIDER_TIMEOUT", "five seconds")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrParsing {
		t.Fatalf("expected parsing ConfigError, got %v", err)
	}
}

func TestLoadConfigShortJWTKeyRejected(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("JWT_SIGNING_KEY", "too-short")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	if err == nil {
		t.Fatal("expected error for short signing key")
	}
}

func TestLoadConfigResolvesSecretRefs(t *testing.T) {
	setMinimalEnv(t)
	os.Unsetenv("STRIPE_SECRET_KEY")
	t.Setenv("STRIPE_SECRET_KEY_SECRET_REF", "billing/stripe-key")

	provider := &testSecretProvider{values: map[string]string{"billing/stripe-key": "sk_test_resolved"}}
	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps returned error: %v", err)
	}
	if got := cfg.Billing.StripeSecretKey.Unmask(); got != "sk_test_resolved" {
		t.Errorf("StripeSecretKey = %q, want sk_test_resolved", got)
	}
	if cfg.Billing.StripeSecretKey.String() == "sk_test_resolved" {
		t.Error("String() leaked the secret")
	}
}

func TestLoadConfigDirectEnvWinsOverSecretRef(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_direct")
	t.Setenv("STRIPE_SECRET_KEY_SECRET_REF", "billing/stripe-key")

	provider := &testSecretProvider{values: map[string]string{"billing/stripe-key": "sk_ref"}}
	cfg, err := loadConfigWithDeps(provider, testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps returned error: %v", err)
	}
	if got := cfg.Billing.StripeSecretKey.Unmask(); got != "sk_direct" {
		t.Errorf("StripeSecretKey = %q, want sk_direct", got)
	}
	if len(provider.calledWith) != 0 {
		t.Errorf("provider should not be called, got %v", provider.calledWith)
	}
}

func TestLoadConfigSecretRefWithoutProvider(t *testing.T) {
	setMinimalEnv(t)
	os.Unsetenv("STRIPE_WEBHOOK_SECRET")
	t.Setenv("STRIPE_WEBHOOK_SECRET_SECRET_REF", "billing/webhook")

	_, err := loadConfigWithDeps(nil, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrSecretResolution {
		t.Fatalf("expected secret resolution error, got %v", err)
	}
}

func TestLoadConfigSecretRefMissing(t *testing.T) {
	setMinimalEnv(t)
	os.Unsetenv("STRIPE_WEBHOOK_SECRET")
	t.Setenv("STRIPE_WEBHOOK_SECRET_SECRET_REF", "billing/webhook")

	_, err := loadConfigWithDeps(&testSecretProvider{}, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrMissingEnv {
		t.Fatalf("expected missing env error, got %v", err)
	}
}

func TestLoadConfigProviderError(t *testing.T) {
	setMinimalEnv(t)
	os.Unsetenv("STRIPE_WEBHOOK_SECRET")
	t.Setenv("STRIPE_WEBHOOK_SECRET_SECRET_REF", "billing/webhook")

	_, err := loadConfigWithDeps(&testSecretProvider{err: errors.New("boom")}, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrSecretResolution {
		t.Fatalf("expected secret resolution error, got %v", err)
	}
	if !errors.Is(err, cfgErr.Err) {
		t.Error("expected wrapped provider error")
	}
}

func TestEnvVarProviderResolvesByName(t *testing.T) {
	t.Setenv("INVOICELY_TEST_SECRET_A", "alpha")
	os.Unsetenv("INVOICELY_TEST_SECRET_MISSING")

	result, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"INVOICELY_TEST_SECRET_A", "INVOICELY_TEST_SECRET_MISSING"})
	if err != nil {
		t.Fatalf("GetParametersBatch returned error: %v", err)
	}
	if len(result) != 1 || result["INVOICELY_TEST_SECRET_A"] != "alpha" {
		t.Errorf("unexpected result %v", result)
	}
}
