// Package config defines the process configuration for the Invoicely entitlement
// services. Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> *_SECRET_REF indirection (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import "time"

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"invoicely-entitlements"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	Entitlement   EntitlementConfig
	Local         LocalConfig
	Auth          AuthConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// DatabaseConfig selects the cloud profile store and tunes the pgx pool.
type DatabaseConfig struct {
	Driver string       `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	URL    SecretString `envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds Stripe credentials. An empty secret key disables
// provider corroboration; stored subscription state is then used as-is.
type BillingConfig struct {
	StripeSecretKey     SecretString  `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBase       string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	ProviderTimeout     time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s" validate:"gt=0"`
}

// EntitlementConfig tunes resolution, quota and migration behavior.
type EntitlementConfig struct {
	MaxFreeInvoices          int           `envconfig:"MAX_FREE_INVOICES" default:"3" validate:"gte=1"`
	CASMaxAttempts           int           `envconfig:"CAS_MAX_ATTEMPTS" default:"5" validate:"gte=1,lte=50"`
	PastDueGrace             time.Duration `envconfig:"PAST_DUE_GRACE" default:"168h"`
	MigrationNoticeThreshold int           `envconfig:"MIGRATION_NOTICE_THRESHOLD" default:"3" validate:"gte=1"`
	RecheckWindow            time.Duration `envconfig:"RECHECK_WINDOW" default:"72h"`
	RecheckSchedule          string        `envconfig:"RECHECK_SCHEDULE" default:"@every 1h"`
	RecheckConcurrency       int           `envconfig:"RECHECK_CONCURRENCY" default:"8" validate:"gte=1"`
	RecheckBatchLimit        int           `envconfig:"RECHECK_BATCH_LIMIT" default:"100" validate:"gte=1"`
}

// LocalConfig locates the on-device store used by the CLI.
type LocalConfig struct {
	DataDir string `envconfig:"LOCAL_DATA_DIR" default:".invoicely"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSigningKey SecretString `envconfig:"JWT_SIGNING_KEY" validate:"omitempty,min=32"`
	JWTIssuer     string       `envconfig:"JWT_ISSUER" default:"invoicely"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	NoticeQueueURL string `envconfig:"NOTICE_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Invoicely"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a *_SECRET_REF could not be resolved.
	ErrSecretResolution ConfigErrorType = "SECRET_RESOLUTION_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
