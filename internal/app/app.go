// Package app assembles the entitlement service from configuration. The API
// server, the recheck worker and the CLI all build their dependencies here so
// they agree on store selection and provider wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoicely/internal/billing"
	"invoicely/internal/config"
	"invoicely/internal/db"
	"invoicely/internal/entitlement"
	"invoicely/internal/external"
	"invoicely/internal/notices"
	"invoicely/internal/telemetry"
)

// Options carries the per-binary pieces that do not come from config.
type Options struct {
	// Cache and Source are set by the CLI only.
	Cache  entitlement.LocalCache
	Source entitlement.LocalSource
	Clock  func() time.Time
}

// App is the assembled dependency graph.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *entitlement.Service
	Profiles entitlement.ProfileStore
	Metrics  telemetry.Recorder
	// Ping checks the cloud store. Used by the health endpoint.
	Ping func(ctx context.Context) error

	closers []func() error
}

// Close releases the pool and anything else opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Closers exposes the release hooks for callers that manage shutdown
// themselves, such as core.Server.
func (a *App) Closers() []func() error {
	return a.closers
}

type cloudStore struct {
	profiles entitlement.ProfileStore
	invoices entitlement.InvoiceCollection
	business entitlement.BusinessInfoStore
	ping     func(ctx context.Context) error
}

// New builds the App. A postgres driver opens a pool and ensures the schema;
// the memory driver keeps everything in-process.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Profiles = store.profiles
	a.Ping = store.ping

	metrics, publisher, err := a.awsSinks(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Metrics = metrics

	deps := entitlement.Deps{
		Profiles: store.profiles,
		Invoices: store.invoices,
		Business: store.business,
		Plans:    billing.NewStaticPlanRegistry(cfg.Entitlement.MaxFreeInvoices),
		Notices:  publisher,
		Metrics:  metrics,
		Logger:   logger,
		Clock:    opts.Clock,
		Policy:   PolicyFromConfig(cfg),
	}
	if opts.Cache != nil {
		deps.Cache = opts.Cache
	}
	if opts.Source != nil {
		deps.Source = opts.Source
	}
	if cfg.Billing.StripeSecretKey.IsSet() {
		deps.Provider = external.NewStripeClient(&http.Client{Timeout: 30 * time.Second}, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.StripeAPIBase,
			Timeout:   cfg.Billing.ProviderTimeout,
			Logger:    logger,
		})
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; subscription state will not be corroborated")
	}

	a.Service = entitlement.NewService(deps)
	return a, nil
}

// PolicyFromConfig maps the entitlement tuning knobs.
func PolicyFromConfig(cfg *config.Config) entitlement.Policy {
	return entitlement.Policy{
		CASMaxAttempts:           cfg.Entitlement.CASMaxAttempts,
		ProviderTimeout:          cfg.Billing.ProviderTimeout,
		PastDueGrace:             cfg.Entitlement.PastDueGrace,
		MigrationNoticeThreshold: cfg.Entitlement.MigrationNoticeThreshold,
	}
}

// Rechecker builds the batch rechecker over the App's store and resolver.
func (a *App) Rechecker() *entitlement.Rechecker {
	return entitlement.NewRechecker(a.Profiles, a.Service.Resolver(), entitlement.RecheckConfig{
		Window:      a.Config.Entitlement.RecheckWindow,
		Concurrency: a.Config.Entitlement.RecheckConcurrency,
		BatchLimit:  a.Config.Entitlement.RecheckBatchLimit,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*cloudStore, error) {
	if a.Config.Database.Driver == config.StoreDriverMemory {
		a.Logger.Warn("using in-memory profile store; data is lost on exit")
		mem := db.NewMemoryStore()
		return &cloudStore{profiles: mem, invoices: mem, business: mem, ping: mem.Ping}, nil
	}

	pool, err := db.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	a.closers = append(a.closers, closePool(pool))

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	profiles := db.NewProfileRepo(pool, a.Logger)
	return &cloudStore{
		profiles: profiles,
		invoices: db.NewInvoiceRepo(pool),
		business: db.NewBusinessRepo(pool),
		ping:     profiles.Ping,
	}, nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

// awsSinks returns the metrics recorder and notice publisher. Both fall back
// to no-ops when disabled so local runs need no AWS credentials.
func (a *App) awsSinks(ctx context.Context) (telemetry.Recorder, notices.Publisher, error) {
	var (
		metrics   telemetry.Recorder = telemetry.Noop{}
		publisher notices.Publisher  = notices.Noop{}
	)
	obs := a.Config.Observability
	queueURL := a.Config.AWS.NoticeQueueURL
	if !obs.EnableMetrics && queueURL == "" {
		return metrics, publisher, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := a.Config.AWS.EndpointURL

	if obs.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		metrics = telemetry.NewCloudWatchRecorder(cw, obs.MetricNamespace, a.Logger)
	}
	if queueURL != "" {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		publisher = notices.NewSQSPublisher(client, queueURL, a.Logger)
	}
	return metrics, publisher, nil
}
