package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"invoicely/internal/billing"
	"invoicely/internal/notices"
	"invoicely/internal/telemetry"
	"invoicely/internal/types"
)

// cloudInvoiceNamespace scopes the deterministic cloud identifiers of migrated
// invoices, so a retried copy of the same local invoice targets the same document.
var cloudInvoiceNamespace = uuid.MustParse("6f1c7c52-3b0e-5a4e-9d7a-2c51f0b8a9e3")

// CloudInvoiceID returns the cloud identifier for a migrated local invoice.
func CloudInvoiceID(userID, localID string) string {
	return uuid.NewSHA1(cloudInvoiceNamespace, []byte(userID+"/"+localID)).String()
}

// MigrationConfig wires a MigrationCoordinator.
type MigrationConfig struct {
	Profiles ProfileStore
	Invoices InvoiceCollection
	Business BusinessInfoStore
	Plans    billing.PlanRegistry
	Cache    LocalCache
	Notices  notices.Publisher
	Metrics  telemetry.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
	Policy   Policy
}

// MigrationCoordinator copies pre-account local history into the cloud
// exactly once. Copies are keyed by deterministic cloud IDs and the set of
// copied local IDs is merged into the profile under a conditional write, so
// retries and concurrent sign-ins never duplicate an invoice or double-count
// usage.
type MigrationCoordinator struct {
	profiles ProfileStore
	invoices InvoiceCollection
	business BusinessInfoStore
	plans    billing.PlanRegistry
	cache    LocalCache
	notices  notices.Publisher
	metrics  telemetry.Recorder
	logger   *slog.Logger
	now      func() time.Time
	policy   Policy
	validate *validator.Validate
}

func NewMigrationCoordinator(cfg MigrationConfig) *MigrationCoordinator {
	m := &MigrationCoordinator{
		profiles: cfg.Profiles,
		invoices: cfg.Invoices,
		business: cfg.Business,
		plans:    cfg.Plans,
		cache:    cfg.Cache,
		notices:  cfg.Notices,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		policy:   cfg.Policy.withDefaults(),
		validate: validator.New(),
	}
	if m.plans == nil {
		m.plans = billing.NewStaticPlanRegistry(types.DefaultMaxFreeInvoices)
	}
	if m.notices == nil {
		m.notices = notices.Noop{}
	}
	if m.metrics == nil {
		m.metrics = telemetry.Noop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Bind returns a Migrator that always reads from src.
func (m *MigrationCoordinator) Bind(src LocalSource) Migrator {
	return boundMigrator{m: m, src: src}
}

type boundMigrator struct {
	m   *MigrationCoordinator
	src LocalSource
}

func (b boundMigrator) MigrateIfNeeded(ctx context.Context, userID string) (*types.MigrationResult, error) {
	return b.m.Migrate(ctx, userID, b.src)
}

// Migrate copies src into the user's cloud collection unless migration is
// already complete. Items that fail to copy are counted as outstanding and
// retried on the next call; in that case the result is returned together with
// an ErrCodeMigrationPartialFailure error.
func (m *MigrationCoordinator) Migrate(ctx context.Context, userID string, src LocalSource) (*types.MigrationResult, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	log := m.logger.With("user_id", userID)
	now := m.now().UTC()

	if m.cache != nil {
		done, err := m.cache.MigrationCompleted(ctx, userID)
		if err != nil {
			log.WarnContext(ctx, "reading local migration flag failed", "error", err)
		}
		if done {
			return &types.MigrationResult{Completed: true, AlreadyCompleted: true}, nil
		}
	}

	p, err := loadOrCreate(ctx, m.profiles, userID, now)
	if err != nil {
		return nil, unavailable("migration: cloud profile unavailable", err)
	}
	if p.Migration.Completed {
		m.markLocal(ctx, userID)
		return &types.MigrationResult{Completed: true, AlreadyCompleted: true}, nil
	}

	invoices, err := src.ListInvoices(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalLocalStore, "migration: reading local invoices failed", err)
	}
	info, err := src.BusinessInfo(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalLocalStore, "migration: reading local business info failed", err)
	}

	failed := 0
	copied := make([]types.LocalInvoice, 0, len(invoices))
	for _, inv := range invoices {
		if p.Migration.HasCopied(inv.ID) {
			continue
		}
		if err := m.validate.Struct(inv); err != nil {
			// A malformed local record can never be copied; skipping it keeps
			// it from blocking completion forever.
			log.WarnContext(ctx, "skipping invalid local invoice", "local_id", inv.ID, "error", err)
			continue
		}
		_, err := m.invoices.InsertIfAbsent(ctx, types.CloudInvoice{
			ID:         CloudInvoiceID(userID, inv.ID),
			OwnerID:    userID,
			LocalID:    inv.ID,
			Number:     inv.Number,
			Customer:   inv.Customer,
			TotalCents: inv.TotalCents,
			Currency:   inv.Currency,
			CreatedAt:  inv.CreatedAt.UTC(),
			MigratedAt: now,
		})
		if err != nil {
			failed++
			log.WarnContext(ctx, "copying local invoice failed", "local_id", inv.ID, "error", err)
			continue
		}
		copied = append(copied, inv)
	}

	businessCopied := false
	if info != nil && !p.Migration.BusinessInfoCopied {
		if err := m.business.PutBusinessInfo(ctx, userID, *info); err != nil {
			failed++
			log.WarnContext(ctx, "copying business info failed", "error", err)
		} else {
			businessCopied = true
		}
	}

	for attempt := 1; attempt <= m.policy.CASMaxAttempts; attempt++ {
		next, added := m.merge(p, copied, businessCopied, failed, now)

		err := m.profiles.CompareAndSwap(ctx, next, p.Version)
		if err == nil {
			res := &types.MigrationResult{
				InvoicesMigrated:     added,
				BusinessInfoMigrated: businessCopied,
				Outstanding:          failed,
				Completed:            next.Migration.Completed,
			}
			return m.finish(ctx, log, next, res)
		}
		if !isConflict(err) {
			return nil, unavailable("migration: recording progress failed", err)
		}

		m.metrics.Count(ctx, types.MetricCASConflict, "migrate")
		p, err = m.profiles.Get(ctx, userID)
		if err != nil {
			return nil, unavailable("migration: cloud profile unavailable", err)
		}
		if p.Migration.Completed {
			m.markLocal(ctx, userID)
			return &types.MigrationResult{Completed: true, AlreadyCompleted: true}, nil
		}
	}

	return nil, retryExhausted("migration", m.policy.CASMaxAttempts)
}

// merge folds this run's copies into p. Only identifiers not already recorded
// contribute to usage, so a concurrent run that recorded them first is not
// double-counted.
func (m *MigrationCoordinator) merge(p *types.CloudProfile, copied []types.LocalInvoice, businessCopied bool, failed int, now time.Time) (*types.CloudProfile, int) {
	next := p.Clone()
	if billing.CrossedPeriod(next.PeriodAnchor, now) {
		next.InvoicesThisPeriod = 0
		next.PeriodAnchor = billing.PeriodStart(now)
	}

	added := 0
	for _, inv := range copied {
		if next.Migration.HasCopied(inv.ID) {
			continue
		}
		next.Migration.CopiedIDs = append(next.Migration.CopiedIDs, inv.ID)
		added++
		if billing.InPeriod(inv.CreatedAt, next.PeriodAnchor) {
			next.InvoicesThisPeriod++
		}
	}

	limits := m.plans.GetLimits(next.Tier)
	if !limits.Unlimited && next.InvoicesThisPeriod > limits.MaxInvoicesPerPeriod {
		next.InvoicesThisPeriod = limits.MaxInvoicesPerPeriod
	}

	if businessCopied {
		next.Migration.BusinessInfoCopied = true
	}
	next.Migration.Attempts++
	next.Migration.Completed = failed == 0
	return next, added
}

func (m *MigrationCoordinator) finish(ctx context.Context, log *slog.Logger, p *types.CloudProfile, res *types.MigrationResult) (*types.MigrationResult, error) {
	m.metrics.Gauge(ctx, types.MetricMigratedInvoices, float64(res.InvoicesMigrated))
	m.metrics.Gauge(ctx, types.MetricMigrationOutstanding, float64(res.Outstanding))

	if res.Completed {
		log.InfoContext(ctx, "migration completed",
			"invoices_migrated", res.InvoicesMigrated, "attempts", p.Migration.Attempts)
		m.markLocal(ctx, p.UserID)
		return res, nil
	}

	log.WarnContext(ctx, "migration incomplete",
		"outstanding", res.Outstanding, "attempts", p.Migration.Attempts)
	if p.Migration.Attempts >= m.policy.MigrationNoticeThreshold {
		n := notices.Notice{
			Kind:        notices.KindMigrationStalled,
			UserID:      p.UserID,
			Attempts:    p.Migration.Attempts,
			Outstanding: res.Outstanding,
			RequestID:   types.GetRequestID(ctx),
			OccurredAt:  m.now().UTC(),
		}
		if err := m.notices.Publish(ctx, n); err != nil {
			log.WarnContext(ctx, "publishing migration notice failed", "error", err)
		}
	}

	return res, types.NewAppErrorWithDetails(types.ErrCodeMigrationPartialFailure,
		"some local data could not be copied; it will be retried", nil,
		map[string]any{"outstanding": res.Outstanding, "attempts": p.Migration.Attempts})
}

func (m *MigrationCoordinator) markLocal(ctx context.Context, userID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.MarkMigrationCompleted(ctx, userID); err != nil {
		m.logger.WarnContext(ctx, "mirroring migration flag failed", "user_id", userID, "error", err)
	}
}
