package entitlement

import (
	"context"
	"log/slog"
	"time"

	"invoicely/internal/billing"
	"invoicely/internal/notices"
	"invoicely/internal/telemetry"
	"invoicely/internal/types"
)

// Deps wires a Service. Profiles, Invoices and Business are required.
// Provider, Cache and Source are optional: the hosted API runs without a
// local cache, the desktop CLI runs with one.
type Deps struct {
	Profiles ProfileStore
	Invoices InvoiceCollection
	Business BusinessInfoStore
	Provider SubscriptionProvider
	Cache    LocalCache
	// Source, when set, is migrated automatically on resolve.
	Source  LocalSource
	Plans   billing.PlanRegistry
	Notices notices.Publisher
	Metrics telemetry.Recorder
	Logger  *slog.Logger
	Clock   func() time.Time
	Policy  Policy
}

// Remaining is the invoices-remaining answer.
type Remaining struct {
	Count     int  `json:"count"`
	Unlimited bool `json:"unlimited"`
	Stale     bool `json:"stale"`

	// ResetsAt is when the current period's usage returns to zero.
	ResetsAt time.Time `json:"resets_at"`
}

// Service is the single entry point the rest of the application uses for
// entitlement questions.
type Service struct {
	profiles ProfileStore
	invoices InvoiceCollection
	business BusinessInfoStore
	resolver *Resolver
	quota    *QuotaEnforcer
	migrator *MigrationCoordinator
	logger   *slog.Logger
	now      func() time.Time
	policy   Policy
}

func NewService(d Deps) *Service {
	if d.Plans == nil {
		d.Plans = billing.NewStaticPlanRegistry(types.DefaultMaxFreeInvoices)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	d.Policy = d.Policy.withDefaults()

	mig := NewMigrationCoordinator(MigrationConfig{
		Profiles: d.Profiles,
		Invoices: d.Invoices,
		Business: d.Business,
		Plans:    d.Plans,
		Cache:    d.Cache,
		Notices:  d.Notices,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
		Clock:    d.Clock,
		Policy:   d.Policy,
	})

	var bound Migrator
	if d.Source != nil {
		bound = mig.Bind(d.Source)
	}

	return &Service{
		profiles: d.Profiles,
		invoices: d.Invoices,
		business: d.Business,
		resolver: NewResolver(ResolverConfig{
			Profiles: d.Profiles,
			Plans:    d.Plans,
			Provider: d.Provider,
			Cache:    d.Cache,
			Migrator: bound,
			Metrics:  d.Metrics,
			Logger:   d.Logger,
			Clock:    d.Clock,
			Policy:   d.Policy,
		}),
		quota: NewQuotaEnforcer(QuotaConfig{
			Profiles: d.Profiles,
			Plans:    d.Plans,
			Cache:    d.Cache,
			Metrics:  d.Metrics,
			Logger:   d.Logger,
			Clock:    d.Clock,
			Policy:   d.Policy,
		}),
		migrator: mig,
		logger:   d.Logger,
		now:      d.Clock,
		policy:   d.Policy,
	}
}

// GetEntitlement resolves the user's current entitlement.
func (s *Service) GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error) {
	return s.resolver.Resolve(ctx, userID)
}

// IsProUser reports whether the user currently has Pro behavior.
func (s *Service) IsProUser(ctx context.Context, userID string) (bool, error) {
	e, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return e.IsPro(), nil
}

// InvoicesRemaining returns how many invoices the user may still create this period.
func (s *Service) InvoicesRemaining(ctx context.Context, userID string) (*Remaining, error) {
	e, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	n, unlimited := s.quota.Remaining(e)
	return &Remaining{
		Count:     n,
		Unlimited: unlimited,
		Stale:     e.Stale,
		ResetsAt:  billing.NextPeriodStart(e.PeriodAnchor),
	}, nil
}

// CanCreateInvoice is the advisory pre-check for invoice creation. The
// authoritative check happens in RecordInvoiceCreated.
func (s *Service) CanCreateInvoice(ctx context.Context, userID string) (bool, error) {
	e, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.quota.CanCreate(e), nil
}

// RecordInvoiceCreated counts a successful creation.
func (s *Service) RecordInvoiceCreated(ctx context.Context, userID string) (*RecordResult, error) {
	return s.quota.RecordCreation(ctx, userID)
}

// MigrateIfNeeded migrates from the configured local source.
func (s *Service) MigrateIfNeeded(ctx context.Context, userID string) (*types.MigrationResult, error) {
	return s.migrator.Migrate(ctx, userID, s.sourceOrEmpty())
}

// MigrateFrom migrates from an explicit source, such as an uploaded export.
func (s *Service) MigrateFrom(ctx context.Context, userID string, src LocalSource) (*types.MigrationResult, error) {
	return s.migrator.Migrate(ctx, userID, src)
}

func (s *Service) sourceOrEmpty() LocalSource {
	if b, ok := s.resolver.migrator.(boundMigrator); ok {
		return b.src
	}
	return emptySource{}
}

type emptySource struct{}

func (emptySource) ListInvoices(context.Context) ([]types.LocalInvoice, error) { return nil, nil }
func (emptySource) BusinessInfo(context.Context) (*types.BusinessInfo, error)  { return nil, nil }

// ApplyProviderEvent applies a webhook-delivered subscription event. The
// target user is taken from the event or looked up by subscription ID.
// applied is false for stale or inapplicable events.
func (s *Service) ApplyProviderEvent(ctx context.Context, ev types.ProviderEvent) (bool, error) {
	userID := ev.UserID
	if userID == "" {
		if ev.SubscriptionID == "" {
			return false, types.NewAppError(types.ErrCodeValidationMissingField,
				"provider event carries neither a user nor a subscription", nil)
		}
		id, err := s.profiles.FindBySubscriptionID(ctx, ev.SubscriptionID)
		if err != nil {
			return false, err
		}
		userID = id
	}
	log := s.logger.With("user_id", userID, "event", ev.Type)

	for attempt := 1; attempt <= s.policy.CASMaxAttempts; attempt++ {
		p, err := loadOrCreate(ctx, s.profiles, userID, s.now().UTC())
		if err != nil {
			return false, unavailable("provider event: cloud profile unavailable", err)
		}

		next, applied := ApplyEvent(p, ev)
		if !applied {
			from := StateOf(p)
			log.InfoContext(ctx, "provider event ignored",
				"state", from, "allowed", ValidTransitionsFrom(from))
			return false, nil
		}

		err = s.profiles.CompareAndSwap(ctx, next, p.Version)
		if err == nil {
			log.InfoContext(ctx, "provider event applied", "from", StateOf(p), "to", StateOf(next))
			return true, nil
		}
		if !isConflict(err) {
			return false, unavailable("provider event: cloud write failed", err)
		}
	}
	return false, retryExhausted("provider event", s.policy.CASMaxAttempts)
}

// CloudHistory is what the cloud holds for a user beyond the profile.
type CloudHistory struct {
	InvoiceCount int                  `json:"invoice_count"`
	Invoices     []types.CloudInvoice `json:"invoices,omitempty"`
	Business     *types.BusinessInfo  `json:"business,omitempty"`
}

// CloudInvoices lists the user's cloud invoices, oldest first.
func (s *Service) CloudInvoices(ctx context.Context, userID string) ([]types.CloudInvoice, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	list, err := s.invoices.ListByOwner(ctx, userID)
	if err != nil {
		return nil, unavailable("list cloud invoices", err)
	}
	return list, nil
}

// BusinessInfo returns the cloud business profile, or nil when none is stored.
func (s *Service) BusinessInfo(ctx context.Context, userID string) (*types.BusinessInfo, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	info, err := s.business.GetBusinessInfo(ctx, userID)
	if err != nil {
		return nil, unavailable("read business info", err)
	}
	return info, nil
}

// History summarizes the user's cloud data. Invoices are listed only when
// withInvoices is set; the count is always filled.
func (s *Service) History(ctx context.Context, userID string, withInvoices bool) (*CloudHistory, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	h := &CloudHistory{}
	var err error
	if withInvoices {
		if h.Invoices, err = s.CloudInvoices(ctx, userID); err != nil {
			return nil, err
		}
		h.InvoiceCount = len(h.Invoices)
	} else if h.InvoiceCount, err = s.invoices.CountByOwner(ctx, userID); err != nil {
		return nil, unavailable("count cloud invoices", err)
	}
	if h.Business, err = s.BusinessInfo(ctx, userID); err != nil {
		return nil, err
	}
	return h, nil
}

// Resolver exposes the underlying resolver for batch rechecks.
func (s *Service) Resolver() *Resolver { return s.resolver }
