package entitlement

import (
	"context"
	"log/slog"
	"time"

	"invoicely/internal/billing"
	"invoicely/internal/telemetry"
	"invoicely/internal/types"
)

// ResolverConfig wires a Resolver. Profiles and Plans are required; the rest
// are optional.
type ResolverConfig struct {
	Profiles ProfileStore
	Plans    billing.PlanRegistry
	Provider SubscriptionProvider
	Cache    LocalCache
	Migrator Migrator
	Metrics  telemetry.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
	Policy   Policy
}

// Resolver produces the reconciled Entitlement for a user.
type Resolver struct {
	profiles ProfileStore
	plans    billing.PlanRegistry
	provider SubscriptionProvider
	cache    LocalCache
	migrator Migrator
	metrics  telemetry.Recorder
	logger   *slog.Logger
	now      func() time.Time
	policy   Policy
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		profiles: cfg.Profiles,
		plans:    cfg.Plans,
		provider: cfg.Provider,
		cache:    cfg.Cache,
		migrator: cfg.Migrator,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		policy:   cfg.Policy.withDefaults(),
	}
	if r.plans == nil {
		r.plans = billing.NewStaticPlanRegistry(types.DefaultMaxFreeInvoices)
	}
	if r.metrics == nil {
		r.metrics = telemetry.Noop{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve returns the user's entitlement. It creates the default Free profile
// on first contact, corroborates a linked subscription with the provider,
// persists any lazy expiry or period rollover, mirrors the result locally and
// triggers the one-time migration when it is still pending.
//
// When the cloud store cannot be read the last cached snapshot is returned
// with Stale set. With no snapshot, ErrCodeNetworkUnavailable is returned.
// Migration is skipped only when the cloud store itself failed; a stale view
// caused by the payment provider alone still migrates.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*types.Entitlement, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	e, storeOK, err := r.resolve(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	if !storeOK || e.MigrationCompleted || r.migrator == nil {
		return e, nil
	}

	if _, merr := r.migrator.MigrateIfNeeded(ctx, userID); merr != nil {
		r.logger.WarnContext(ctx, "migration did not complete",
			"user_id", userID, "error", merr)
	}
	// Re-read so the seeded usage and completion flag are visible.
	again, _, err := r.resolve(ctx, userID, false)
	if err != nil {
		r.logger.WarnContext(ctx, "re-read after migration failed", "user_id", userID, "error", err)
		return e, nil
	}
	// The re-read skips the provider, so an unconfirmed first pass stays stale.
	again.Stale = again.Stale || e.Stale
	return again, nil
}

// resolve reports storeOK=false when the view did not come from a successful
// cloud read and write.
func (r *Resolver) resolve(ctx context.Context, userID string, consultProvider bool) (e *types.Entitlement, storeOK bool, err error) {
	now := r.now().UTC()
	log := r.logger.With("user_id", userID)

	p, err := loadOrCreate(ctx, r.profiles, userID, now)
	if err != nil {
		log.WarnContext(ctx, "cloud profile unavailable, falling back to cache", "error", err)
		e, err = r.fallback(ctx, userID, now, err)
		return e, false, err
	}

	stale := false
	var sub *types.ProviderSubscription
	if consultProvider && r.provider != nil && shouldConsultProvider(p) {
		sub, err = r.fetchSubscription(ctx, p.StripeSubscriptionID)
		if err != nil {
			// Missing information never downgrades: keep the stored tier.
			log.WarnContext(ctx, "payment provider unavailable, serving stored tier",
				"subscription_id", p.StripeSubscriptionID, "error", err)
			stale = true
			sub = nil
		}
	}

	for attempt := 1; ; attempt++ {
		next, changed := Reconcile(p, sub, now, r.policy.PastDueGrace, billing.FreeCeiling(r.plans))
		if !changed {
			break
		}

		err := r.profiles.CompareAndSwap(ctx, next, p.Version)
		if err == nil {
			if next.Tier != p.Tier {
				log.InfoContext(ctx, "tier changed", "from", p.Tier, "to", next.Tier,
					"subscription_status", next.SubscriptionStatus)
			}
			p = next
			break
		}
		if !isConflict(err) {
			// The read was authoritative but the write did not land; serve the
			// computed view without mirroring it as fresh.
			log.WarnContext(ctx, "persisting reconciled profile failed", "error", err)
			e = next.Entitlement(billing.FreeCeiling(r.plans), now)
			e.Stale = true
			r.metrics.Count(ctx, types.MetricResolveOutcome, types.OutcomeStale)
			return e, false, nil
		}

		r.metrics.Count(ctx, types.MetricCASConflict, "resolve")
		if attempt >= r.policy.CASMaxAttempts {
			r.metrics.Count(ctx, types.MetricResolveOutcome, types.OutcomeExhausted)
			return nil, false, retryExhausted("resolve entitlement", attempt)
		}
		p, err = r.profiles.Get(ctx, userID)
		if err != nil {
			e, err = r.fallback(ctx, userID, now, err)
			return e, false, err
		}
	}

	e = p.Entitlement(billing.FreeCeiling(r.plans), now)
	e.Stale = stale
	if stale {
		r.metrics.Count(ctx, types.MetricResolveOutcome, types.OutcomeStale)
	} else {
		r.metrics.Count(ctx, types.MetricResolveOutcome, types.OutcomeFresh)
	}
	r.mirror(ctx, e)
	return e, true, nil
}

// shouldConsultProvider skips the provider for users with no linked
// subscription and for subscriptions that have already run out.
func shouldConsultProvider(p *types.CloudProfile) bool {
	if !p.HasSubscription() {
		return false
	}
	return !(p.Tier == types.TierFree && p.SubscriptionStatus == types.SubStatusCanceled)
}

func (r *Resolver) fetchSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.policy.ProviderTimeout)
	defer cancel()
	return r.provider.GetSubscription(ctx, subscriptionID)
}

func (r *Resolver) fallback(ctx context.Context, userID string, now time.Time, cause error) (*types.Entitlement, error) {
	if r.cache != nil {
		snap, ok, err := r.cache.LoadSnapshot(ctx, userID)
		if err != nil {
			r.logger.WarnContext(ctx, "reading cached entitlement failed", "user_id", userID, "error", err)
		}
		if ok {
			v := projectView(snap, now)
			v.Stale = true
			r.metrics.Count(ctx, types.MetricResolveOutcome, types.OutcomeStale)
			return v, nil
		}
	}
	return nil, unavailable("entitlement unavailable: cloud store unreachable and no cached snapshot", cause)
}

// mirror writes the resolved view to the local cache. Failures are logged only.
func (r *Resolver) mirror(ctx context.Context, e *types.Entitlement) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SaveSnapshot(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "mirroring entitlement to local cache failed",
			"user_id", e.UserID, "error", err)
	}
	if e.MigrationCompleted {
		if err := r.cache.MarkMigrationCompleted(ctx, e.UserID); err != nil {
			r.logger.WarnContext(ctx, "mirroring migration flag failed",
				"user_id", e.UserID, "error", err)
		}
	}
}
