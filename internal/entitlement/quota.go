package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoicely/internal/billing"
	"invoicely/internal/telemetry"
	"invoicely/internal/types"
)

// RecordResult is returned after a successful invoice creation is counted.
type RecordResult struct {
	NewCount  int  `json:"invoices_this_period"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// QuotaConfig wires a QuotaEnforcer.
type QuotaConfig struct {
	Profiles ProfileStore
	Plans    billing.PlanRegistry
	Cache    LocalCache
	Metrics  telemetry.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
	Policy   Policy
}

// QuotaEnforcer decides whether an invoice may be created and counts the ones
// that are. The authoritative check runs inside the conditional write, so two
// devices racing at the ceiling cannot both succeed.
type QuotaEnforcer struct {
	profiles ProfileStore
	plans    billing.PlanRegistry
	cache    LocalCache
	metrics  telemetry.Recorder
	logger   *slog.Logger
	now      func() time.Time
	policy   Policy
}

func NewQuotaEnforcer(cfg QuotaConfig) *QuotaEnforcer {
	q := &QuotaEnforcer{
		profiles: cfg.Profiles,
		plans:    cfg.Plans,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		policy:   cfg.Policy.withDefaults(),
	}
	if q.plans == nil {
		q.plans = billing.NewStaticPlanRegistry(types.DefaultMaxFreeInvoices)
	}
	if q.metrics == nil {
		q.metrics = telemetry.Noop{}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// CanCreate is the advisory check against an already resolved entitlement.
func (q *QuotaEnforcer) CanCreate(e *types.Entitlement) bool {
	if e == nil {
		return false
	}
	return q.plans.GetLimits(e.Tier).Allows(e.InvoicesThisPeriod)
}

// Remaining returns the invoices left this period for a resolved entitlement.
func (q *QuotaEnforcer) Remaining(e *types.Entitlement) (int, bool) {
	limits := q.plans.GetLimits(e.Tier)
	if limits.Unlimited {
		return 0, true
	}
	return limits.Remaining(e.InvoicesThisPeriod), false
}

// RecordCreation counts one invoice creation against the current period. It
// applies any pending rollover or expiry first, rejects with
// ErrCodeQuotaExceeded at the ceiling, and retries version conflicts up to the
// configured bound.
func (q *QuotaEnforcer) RecordCreation(ctx context.Context, userID string) (*RecordResult, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	now := q.now().UTC()

	for attempt := 1; attempt <= q.policy.CASMaxAttempts; attempt++ {
		p, err := loadOrCreate(ctx, q.profiles, userID, now)
		if err != nil {
			return nil, unavailable("record invoice: cloud profile unavailable", err)
		}

		next, _ := Reconcile(p, nil, now, q.policy.PastDueGrace, billing.FreeCeiling(q.plans))
		limits := q.plans.GetLimits(next.Tier)
		if !limits.Allows(next.InvoicesThisPeriod) {
			q.metrics.Count(ctx, types.MetricQuotaDecision, types.OutcomeExceeded)
			return nil, types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded,
				fmt.Sprintf("free plan allows %d invoices per month", limits.MaxInvoicesPerPeriod), nil,
				map[string]any{
					"limit":        limits.MaxInvoicesPerPeriod,
					"current":      next.InvoicesThisPeriod,
					"period_start": next.PeriodAnchor,
				})
		}
		next.InvoicesThisPeriod++

		err = q.profiles.CompareAndSwap(ctx, next, p.Version)
		if err == nil {
			q.metrics.Count(ctx, types.MetricQuotaDecision, types.OutcomeAllowed)
			q.mirror(ctx, next, now)
			res := &RecordResult{NewCount: next.InvoicesThisPeriod, Unlimited: limits.Unlimited}
			if !limits.Unlimited {
				res.Remaining = limits.Remaining(next.InvoicesThisPeriod)
			}
			return res, nil
		}
		if !isConflict(err) {
			return nil, unavailable("record invoice: cloud write failed", err)
		}
		q.metrics.Count(ctx, types.MetricCASConflict, "record")
		q.logger.DebugContext(ctx, "quota write conflicted, retrying",
			"user_id", userID, "attempt", attempt)
	}

	q.metrics.Count(ctx, types.MetricQuotaDecision, types.OutcomeExhausted)
	return nil, retryExhausted("record invoice", q.policy.CASMaxAttempts)
}

func (q *QuotaEnforcer) mirror(ctx context.Context, p *types.CloudProfile, now time.Time) {
	if q.cache == nil {
		return
	}
	if err := q.cache.SaveSnapshot(ctx, p.Entitlement(billing.FreeCeiling(q.plans), now)); err != nil {
		q.logger.WarnContext(ctx, "mirroring usage to local cache failed", "user_id", p.UserID, "error", err)
	}
}
