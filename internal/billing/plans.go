// Package billing provides plan limits and billing-period math.
package billing

import "invoicely/internal/types"

// PlanLimits are the resource limits attached to a tier.
type PlanLimits struct {
	// MaxInvoicesPerPeriod is ignored when Unlimited is set.
	MaxInvoicesPerPeriod int
	Unlimited            bool
}

// Allows reports whether one more invoice fits on top of count.
func (l PlanLimits) Allows(count int) bool {
	return l.Unlimited || count < l.MaxInvoicesPerPeriod
}

// Remaining returns the invoices left this period; meaningless when Unlimited.
func (l PlanLimits) Remaining(count int) int {
	if l.Unlimited {
		return 0
	}
	return max(l.MaxInvoicesPerPeriod-count, 0)
}

// PlanRegistry defines the authoritative limits for each tier.
type PlanRegistry interface {
	// GetLimits returns the limits for tier. Unknown tiers get the Free
	// limits so enforcement fails safe.
	GetLimits(tier types.Tier) PlanLimits
}

type staticPlanRegistry struct {
	limits map[types.Tier]PlanLimits
}

// NewStaticPlanRegistry returns a registry with the given Free ceiling.
// maxFree <= 0 uses types.DefaultMaxFreeInvoices.
//
//	| Plan | Invoices / period |
//	|------|-------------------|
//	| Free | maxFree (3)       |
//	| Pro  | unlimited         |
func NewStaticPlanRegistry(maxFree int) PlanRegistry {
	if maxFree <= 0 {
		maxFree = types.DefaultMaxFreeInvoices
	}
	return &staticPlanRegistry{limits: map[types.Tier]PlanLimits{
		types.TierFree: {MaxInvoicesPerPeriod: maxFree},
		types.TierPro:  {Unlimited: true},
	}}
}

func (r *staticPlanRegistry) GetLimits(tier types.Tier) PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return r.limits[types.TierFree]
}

// FreeCeiling is a convenience for the Free tier's per-period ceiling.
func FreeCeiling(r PlanRegistry) int {
	return r.GetLimits(types.TierFree).MaxInvoicesPerPeriod
}
