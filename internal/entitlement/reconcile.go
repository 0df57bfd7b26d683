package entitlement

import (
	"slices"
	"time"

	"invoicely/internal/billing"
	"invoicely/internal/types"
)

// Reconcile computes the profile that should be stored, given the stored
// profile, the provider's view (nil when the provider was not consulted or did
// not answer), the current time and the Free plan's invoice ceiling. It is pure: the same inputs always give
// the same output, so every resolve can re-derive expiry and rollover lazily.
//
// Precedence: the provider corroborates the stored record; time-based
// boundaries already stored on the record are then applied. A past-due grace
// expiry only downgrades when the provider has just confirmed past_due. A
// downgrade caps the period's usage at freeCeiling.
func Reconcile(p *types.CloudProfile, sub *types.ProviderSubscription, now time.Time, pastDueGrace time.Duration, freeCeiling int) (*types.CloudProfile, bool) {
	next := p.Clone()

	if sub != nil {
		applyProviderView(next, sub, now)
	}

	if next.Tier == types.TierPro && next.NextBillingDate != nil {
		switch next.SubscriptionStatus {
		case types.SubStatusCanceled:
			if !now.Before(*next.NextBillingDate) {
				downgrade(next, freeCeiling)
			}
		case types.SubStatusPastDue:
			if sub != nil && sub.Status == types.SubStatusPastDue &&
				!now.Before(next.NextBillingDate.Add(pastDueGrace)) {
				downgrade(next, freeCeiling)
			}
		}
	}

	if billing.CrossedPeriod(next.PeriodAnchor, now) {
		next.InvoicesThisPeriod = 0
		next.PeriodAnchor = billing.PeriodStart(now)
	}

	return next, !sameState(p, next)
}

func applyProviderView(p *types.CloudProfile, sub *types.ProviderSubscription, now time.Time) {
	periodEnd := optionalTime(sub.CurrentPeriodEnd)
	if sub.CustomerID != "" && p.StripeCustomerID == "" {
		p.StripeCustomerID = sub.CustomerID
	}

	switch sub.Status {
	case types.SubStatusActive:
		p.Tier = types.TierPro
		p.SubscriptionStatus = types.SubStatusActive
		if periodEnd != nil {
			p.NextBillingDate = periodEnd
		}
	case types.SubStatusPastDue:
		p.Tier = types.TierPro
		p.SubscriptionStatus = types.SubStatusPastDue
		if p.NextBillingDate == nil {
			p.NextBillingDate = periodEnd
		}
	case types.SubStatusCanceled:
		if p.Tier != types.TierPro {
			p.SubscriptionStatus = types.SubStatusCanceled
			return
		}
		p.SubscriptionStatus = types.SubStatusCanceled
		if p.NextBillingDate == nil {
			p.NextBillingDate = periodEnd
		}
		if p.NextBillingDate == nil {
			// The provider gave no end date; the cancellation takes effect now.
			p.NextBillingDate = optionalTime(now)
		}
	}
}

// downgrade moves p to Free. Invoices created while Pro still count toward
// the period but never beyond the Free ceiling.
func downgrade(p *types.CloudProfile, freeCeiling int) {
	p.Tier = types.TierFree
	p.NextBillingDate = nil
	p.InvoicesThisPeriod = capUsage(p.InvoicesThisPeriod, freeCeiling)
}

func capUsage(n, ceiling int) int {
	return max(0, min(n, ceiling))
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// sameState compares every field a write would persist.
func sameState(a, b *types.CloudProfile) bool {
	return a.Tier == b.Tier &&
		a.SubscriptionStatus == b.SubscriptionStatus &&
		a.InvoicesThisPeriod == b.InvoicesThisPeriod &&
		a.PeriodAnchor.Equal(b.PeriodAnchor) &&
		sameTimePtr(a.NextBillingDate, b.NextBillingDate) &&
		a.StripeCustomerID == b.StripeCustomerID &&
		a.StripeSubscriptionID == b.StripeSubscriptionID &&
		slices.Equal(a.Migration.CopiedIDs, b.Migration.CopiedIDs) &&
		a.Migration.BusinessInfoCopied == b.Migration.BusinessInfoCopied &&
		a.Migration.Completed == b.Migration.Completed &&
		a.Migration.Attempts == b.Migration.Attempts &&
		sameTimePtr(a.LastProviderEventAt, b.LastProviderEventAt) &&
		a.LastProviderEventID == b.LastProviderEventID
}

// projectView applies the time-based rules to a cached snapshot so an
// offline read reflects boundaries that have passed since it was written.
func projectView(e *types.Entitlement, now time.Time) *types.Entitlement {
	v := *e
	if e.NextBillingDate != nil {
		t := *e.NextBillingDate
		v.NextBillingDate = &t
	}
	if v.Tier == types.TierPro && v.SubscriptionStatus == types.SubStatusCanceled &&
		v.NextBillingDate != nil && !now.Before(*v.NextBillingDate) {
		v.Tier = types.TierFree
		v.NextBillingDate = nil
		v.InvoicesThisPeriod = capUsage(v.InvoicesThisPeriod, v.MaxFreeInvoices)
	}
	if billing.CrossedPeriod(v.PeriodAnchor, now) {
		v.InvoicesThisPeriod = 0
		v.PeriodAnchor = billing.PeriodStart(now)
	}
	return &v
}
