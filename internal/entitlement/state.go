package entitlement

import (
	"slices"

	"invoicely/internal/types"
)

// Transition is a move between two tier states.
type Transition struct {
	From types.TierState
	To   types.TierState
}

var validTransitions = map[Transition]bool{
	{types.StateFree, types.StateProActive}:                        true, // checkout completed
	{types.StateProActive, types.StateProActive}:                   true, // renewal
	{types.StateProActive, types.StateProPastDue}:                  true, // renewal payment failed
	{types.StateProActive, types.StateProCanceledPending}:          true, // cancellation scheduled
	{types.StateProPastDue, types.StateProActive}:                  true, // payment recovered
	{types.StateProPastDue, types.StateProCanceledPending}:         true, // canceled while past due
	{types.StateProPastDue, types.StateFree}:                       true, // grace window ended
	{types.StateProCanceledPending, types.StateProActive}:          true, // cancellation undone or re-subscribed
	{types.StateProCanceledPending, types.StateProCanceledPending}: true, // subscription ended after scheduling
	{types.StateProCanceledPending, types.StateFree}:               true, // next billing date reached
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to types.TierState) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns the allowed targets from a state, sorted.
func ValidTransitionsFrom(from types.TierState) []types.TierState {
	targets := make([]types.TierState, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// StateOf classifies a profile into its tier state.
func StateOf(p *types.CloudProfile) types.TierState {
	if p == nil || p.Tier != types.TierPro {
		return types.StateFree
	}
	switch p.SubscriptionStatus {
	case types.SubStatusPastDue:
		return types.StateProPastDue
	case types.SubStatusCanceled:
		return types.StateProCanceledPending
	default:
		return types.StateProActive
	}
}

// ApplyEvent returns the profile after a provider event. applied is false when
// the event is older than the last one applied, is a redelivery of it, or does
// not move the state machine from the profile's current state; the returned
// profile is then an unchanged copy.
//
// Provider timestamps have one-second resolution, so an event stamped with the
// same second as the last applied one is still applied unless it carries the
// same ID (or no ID at all).
func ApplyEvent(p *types.CloudProfile, ev types.ProviderEvent) (*types.CloudProfile, bool) {
	next := p.Clone()
	if superseded(p, ev) {
		return next, false
	}

	from := StateOf(p)
	var to types.TierState

	switch ev.Type {
	case types.ProviderEventCheckoutCompleted:
		to = types.StateProActive
		next.Tier = types.TierPro
		next.SubscriptionStatus = types.SubStatusActive
		if ev.CustomerID != "" {
			next.StripeCustomerID = ev.CustomerID
		}
		if ev.SubscriptionID != "" {
			next.StripeSubscriptionID = ev.SubscriptionID
		}
		if ev.CurrentPeriodEnd != nil {
			next.NextBillingDate = optionalTime(*ev.CurrentPeriodEnd)
		}

	case types.ProviderEventPaymentFailed:
		to = types.StateProPastDue
		next.SubscriptionStatus = types.SubStatusPastDue

	case types.ProviderEventPaymentRecovered:
		to = types.StateProActive
		next.SubscriptionStatus = types.SubStatusActive
		if ev.CurrentPeriodEnd != nil {
			next.NextBillingDate = optionalTime(*ev.CurrentPeriodEnd)
		}

	case types.ProviderEventCancellationScheduled, types.ProviderEventSubscriptionEnded:
		to = types.StateProCanceledPending
		next.SubscriptionStatus = types.SubStatusCanceled
		if next.NextBillingDate == nil {
			if ev.CurrentPeriodEnd != nil {
				next.NextBillingDate = optionalTime(*ev.CurrentPeriodEnd)
			} else {
				next.NextBillingDate = optionalTime(ev.OccurredAt)
			}
		}

	default:
		return p.Clone(), false
	}

	if !CanTransition(from, to) {
		return p.Clone(), false
	}

	at := ev.OccurredAt.UTC()
	next.LastProviderEventAt = &at
	next.LastProviderEventID = ev.ID
	return next, true
}

func superseded(p *types.CloudProfile, ev types.ProviderEvent) bool {
	if p.LastProviderEventAt == nil {
		return false
	}
	last := *p.LastProviderEventAt
	switch {
	case ev.OccurredAt.Before(last):
		return true
	case ev.OccurredAt.Equal(last):
		return ev.ID == "" || ev.ID == p.LastProviderEventID
	default:
		return false
	}
}
