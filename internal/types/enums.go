package types

// Tier identifies the billing classification of a user.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// SubscriptionStatus mirrors the payment provider's last known subscription state.
type SubscriptionStatus string

const (
	SubStatusNone     SubscriptionStatus = "none"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusNone, SubStatusActive, SubStatusPastDue, SubStatusCanceled:
		return true
	}
	return false
}

// TierState is the combined tier/subscription state used by the tier state machine.
// Pro-canceled-pending keeps Pro behavior until the stored next billing date.
type TierState string

const (
	StateFree               TierState = "free"
	StateProActive          TierState = "pro_active"
	StateProPastDue         TierState = "pro_past_due"
	StateProCanceledPending TierState = "pro_canceled_pending"
)

// ProviderEventType identifies a subscription event delivered by the payment
// provider (webhook) and consumed by the state machine.
type ProviderEventType string

const (
	ProviderEventCheckoutCompleted     ProviderEventType = "checkout_completed"
	ProviderEventPaymentFailed         ProviderEventType = "payment_failed"
	ProviderEventPaymentRecovered      ProviderEventType = "payment_recovered"
	ProviderEventCancellationScheduled ProviderEventType = "cancellation_scheduled"
	ProviderEventSubscriptionEnded     ProviderEventType = "subscription_ended"
)
