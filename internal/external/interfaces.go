package external

import (
	"context"

	"invoicely/internal/types"
)

// SubscriptionProvider reads subscription state from the payment provider.
type SubscriptionProvider interface {
	// GetSubscription returns the provider's current view of subscriptionID.
	// Unknown subscriptions yield ErrCodeNotFoundSubscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// Stripe event types consumed by the webhook handler.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)
