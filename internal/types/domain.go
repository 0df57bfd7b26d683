package types

import (
	"slices"
	"time"
)

// DefaultMaxFreeInvoices is the Free-tier invoice ceiling per period.
const DefaultMaxFreeInvoices = 3

// Entitlement is the reconciled view of a user's tier and usage handed to the
// rest of the application. It is derived from the cloud profile, corroborated by
// the payment provider, and mirrored into the local cache.
type Entitlement struct {
	UserID             string             `json:"user_id"`
	Tier               Tier               `json:"tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	InvoicesThisPeriod int                `json:"invoices_this_period"`
	MaxFreeInvoices    int                `json:"max_free_invoices"`
	PeriodAnchor       time.Time          `json:"period_anchor"`
	NextBillingDate    *time.Time         `json:"next_billing_date,omitempty"`
	MigrationCompleted bool               `json:"migration_completed"`

	// Stale is set when the view was served without a successful authoritative
	// read (store or provider unreachable).
	Stale      bool      `json:"stale"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// IsPro reports whether the entitlement grants Pro behavior.
func (e *Entitlement) IsPro() bool {
	return e != nil && e.Tier == TierPro
}

// Remaining returns the number of invoices still allowed this period.
// unlimited is true for Pro users, in which case count is meaningless.
func (e *Entitlement) Remaining() (count int, unlimited bool) {
	if e.IsPro() {
		return 0, true
	}
	left := e.MaxFreeInvoices - e.InvoicesThisPeriod
	if left < 0 {
		left = 0
	}
	return left, false
}

// MigrationRecord tracks the one-time local-to-cloud migration. CopiedIDs is the
// dedup mechanism; Completed is only the terminal marker.
type MigrationRecord struct {
	CopiedIDs          []string `json:"copied_ids"`
	BusinessInfoCopied bool     `json:"business_info_copied"`
	Completed          bool     `json:"completed"`
	Attempts           int      `json:"attempts"`
}

// HasCopied reports whether the local identifier is already recorded as copied.
func (m *MigrationRecord) HasCopied(localID string) bool {
	return slices.Contains(m.CopiedIDs, localID)
}

// CloudProfile is the authoritative per-user record held by the cloud store.
// Version is the compare-and-swap token; every successful write increments it.
type CloudProfile struct {
	UserID               string             `json:"user_id"`
	Tier                 Tier               `json:"tier"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	InvoicesThisPeriod   int                `json:"invoices_this_period"`
	PeriodAnchor         time.Time          `json:"period_anchor"`
	NextBillingDate      *time.Time         `json:"next_billing_date,omitempty"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	Migration            MigrationRecord    `json:"migration"`
	LastProviderEventAt  *time.Time         `json:"last_provider_event_at,omitempty"`
	LastProviderEventID  string             `json:"last_provider_event_id,omitempty"`
	Version              int64              `json:"version"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// NewDefaultProfile returns the initial record for a first-time user:
// Free tier, no usage, migration pending.
func NewDefaultProfile(userID string, periodAnchor, now time.Time) *CloudProfile {
	return &CloudProfile{
		UserID:             userID,
		Tier:               TierFree,
		SubscriptionStatus: SubStatusNone,
		PeriodAnchor:       periodAnchor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy so callers can mutate a candidate without touching
// the version they read.
func (p *CloudProfile) Clone() *CloudProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.NextBillingDate != nil {
		t := *p.NextBillingDate
		c.NextBillingDate = &t
	}
	if p.LastProviderEventAt != nil {
		t := *p.LastProviderEventAt
		c.LastProviderEventAt = &t
	}
	c.Migration.CopiedIDs = slices.Clone(p.Migration.CopiedIDs)
	return &c
}

// HasSubscription reports whether the profile links to a provider subscription.
func (p *CloudProfile) HasSubscription() bool {
	return p.StripeSubscriptionID != ""
}

// Entitlement projects the profile into the application-facing view.
func (p *CloudProfile) Entitlement(maxFree int, resolvedAt time.Time) *Entitlement {
	e := &Entitlement{
		UserID:             p.UserID,
		Tier:               p.Tier,
		SubscriptionStatus: p.SubscriptionStatus,
		InvoicesThisPeriod: p.InvoicesThisPeriod,
		MaxFreeInvoices:    maxFree,
		PeriodAnchor:       p.PeriodAnchor,
		MigrationCompleted: p.Migration.Completed,
		ResolvedAt:         resolvedAt,
	}
	if p.Tier == TierPro && p.NextBillingDate != nil {
		t := *p.NextBillingDate
		e.NextBillingDate = &t
	}
	return e
}

// LocalInvoice is an invoice persisted on the device before the user had an account.
type LocalInvoice struct {
	ID         string    `json:"id" validate:"required,max=128"`
	Number     string    `json:"number" validate:"max=64"`
	Customer   string    `json:"customer" validate:"max=256"`
	TotalCents int64     `json:"total_cents" validate:"gte=0"`
	Currency   string    `json:"currency" validate:"omitempty,len=3"`
	CreatedAt  time.Time `json:"created_at" validate:"required"`
}

// CloudInvoice is an invoice document in the per-user cloud collection.
type CloudInvoice struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	LocalID    string    `json:"local_id,omitempty"`
	Number     string    `json:"number"`
	Customer   string    `json:"customer"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
	MigratedAt time.Time `json:"migrated_at"`
}

// BusinessInfo is the sender profile printed on invoices.
type BusinessInfo struct {
	Name    string `json:"name" validate:"required,max=256"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=64"`
	Address string `json:"address" validate:"max=1024"`
	TaxID   string `json:"tax_id" validate:"max=64"`
}

// MigrationResult reports the outcome of one migration run.
type MigrationResult struct {
	InvoicesMigrated     int  `json:"invoices_migrated"`
	BusinessInfoMigrated bool `json:"business_info_migrated"`
	Outstanding          int  `json:"outstanding"`
	Completed            bool `json:"completed"`
	AlreadyCompleted     bool `json:"already_completed"`
}

// ProviderSubscription is the payment provider's view of a subscription,
// already collapsed to the statuses this subsystem reasons about.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            SubscriptionStatus
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// ProviderEvent is a subscription event delivered asynchronously by the payment
// provider. OccurredAt orders events; older events than the last applied one are ignored.
type ProviderEvent struct {
	// ID is the provider's event identifier, used to drop redeliveries.
	ID               string
	Type             ProviderEventType
	UserID           string
	CustomerID       string
	SubscriptionID   string
	CurrentPeriodEnd *time.Time
	OccurredAt       time.Time
}
