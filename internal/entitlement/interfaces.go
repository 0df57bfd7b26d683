// Package entitlement decides, for any user at any moment, whether they are
// Free or Pro, how many invoices they have used this period, and whether a
// new invoice may be created. The cloud profile is authoritative, the payment
// provider corroborates it, and the local cache is advisory only.
package entitlement

import (
	"context"
	"time"

	"invoicely/internal/types"
)

// ProfileStore is the authoritative per-user record. All writes are
// conditional on the version read.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*types.CloudProfile, error)
	// Create fails with ErrCodeConflictExists if a profile already exists.
	Create(ctx context.Context, p *types.CloudProfile) error
	// CompareAndSwap fails with ErrCodeConflictConcurrent on a version mismatch.
	CompareAndSwap(ctx context.Context, p *types.CloudProfile, expectedVersion int64) error
	ListDueForRecheck(ctx context.Context, now time.Time, window time.Duration, limit int) ([]string, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (string, error)
}

// InvoiceCollection is the per-user cloud invoice collection.
type InvoiceCollection interface {
	InsertIfAbsent(ctx context.Context, inv types.CloudInvoice) (bool, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]types.CloudInvoice, error)
}

// BusinessInfoStore holds the cloud copy of the business profile.
type BusinessInfoStore interface {
	PutBusinessInfo(ctx context.Context, ownerID string, info types.BusinessInfo) error
	// GetBusinessInfo returns nil with no error when nothing is stored.
	GetBusinessInfo(ctx context.Context, ownerID string) (*types.BusinessInfo, error)
}

// LocalCache is the on-device mirror of the last resolved entitlement.
type LocalCache interface {
	LoadSnapshot(ctx context.Context, userID string) (*types.Entitlement, bool, error)
	SaveSnapshot(ctx context.Context, e *types.Entitlement) error
	MigrationCompleted(ctx context.Context, userID string) (bool, error)
	MarkMigrationCompleted(ctx context.Context, userID string) error
}

// LocalSource yields the pre-account history to migrate.
type LocalSource interface {
	ListInvoices(ctx context.Context) ([]types.LocalInvoice, error)
	BusinessInfo(ctx context.Context) (*types.BusinessInfo, error)
}

// SubscriptionProvider reads subscription state from the payment provider.
type SubscriptionProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
}

// Migrator runs the one-time local-to-cloud migration for a user.
type Migrator interface {
	MigrateIfNeeded(ctx context.Context, userID string) (*types.MigrationResult, error)
}

// Policy tunes retry bounds and grace windows.
type Policy struct {
	CASMaxAttempts           int
	ProviderTimeout          time.Duration
	PastDueGrace             time.Duration
	MigrationNoticeThreshold int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		CASMaxAttempts:           5,
		ProviderTimeout:          5 * time.Second,
		PastDueGrace:             7 * 24 * time.Hour,
		MigrationNoticeThreshold: 3,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.CASMaxAttempts <= 0 {
		p.CASMaxAttempts = d.CASMaxAttempts
	}
	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = d.ProviderTimeout
	}
	if p.PastDueGrace < 0 {
		p.PastDueGrace = 0
	}
	if p.MigrationNoticeThreshold <= 0 {
		p.MigrationNoticeThreshold = d.MigrationNoticeThreshold
	}
	return p
}
