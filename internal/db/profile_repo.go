package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"invoicely/internal/types"
)

const profileColumns = `user_id, tier, subscription_status, invoices_this_period, period_anchor,
	next_billing_date, stripe_customer_id, stripe_subscription_id,
	migration_copied_ids, migration_business_copied, migration_completed, migration_attempts,
	last_provider_event_at, version, created_at, updated_at, last_provider_event_id`

// ProfileRepo persists CloudProfiles. Every mutation goes through
// CompareAndSwap, which is guarded by the version column.
type ProfileRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProfileRepo creates a ProfileRepo backed by the given connection.
func NewProfileRepo(db DBTX, logger *slog.Logger) *ProfileRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileRepo{db: db, logger: logger}
}

func scanProfile(row pgx.Row) (*types.CloudProfile, error) {
	var p types.CloudProfile
	var tier, status string
	err := row.Scan(
		&p.UserID, &tier, &status, &p.InvoicesThisPeriod, &p.PeriodAnchor,
		&p.NextBillingDate, &p.StripeCustomerID, &p.StripeSubscriptionID,
		&p.Migration.CopiedIDs, &p.Migration.BusinessInfoCopied, &p.Migration.Completed, &p.Migration.Attempts,
		&p.LastProviderEventAt, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.LastProviderEventID,
	)
	if err != nil {
		return nil, err
	}
	p.Tier = types.Tier(tier)
	p.SubscriptionStatus = types.SubscriptionStatus(status)
	p.PeriodAnchor = p.PeriodAnchor.UTC()
	return &p, nil
}

// Get returns the profile for userID or ErrCodeNotFoundProfile.
func (r *ProfileRepo) Get(ctx context.Context, userID string) (*types.CloudProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM entitlement_profiles WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "entitlement profile not found", nil)
	}
	if err != nil {
		return nil, mapDBError("failed to load entitlement profile", err)
	}
	return p, nil
}

// Create inserts p if no profile exists for p.UserID. A concurrent creator
// yields ErrCodeConflictExists. On success p.Version is set to 1.
func (r *ProfileRepo) Create(ctx context.Context, p *types.CloudProfile) error {
	copied := p.Migration.CopiedIDs
	if copied == nil {
		copied = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO entitlement_profiles (
			user_id, tier, subscription_status, invoices_this_period, period_anchor,
			next_billing_date, stripe_customer_id, stripe_subscription_id,
			migration_copied_ids, migration_business_copied, migration_completed, migration_attempts,
			last_provider_event_at, version, created_at, updated_at, last_provider_event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14, $15)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, string(p.Tier), string(p.SubscriptionStatus), p.InvoicesThisPeriod, p.PeriodAnchor,
		p.NextBillingDate, p.StripeCustomerID, p.StripeSubscriptionID,
		copied, p.Migration.BusinessInfoCopied, p.Migration.Completed, p.Migration.Attempts,
		p.LastProviderEventAt, p.CreatedAt, p.LastProviderEventID,
	)
	if err != nil {
		return mapDBError("failed to create entitlement profile", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictExists, "entitlement profile already exists", nil)
	}
	p.Version = 1
	p.UpdatedAt = p.CreatedAt
	return nil
}

// CompareAndSwap writes p only if the stored version still equals
// expectedVersion. The migration flags are OR-ed into the stored values so a
// completed migration is never reverted. On success p.Version and
// p.UpdatedAt reflect the new row; a version mismatch yields
// ErrCodeConflictConcurrent.
func (r *ProfileRepo) CompareAndSwap(ctx context.Context, p *types.CloudProfile, expectedVersion int64) error {
	copied := p.Migration.CopiedIDs
	if copied == nil {
		copied = []string{}
	}
	var newVersion int64
	var updatedAt time.Time
	err := r.db.QueryRow(ctx,
		`UPDATE entitlement_profiles SET
			tier = $3,
			subscription_status = $4,
			invoices_this_period = $5,
			period_anchor = $6,
			next_billing_date = $7,
			stripe_customer_id = $8,
			stripe_subscription_id = $9,
			migration_copied_ids = $10,
			migration_business_copied = migration_business_copied OR $11,
			migration_completed = migration_completed OR $12,
			migration_attempts = $13,
			last_provider_event_at = $14,
			last_provider_event_id = $15,
			version = version + 1,
			updated_at = NOW()
		WHERE user_id = $1 AND version = $2
		RETURNING version, updated_at`,
		p.UserID, expectedVersion,
		string(p.Tier), string(p.SubscriptionStatus), p.InvoicesThisPeriod, p.PeriodAnchor,
		p.NextBillingDate, p.StripeCustomerID, p.StripeSubscriptionID,
		copied, p.Migration.BusinessInfoCopied, p.Migration.Completed, p.Migration.Attempts,
		p.LastProviderEventAt, p.LastProviderEventID,
	).Scan(&newVersion, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.DebugContext(ctx, "entitlement profile version mismatch",
			"user_id", p.UserID, "expected_version", expectedVersion)
		return types.NewAppError(types.ErrCodeConflictConcurrent, "entitlement profile was modified concurrently", nil)
	}
	if err != nil {
		return mapDBError("failed to update entitlement profile", err)
	}
	p.Version = newVersion
	p.UpdatedAt = updatedAt
	return nil
}

// ListDueForRecheck returns users holding Pro in a pending state whose next
// billing date has passed or falls within window of now.
func (r *ProfileRepo) ListDueForRecheck(ctx context.Context, now time.Time, window time.Duration, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM entitlement_profiles
		 WHERE tier = 'pro'
		   AND subscription_status IN ('past_due', 'canceled')
		   AND next_billing_date IS NOT NULL
		   AND next_billing_date <= $1
		 ORDER BY next_billing_date
		 LIMIT $2`,
		now.Add(window), limit,
	)
	if err != nil {
		return nil, mapDBError("failed to list profiles due for recheck", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapDBError("failed to scan recheck candidate", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError("failed to iterate recheck candidates", err)
	}
	return ids, nil
}

// FindBySubscriptionID maps a provider subscription back to its owner.
func (r *ProfileRepo) FindBySubscriptionID(ctx context.Context, subscriptionID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM entitlement_profiles WHERE stripe_subscription_id = $1 LIMIT 1`,
		subscriptionID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeNotFoundProfile, "no profile linked to subscription", nil)
	}
	if err != nil {
		return "", mapDBError("failed to look up subscription owner", err)
	}
	return userID, nil
}

// Ping verifies connectivity for health probes.
func (r *ProfileRepo) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return mapDBError("database ping failed", err)
	}
	return nil
}
