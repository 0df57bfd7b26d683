package db

import (
	"context"
	"fmt"
)

// schemaDDL creates the cloud tables. Statements are idempotent.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS entitlement_profiles (
		user_id                   TEXT PRIMARY KEY,
		tier                      TEXT NOT NULL DEFAULT 'free',
		subscription_status       TEXT NOT NULL DEFAULT 'none',
		invoices_this_period      INTEGER NOT NULL DEFAULT 0 CHECK (invoices_this_period >= 0),
		period_anchor             TIMESTAMPTZ NOT NULL,
		next_billing_date         TIMESTAMPTZ,
		stripe_customer_id        TEXT NOT NULL DEFAULT '',
		stripe_subscription_id    TEXT NOT NULL DEFAULT '',
		migration_copied_ids      TEXT[] NOT NULL DEFAULT '{}',
		migration_business_copied BOOLEAN NOT NULL DEFAULT FALSE,
		migration_completed       BOOLEAN NOT NULL DEFAULT FALSE,
		migration_attempts        INTEGER NOT NULL DEFAULT 0,
		last_provider_event_at    TIMESTAMPTZ,
		version                   BIGINT NOT NULL DEFAULT 1,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_provider_event_id    TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE entitlement_profiles
		ADD COLUMN IF NOT EXISTS last_provider_event_id TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS idx_entitlement_profiles_recheck
		ON entitlement_profiles (next_billing_date)
		WHERE tier = 'pro' AND subscription_status IN ('past_due', 'canceled')`,
	`CREATE INDEX IF NOT EXISTS idx_entitlement_profiles_subscription
		ON entitlement_profiles (stripe_subscription_id)
		WHERE stripe_subscription_id <> ''`,
	`CREATE TABLE IF NOT EXISTS cloud_invoices (
		id          UUID PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		local_id    TEXT NOT NULL DEFAULT '',
		number      TEXT NOT NULL DEFAULT '',
		customer    TEXT NOT NULL DEFAULT '',
		total_cents BIGINT NOT NULL DEFAULT 0,
		currency    TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		migrated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cloud_invoices_owner ON cloud_invoices (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS business_profiles (
		owner_id   TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL DEFAULT '',
		address    TEXT NOT NULL DEFAULT '',
		tax_id     TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema applies the DDL.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for i, stmt := range schemaDDL {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
