package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the billing store.
var Migrations = migrate.NewGroup("billing")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_billing_customers",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_customers (
    id          TEXT PRIMARY KEY,
    account_id  TEXT NOT NULL,
    external_id TEXT NOT NULL,
    email       TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_customers_account ON billing_customers (account_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_customers_external ON billing_customers (external_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_customers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_subscriptions",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_subscriptions (
    id                   TEXT PRIMARY KEY,
    customer_id          TEXT NOT NULL DEFAULT '',
    account_id           TEXT NOT NULL DEFAULT '',
    plan_id              TEXT NOT NULL DEFAULT '',
    price_id             TEXT NOT NULL DEFAULT '',
    item_id              TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'incomplete',
    current_period_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    current_period_end   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
    cancel_at            TIMESTAMPTZ,
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_subs_customer ON billing_subscriptions (customer_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_subscription_cache",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_subscription_cache (
    customer_id TEXT PRIMARY KEY,
    payload     JSONB NOT NULL DEFAULT '{}',
    fetched_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_billing_sub_cache_expires ON billing_subscription_cache (expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_subscription_cache`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_usage",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_usage (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    plan_id    TEXT NOT NULL DEFAULT '',
    period     TEXT NOT NULL,
    audits     BIGINT NOT NULL DEFAULT 0,
    stacks     BIGINT NOT NULL DEFAULT 0,
    api_calls  BIGINT NOT NULL DEFAULT 0,
    reset_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_usage_account ON billing_usage (account_id);
CREATE INDEX IF NOT EXISTS idx_billing_usage_period ON billing_usage (period);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_usage`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_webhook_receipts",
			Version: "20260301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_webhook_receipts (
    event_id     TEXT PRIMARY KEY,
    id           TEXT NOT NULL,
    type         TEXT NOT NULL DEFAULT '',
    object_id    TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_receipts_processed ON billing_webhook_receipts (processed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_webhook_receipts`)
				return err
			},
		},
	)
}
