package database

import (
	"context"
	"fmt"
)

// UniqueSubscriptionPeriodConstraint guards against materializing the same
// subscription period twice.
const UniqueSubscriptionPeriodConstraint = "uq_expenses_subscription_period"

// RunMigrations creates the database schema.
func RunMigrations(ctx context.Context, db PGXDB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`ALTER TABLE users ADD COLUMN IF NOT EXISTS default_currency TEXT NOT NULL DEFAULT 'SGD'`,

		`CREATE TABLE IF NOT EXISTS categories (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`ALTER TABLE categories ADD COLUMN IF NOT EXISTS user_id BIGINT REFERENCES users(id) ON DELETE CASCADE`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			amount DECIMAL(12, 2) NOT NULL CHECK (amount > 0),
			currency TEXT NOT NULL DEFAULT 'SGD',
			cycle TEXT NOT NULL CHECK (cycle IN ('daily', 'weekly', 'monthly', 'quarterly', 'biannually', 'yearly')),
			start_date DATE NOT NULL,
			next_billing DATE NOT NULL,
			end_date DATE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			auto_expense BOOLEAN NOT NULL DEFAULT TRUE,
			category_id INTEGER,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_subscriptions_next_billing CHECK (next_billing >= start_date)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id)`,
		`DROP INDEX IF EXISTS idx_subscriptions_due`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_next_billing ON subscriptions(next_billing)`,

		`CREATE TABLE IF NOT EXISTS expenses (
			id SERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			amount DECIMAL(12, 2) NOT NULL,
			currency TEXT NOT NULL DEFAULT 'SGD',
			description TEXT NOT NULL DEFAULT '',
			merchant TEXT NOT NULL DEFAULT '',
			category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
			status TEXT NOT NULL DEFAULT 'confirmed',
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`ALTER TABLE expenses ADD COLUMN IF NOT EXISTS subscription_id UUID REFERENCES subscriptions(id) ON DELETE SET NULL`,
		`ALTER TABLE expenses ADD COLUMN IF NOT EXISTS generated_for_period DATE`,

		`DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = '` + UniqueSubscriptionPeriodConstraint + `'
			) THEN
				ALTER TABLE expenses ADD CONSTRAINT ` + UniqueSubscriptionPeriodConstraint + `
					UNIQUE (subscription_id, generated_for_period);
			END IF;
		END $$`,

		`CREATE INDEX IF NOT EXISTS idx_expenses_user_id ON expenses(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_occurred_at ON expenses(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_category_id ON expenses(category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_status ON expenses(status)`,

		`CREATE TABLE IF NOT EXISTS billing_runs (
			id BIGSERIAL PRIMARY KEY,
			as_of DATE NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			expenses_created INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			backlog INTEGER NOT NULL DEFAULT 0,
			report JSONB NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_billing_runs_started_at ON billing_runs(started_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// DefaultCategories are the shared categories seeded on startup.
var DefaultCategories = []string{
	"Food - Dining Out",
	"Food - Grocery",
	"Transportation",
	"Communication",
	"Housing - Mortgage",
	"Housing - Others",
	"Personal Care",
	"Health and Wellness",
	"Education",
	"Entertainment",
	"Credit/Debt Payments",
	"Others",
	"Utilities",
	"Travel & Vacation",
	"Subscriptions",
	"Donations",
}

// SeedCategories inserts the default expense categories.
func SeedCategories(ctx context.Context, db PGXDB) error {
	for _, cat := range DefaultCategories {
		_, err := db.Exec(ctx,
			`INSERT INTO categories (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			cat,
		)
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", cat, err)
		}
	}

	return nil
}
