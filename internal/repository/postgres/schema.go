package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		id BIGSERIAL PRIMARY KEY,
		amount NUMERIC(12,2) NOT NULL,
		from_person TEXT NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT,
		rescheduled_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL DEFAULT now(),
		payment_method TEXT NOT NULL,
		to_person TEXT NOT NULL,
		notes TEXT,
		reminder_id BIGINT REFERENCES reminders(id) ON DELETE SET NULL,
		user_id BIGINT REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_date_idx ON transactions (date DESC)`,
	`CREATE INDEX IF NOT EXISTS reminders_due_date_idx ON reminders (due_date)`,
}

// Migrate creates the tables the API needs if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	slog.Info("database schema ready", "statements", len(schema))
	return nil
}
