package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the schema if it does not exist. Safe to run on every
// startup; every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mail_queue (
		id UUID PRIMARY KEY,
		recipient VARCHAR(320) NOT NULL,
		payload JSONB NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL DEFAULT 3,
		last_error TEXT,
		scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		next_retry_at TIMESTAMP WITH TIME ZONE,
		started_at TIMESTAMP WITH TIME ZONE,
		completed_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		priority INT NOT NULL DEFAULT 0,
		worker_id VARCHAR(100),
		provider_message_id VARCHAR(200)
	)`,

	// Partial index covering exactly the claim query's scan.
	`CREATE INDEX IF NOT EXISTS idx_mail_queue_claim
		ON mail_queue (priority DESC, scheduled_at ASC)
		WHERE status IN ('pending', 'deferred')`,
	`CREATE INDEX IF NOT EXISTS idx_mail_queue_completed
		ON mail_queue (completed_at)
		WHERE completed_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mail_queue_stale
		ON mail_queue (started_at)
		WHERE status = 'processing'`,

	`CREATE TABLE IF NOT EXISTS mail_events (
		id UUID PRIMARY KEY,
		email_id UUID NOT NULL,
		queue_id UUID,
		kind VARCHAR(30) NOT NULL,
		recipient VARCHAR(320) NOT NULL,
		subject TEXT,
		provider VARCHAR(50),
		provider_message_id VARCHAR(200),
		provider_response TEXT,
		error TEXT,
		click_url TEXT,
		ip_address VARCHAR(45),
		user_agent TEXT,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mail_events_email ON mail_events (email_id, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_mail_events_kind ON mail_events (kind, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_mail_events_occurred ON mail_events (occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_mail_events_recipient ON mail_events (recipient, occurred_at DESC)`,

	`CREATE TABLE IF NOT EXISTS mail_bounces (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		bounce_type VARCHAR(20) NOT NULL,
		reason TEXT,
		diagnostic TEXT,
		first_bounce_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		last_bounce_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		bounce_count INT NOT NULL DEFAULT 1,
		suppressed BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS mail_complaints (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		complaint_type VARCHAR(30) NOT NULL,
		email_id UUID,
		feedback_id VARCHAR(200),
		user_agent TEXT,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		suppressed BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS mail_suppressions (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		reason VARCHAR(30) NOT NULL,
		source_id UUID,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE
	)`,

	`CREATE TABLE IF NOT EXISTS mail_unsubscribes (
		id UUID PRIMARY KEY,
		email VARCHAR(320) NOT NULL,
		list_id VARCHAR(100) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (email, list_id)
	)`,
}
