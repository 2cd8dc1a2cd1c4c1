package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
)

// EventRepo implements events.Repository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event log repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, email_id, queue_id, kind, recipient, subject, provider,
	provider_message_id, provider_response, error, click_url, ip_address,
	user_agent, occurred_at`

const insertEventSQL = `
	INSERT INTO mail_events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertEventTx appends one event using the given executor, so the queue
// repository can write lifecycle events inside its own transactions.
func insertEventTx(ctx context.Context, ex execer, ev *domain.DeliveryEvent) error {
	_, err := ex.ExecContext(ctx, insertEventSQL,
		ev.ID, ev.EmailID, ev.QueueID, ev.Kind, ev.Recipient,
		nullStr(ev.Subject), nullStr(ev.Provider), nullStr(ev.ProviderMessageID),
		nullStr(ev.ProviderResponse), nullStr(ev.Error), nullStr(ev.ClickURL),
		nullStr(ev.IPAddress), nullStr(ev.UserAgent), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind, err)
	}
	return nil
}

func (r *EventRepo) Insert(ctx context.Context, ev *domain.DeliveryEvent) error {
	return insertEventTx(ctx, r.db, ev)
}

func (r *EventRepo) Query(ctx context.Context, f domain.EventFilter) ([]domain.DeliveryEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM mail_events WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.EmailID != nil {
		q += ` AND email_id = ` + arg(*f.EmailID)
	}
	if f.Recipient != "" {
		q += ` AND recipient = ` + arg(f.Recipient)
	}
	if f.Kind != "" {
		q += ` AND kind = ` + arg(f.Kind)
	}
	if !f.From.IsZero() {
		q += ` AND occurred_at >= ` + arg(f.From)
	}
	if !f.To.IsZero() {
		q += ` AND occurred_at <= ` + arg(f.To)
	}
	if f.ErrorsOnly {
		q += ` AND error IS NOT NULL`
	}
	q += ` ORDER BY occurred_at DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryEvent
	for rows.Next() {
		var (
			ev                              domain.DeliveryEvent
			subject, provider, providerMsg  sql.NullString
			response, evErr, clickURL       sql.NullString
			ip, userAgent                   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EmailID, &ev.QueueID, &ev.Kind, &ev.Recipient,
			&subject, &provider, &providerMsg, &response, &evErr, &clickURL,
			&ip, &userAgent, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Subject = subject.String
		ev.Provider = provider.String
		ev.ProviderMessageID = providerMsg.String
		ev.ProviderResponse = response.String
		ev.Error = evErr.String
		ev.ClickURL = clickURL.String
		ev.IPAddress = ip.String
		ev.UserAgent = userAgent.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *EventRepo) DailyCounts(ctx context.Context, from, to time.Time) ([]domain.DailyCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc('day', occurred_at) AS day, kind, COUNT(*)
		FROM mail_events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		GROUP BY day, kind
		ORDER BY day, kind
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily counts: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyCount
	for rows.Next() {
		var c domain.DailyCount
		if err := rows.Scan(&c.Day, &c.Kind, &c.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *EventRepo) Funnel(ctx context.Context, window time.Duration) (*domain.FunnelStats, error) {
	var stats domain.FunnelStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'sent'),
			COUNT(*) FILTER (WHERE kind = 'delivered'),
			COUNT(*) FILTER (WHERE kind IN ('bounced', 'hard_bounce', 'soft_bounce')),
			COUNT(*) FILTER (WHERE kind = 'opened'),
			COUNT(*) FILTER (WHERE kind = 'clicked'),
			COUNT(*) FILTER (WHERE kind = 'spam_complaint'),
			COUNT(*) FILTER (WHERE kind = 'failed')
		FROM mail_events
		WHERE occurred_at > NOW() - make_interval(secs => $1)
	`, window.Seconds()).Scan(&stats.Sent, &stats.Delivered, &stats.Bounced,
		&stats.Opened, &stats.Clicked, &stats.Complaints, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	return &stats, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
