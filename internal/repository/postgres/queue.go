package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/service/queue"
)

// QueueRepo implements queue.Repository against PostgreSQL.
type QueueRepo struct{ db *sql.DB }

// NewQueueRepo creates a Postgres-backed queue repository.
func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

const queueColumns = `id, payload, status, attempts, max_attempts, last_error,
	scheduled_at, next_retry_at, started_at, completed_at, created_at,
	priority, worker_id, provider_message_id`

func (r *QueueRepo) Insert(ctx context.Context, item *domain.QueueItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mail_queue (id, recipient, payload, status, attempts, max_attempts,
			scheduled_at, created_at, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.Payload.Recipient.NormalizedEmail(), payload, item.Status,
		item.Attempts, item.MaxAttempts, item.ScheduledAt, item.CreatedAt, item.Priority)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}

	ev := domain.NewEvent(item.ID, domain.EventQueued, item.Payload.Recipient.Email)
	ev.QueueID = &item.ID
	ev.Subject = item.Payload.Subject
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *QueueRepo) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM mail_queue WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	return item, err
}

// Claim marks up to limit due items as processing and returns them in
// dispatch order. The inner SELECT takes row locks with SKIP LOCKED so
// concurrent pollers pass over each other's rows instead of blocking or
// double-claiming. Recipients suppressed since enqueue are skipped here as a
// second gate. UPDATE ... RETURNING emits rows in no guaranteed order, so
// the outer SELECT re-sorts the claimed batch.
func (r *QueueRepo) Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE mail_queue SET
				status = 'processing',
				worker_id = $1,
				started_at = NOW(),
				attempts = attempts + 1
			WHERE id IN (
				SELECT q.id FROM mail_queue q
				WHERE q.status IN ('pending', 'deferred')
				  AND q.scheduled_at <= NOW()
				  AND (q.next_retry_at IS NULL OR q.next_retry_at <= NOW())
				  AND NOT EXISTS (
					SELECT 1 FROM mail_suppressions s
					WHERE s.email = q.recipient
					  AND (s.expires_at IS NULL OR s.expires_at > NOW())
				  )
				ORDER BY q.priority DESC, q.scheduled_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+queueColumns+`
		)
		SELECT `+queueColumns+` FROM claimed
		ORDER BY priority DESC, scheduled_at ASC`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *QueueRepo) MarkSent(ctx context.Context, id uuid.UUID, provider, providerMessageID, providerResponse string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark sent: %w", err)
	}
	defer tx.Rollback()

	var recipient, subject string
	err = tx.QueryRowContext(ctx, `
		UPDATE mail_queue SET
			status = 'sent',
			completed_at = NOW(),
			worker_id = NULL,
			last_error = NULL,
			provider_message_id = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING recipient, payload->>'subject'
	`, id, providerMessageID).Scan(&recipient, &subject)
	if err == sql.ErrNoRows {
		return r.transitionError(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	ev := domain.NewEvent(id, domain.EventSent, recipient)
	ev.QueueID = &id
	ev.Subject = subject
	ev.Provider = provider
	ev.ProviderMessageID = providerMessageID
	ev.ProviderResponse = providerResponse
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *QueueRepo) Defer(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mail_queue SET
			status = 'deferred',
			last_error = $2,
			next_retry_at = $3,
			worker_id = NULL
		WHERE id = $1 AND status = 'processing'
	`, id, lastError, nextRetryAt)
	if err != nil {
		return fmt.Errorf("defer queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *QueueRepo) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	var recipient, subject string
	err = tx.QueryRowContext(ctx, `
		UPDATE mail_queue SET
			status = 'failed',
			completed_at = NOW(),
			last_error = $2,
			worker_id = NULL
		WHERE id = $1 AND status = 'processing'
		RETURNING recipient, payload->>'subject'
	`, id, lastError).Scan(&recipient, &subject)
	if err == sql.ErrNoRows {
		return r.transitionError(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("fail queue item: %w", err)
	}

	ev := domain.NewEvent(id, domain.EventFailed, recipient)
	ev.QueueID = &id
	ev.Subject = subject
	ev.Error = lastError
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *QueueRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mail_queue SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'deferred')
	`, id)
	if err != nil {
		return fmt.Errorf("cancel queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *QueueRepo) Reset(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mail_queue SET
			status = 'pending',
			attempts = 0,
			last_error = NULL,
			next_retry_at = NULL,
			started_at = NULL,
			completed_at = NULL,
			worker_id = NULL,
			scheduled_at = NOW()
		WHERE id = $1 AND status IN ('failed', 'cancelled')
	`, id)
	if err != nil {
		return fmt.Errorf("reset queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *QueueRepo) List(ctx context.Context, status domain.QueueStatus, limit, offset int) ([]domain.QueueItem, error) {
	q := `SELECT ` + queueColumns + ` FROM mail_queue`
	args := []any{limit, offset}
	if status != "" {
		q += ` WHERE status = $3`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *QueueRepo) Stats(ctx context.Context) (*domain.QueueStats, error) {
	var stats domain.QueueStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'deferred'),
			COUNT(*) FILTER (WHERE status = 'sent' AND completed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at > NOW() - INTERVAL '24 hours')
		FROM mail_queue
	`).Scan(&stats.Pending, &stats.Processing, &stats.Deferred, &stats.Sent24h, &stats.Failed24h)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

// transitionError maps a zero-row update to the right sentinel: the item
// either doesn't exist or is in a status the operation doesn't accept.
func (r *QueueRepo) transitionError(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM mail_queue WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check queue item: %w", err)
	}
	if !exists {
		return queue.ErrNotFound
	}
	return queue.ErrInvalidTransition
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row scanner) (*domain.QueueItem, error) {
	var (
		item    domain.QueueItem
		payload []byte
		lastErr, workerID, providerMsgID sql.NullString
		nextRetry, started, completed    sql.NullTime
	)
	err := row.Scan(&item.ID, &payload, &item.Status, &item.Attempts, &item.MaxAttempts,
		&lastErr, &item.ScheduledAt, &nextRetry, &started, &completed,
		&item.CreatedAt, &item.Priority, &workerID, &providerMsgID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	item.LastError = lastErr.String
	item.WorkerID = workerID.String
	item.ProviderMessageID = providerMsgID.String
	if nextRetry.Valid {
		item.NextRetryAt = &nextRetry.Time
	}
	if started.Valid {
		item.StartedAt = &started.Time
	}
	if completed.Valid {
		item.CompletedAt = &completed.Time
	}
	return &item, nil
}
