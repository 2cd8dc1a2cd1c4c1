package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionRepo owns the bulk maintenance queries: age-based purges and
// stale-lease recovery. Both run from background workers under a
// distributed lock, never from request handlers.
type RetentionRepo struct{ db *sql.DB }

// NewRetentionRepo creates a Postgres-backed retention repository.
func NewRetentionRepo(db *sql.DB) *RetentionRepo { return &RetentionRepo{db: db} }

// PurgeQueueItems deletes terminal queue items completed before the cutoff,
// in batches so the table is never locked for long. Returns the number of
// rows deleted. In-flight and eligible items are never touched.
func (r *RetentionRepo) PurgeQueueItems(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return r.purgeBatched(ctx, `
		DELETE FROM mail_queue WHERE id IN (
			SELECT id FROM mail_queue
			WHERE status IN ('sent', 'failed', 'cancelled')
			  AND completed_at < $1
			LIMIT $2
		)
	`, cutoff, batchSize)
}

// PurgeEvents deletes events older than the cutoff in batches. Returns the
// number of rows deleted.
func (r *RetentionRepo) PurgeEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return r.purgeBatched(ctx, `
		DELETE FROM mail_events WHERE id IN (
			SELECT id FROM mail_events
			WHERE occurred_at < $1
			LIMIT $2
		)
	`, cutoff, batchSize)
}

func (r *RetentionRepo) purgeBatched(ctx context.Context, query string, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("purge batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

// ReclaimStale recovers items stuck in processing past the stale age,
// typically after a worker crash mid-attempt. Items with attempt budget
// left go back to pending; exhausted ones are failed with a lease-lost
// error and a failed event. Returns (requeued, failed) counts.
func (r *RetentionRepo) ReclaimStale(ctx context.Context, staleAge time.Duration) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin reclaim: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE mail_queue SET
			status = 'pending',
			worker_id = NULL,
			started_at = NULL
		WHERE status = 'processing'
		  AND started_at < NOW() - make_interval(secs => $1)
		  AND attempts < max_attempts
	`, staleAge.Seconds())
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale items: %w", err)
	}
	requeued, _ := res.RowsAffected()

	// Exhausted strays fail terminally, with the failed event written in
	// the same statement so the ledger stays consistent with the queue.
	res, err = tx.ExecContext(ctx, `
		WITH gone AS (
			UPDATE mail_queue SET
				status = 'failed',
				completed_at = NOW(),
				worker_id = NULL,
				last_error = 'worker lease expired mid-attempt'
			WHERE status = 'processing'
			  AND started_at < NOW() - make_interval(secs => $1)
			  AND attempts >= max_attempts
			RETURNING id, recipient, payload->>'subject' AS subject
		)
		INSERT INTO mail_events (id, email_id, queue_id, kind, recipient, subject, error, occurred_at)
		SELECT gen_random_uuid(), id, id, 'failed', recipient, subject,
			'worker lease expired mid-attempt', NOW()
		FROM gone
	`, staleAge.Seconds())
	if err != nil {
		return requeued, 0, fmt.Errorf("fail exhausted stale items: %w", err)
	}
	failed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return requeued, failed, fmt.Errorf("commit reclaim: %w", err)
	}
	return requeued, failed, nil
}
