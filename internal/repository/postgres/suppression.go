package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// RecordBounce upserts the address's bounce record and, when the history
// mandates it, the suppression row — all in one transaction, so the bounce
// can never be committed without its suppression.
func (r *SuppressionRepo) RecordBounce(ctx context.Context, in suppression.BounceInput) (*domain.BounceRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record bounce: %w", err)
	}
	defer tx.Rollback()

	// Once hard, always hard: a later soft bounce never downgrades the type.
	rec := &domain.BounceRecord{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO mail_bounces (id, email, bounce_type, reason, diagnostic)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			bounce_count = mail_bounces.bounce_count + 1,
			last_bounce_at = NOW(),
			reason = EXCLUDED.reason,
			diagnostic = EXCLUDED.diagnostic,
			bounce_type = CASE
				WHEN EXCLUDED.bounce_type = 'hard' THEN 'hard'
				ELSE mail_bounces.bounce_type
			END
		RETURNING id, email, bounce_type, reason, diagnostic,
			first_bounce_at, last_bounce_at, bounce_count, suppressed
	`, uuid.New(), in.Email, in.Type, in.Reason, in.Diagnostic).Scan(
		&rec.ID, &rec.Email, &rec.BounceType, &rec.Reason, &rec.Diagnostic,
		&rec.FirstBounceAt, &rec.LastBounceAt, &rec.BounceCount, &rec.Suppressed)
	if err != nil {
		return nil, fmt.Errorf("upsert bounce: %w", err)
	}

	if rec.ShouldSuppress() {
		if err := upsertSuppressionTx(ctx, tx, rec.Email, domain.SuppressBounce, &rec.ID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mail_bounces SET suppressed = true WHERE email = $1`, rec.Email,
		); err != nil {
			return nil, fmt.Errorf("flag bounce suppressed: %w", err)
		}
		rec.Suppressed = true
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record bounce: %w", err)
	}
	return rec, nil
}

// RecordComplaint upserts the address's complaint record and, for abuse
// complaints, the suppression row in the same transaction.
func (r *SuppressionRepo) RecordComplaint(ctx context.Context, in suppression.ComplaintInput) (*domain.ComplaintRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record complaint: %w", err)
	}
	defer tx.Rollback()

	rec := &domain.ComplaintRecord{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO mail_complaints (id, email, complaint_type, email_id, feedback_id, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			complaint_type = EXCLUDED.complaint_type,
			email_id = COALESCE(EXCLUDED.email_id, mail_complaints.email_id),
			feedback_id = EXCLUDED.feedback_id,
			user_agent = EXCLUDED.user_agent,
			occurred_at = NOW()
		RETURNING id, email, complaint_type, email_id, COALESCE(feedback_id, ''),
			COALESCE(user_agent, ''), occurred_at, suppressed
	`, uuid.New(), in.Email, in.Type, in.EmailID, nullStr(in.FeedbackID), nullStr(in.UserAgent)).Scan(
		&rec.ID, &rec.Email, &rec.ComplaintType, &rec.EmailID, &rec.FeedbackID,
		&rec.UserAgent, &rec.Timestamp, &rec.Suppressed)
	if err != nil {
		return nil, fmt.Errorf("upsert complaint: %w", err)
	}

	if rec.ComplaintType.TriggersSuppression() {
		if err := upsertSuppressionTx(ctx, tx, rec.Email, domain.SuppressComplaint, &rec.ID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mail_complaints SET suppressed = true WHERE email = $1`, rec.Email,
		); err != nil {
			return nil, fmt.Errorf("flag complaint suppressed: %w", err)
		}
		rec.Suppressed = true
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record complaint: %w", err)
	}
	return rec, nil
}

// upsertSuppressionTx inserts the suppression row. An active existing row is
// left untouched so its created_at survives; an expired row is replaced,
// otherwise a lapsed manual suppression would shadow the new one forever.
func upsertSuppressionTx(ctx context.Context, ex execer, email string, reason domain.SuppressionReason, sourceID *uuid.UUID) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO mail_suppressions (id, email, reason, source_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			id = EXCLUDED.id,
			reason = EXCLUDED.reason,
			source_id = EXCLUDED.source_id,
			created_at = NOW(),
			expires_at = NULL
		WHERE mail_suppressions.expires_at IS NOT NULL
		  AND mail_suppressions.expires_at <= NOW()
	`, uuid.New(), email, reason, sourceID)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) GetBounce(ctx context.Context, email string) (*domain.BounceRecord, error) {
	rec := &domain.BounceRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, bounce_type, COALESCE(reason, ''), COALESCE(diagnostic, ''),
			first_bounce_at, last_bounce_at, bounce_count, suppressed
		FROM mail_bounces WHERE email = $1
	`, email).Scan(&rec.ID, &rec.Email, &rec.BounceType, &rec.Reason, &rec.Diagnostic,
		&rec.FirstBounceAt, &rec.LastBounceAt, &rec.BounceCount, &rec.Suppressed)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bounce: %w", err)
	}
	return rec, nil
}

func (r *SuppressionRepo) GetComplaint(ctx context.Context, email string) (*domain.ComplaintRecord, error) {
	rec := &domain.ComplaintRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, complaint_type, email_id, COALESCE(feedback_id, ''),
			COALESCE(user_agent, ''), occurred_at, suppressed
		FROM mail_complaints WHERE email = $1
	`, email).Scan(&rec.ID, &rec.Email, &rec.ComplaintType, &rec.EmailID,
		&rec.FeedbackID, &rec.UserAgent, &rec.Timestamp, &rec.Suppressed)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	return rec, nil
}

func (r *SuppressionRepo) Upsert(ctx context.Context, s *domain.Suppression) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	// Active rows win the conflict so their created_at is preserved; an
	// expired row is replaced by the new suppression.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mail_suppressions (id, email, reason, source_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE SET
			id = EXCLUDED.id,
			reason = EXCLUDED.reason,
			source_id = EXCLUDED.source_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE mail_suppressions.expires_at IS NOT NULL
		  AND mail_suppressions.expires_at <= NOW()
	`, s.ID, s.Email, s.Reason, s.SourceID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("upsert suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM mail_suppressions WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	s := &domain.Suppression{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, reason, source_id, created_at, expires_at
		FROM mail_suppressions WHERE email = $1
	`, email).Scan(&s.ID, &s.Email, &s.Reason, &s.SourceID, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return s, nil
}

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM mail_suppressions
			WHERE email = $1 AND (expires_at IS NULL OR expires_at > NOW())
		)
	`, email).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepo) List(ctx context.Context, f suppression.ListFilter) ([]domain.Suppression, int64, error) {
	where := ` WHERE (expires_at IS NULL OR expires_at > NOW())`
	var args []any
	if f.Reason != "" {
		where += ` AND reason = $1`
		args = append(args, f.Reason)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mail_suppressions`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	limitPos := len(args) + 1
	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, email, reason, source_id, created_at, expires_at
		FROM mail_suppressions%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, limitPos, limitPos+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		var s domain.Suppression
		if err := rows.Scan(&s.ID, &s.Email, &s.Reason, &s.SourceID, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) AddUnsubscribe(ctx context.Context, email, listID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mail_unsubscribes (id, email, list_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (email, list_id) DO NOTHING
	`, uuid.New(), email, listID)
	if err != nil {
		return fmt.Errorf("add unsubscribe: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) IsUnsubscribed(ctx context.Context, email, listID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM mail_unsubscribes WHERE email = $1 AND list_id = $2)`,
		email, listID,
	).Scan(&exists)
	return exists, err
}
