package suppression

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
)

// BounceInput describes one observed bounce.
type BounceInput struct {
	Email      string            `json:"email"`
	Type       domain.BounceType `json:"type"`
	Reason     string            `json:"reason,omitempty"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	SourceID   *uuid.UUID        `json:"source_id,omitempty"`
}

// ComplaintInput describes one feedback-loop complaint.
type ComplaintInput struct {
	Email      string               `json:"email"`
	Type       domain.ComplaintType `json:"type"`
	EmailID    *uuid.UUID           `json:"email_id,omitempty"`
	FeedbackID string               `json:"feedback_id,omitempty"`
	UserAgent  string               `json:"user_agent,omitempty"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Reason domain.SuppressionReason
	Limit  int
	Offset int
}

// Repository is the persistence contract for suppression state. Emails are
// passed pre-normalized (lowercased, trimmed) by the service.
//
// RecordBounce and RecordComplaint must evaluate the suppression rule and,
// when it fires, upsert the suppression row in the same transaction as the
// bounce or complaint write. Both are idempotent per observation: repeated
// bounces increment the existing record, a duplicate suppression is a no-op.
type Repository interface {
	RecordBounce(ctx context.Context, in BounceInput) (*domain.BounceRecord, error)
	RecordComplaint(ctx context.Context, in ComplaintInput) (*domain.ComplaintRecord, error)
	GetBounce(ctx context.Context, email string) (*domain.BounceRecord, error)
	GetComplaint(ctx context.Context, email string) (*domain.ComplaintRecord, error)

	// Upsert inserts the suppression unless an active one already exists.
	// Returns true when a new row was created.
	Upsert(ctx context.Context, sup *domain.Suppression) (bool, error)
	Remove(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*domain.Suppression, error)
	IsSuppressed(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int64, error)

	AddUnsubscribe(ctx context.Context, email, listID string) error
	IsUnsubscribed(ctx context.Context, email, listID string) (bool, error)
}
