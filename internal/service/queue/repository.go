package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
)

// Repository is the persistence contract for queue items. Implementations
// must make Claim safe under concurrent callers (no item handed to two
// workers) and must write the lifecycle event in the same transaction as
// the status change for Insert, MarkSent and Fail.
type Repository interface {
	// Insert stores a new item and appends its "queued" event atomically.
	Insert(ctx context.Context, item *domain.QueueItem) error

	// Get returns the item or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)

	// Claim atomically selects up to limit eligible items (pending or
	// deferred, due, recipient not suppressed), marks them processing,
	// increments attempts and stamps workerID. Items claimed by one call
	// are never returned by a concurrent call.
	Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error)

	// MarkSent finalizes a processing item as sent and appends the "sent"
	// event atomically. Returns ErrInvalidTransition if the item is not
	// processing.
	MarkSent(ctx context.Context, id uuid.UUID, provider, providerMessageID, providerResponse string) error

	// Defer returns a processing item to the queue for a later retry.
	Defer(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error

	// Fail finalizes a processing item as failed and appends the "failed"
	// event atomically.
	Fail(ctx context.Context, id uuid.UUID, lastError string) error

	// Cancel transitions a pending or deferred item to cancelled. Items
	// that are processing or already terminal yield ErrInvalidTransition.
	Cancel(ctx context.Context, id uuid.UUID) error

	// Reset returns a failed or cancelled item to pending with a fresh
	// attempt budget.
	Reset(ctx context.Context, id uuid.UUID) error

	// List returns items filtered by status, newest first. An empty
	// status matches everything.
	List(ctx context.Context, status domain.QueueStatus, limit, offset int) ([]domain.QueueItem, error)

	// Stats returns current per-status counts and 24h send totals.
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// SuppressionGate is the subset of the suppression service Enqueue needs.
type SuppressionGate interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
	IsUnsubscribed(ctx context.Context, email, listID string) (bool, error)
}
