package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// Service coordinates queue item intake and lifecycle operations.
type Service struct {
	repo        Repository
	suppression SuppressionGate
	log         *logger.Logger
}

// NewService creates a queue service. suppression may be nil, in which case
// enqueue-time gating is skipped (claim-time gating still applies at the
// repository).
func NewService(repo Repository, suppression SuppressionGate) *Service {
	return &Service{
		repo:        repo,
		suppression: suppression,
		log:         logger.With("queue-service"),
	}
}

// EnqueueRequest describes one message to queue.
type EnqueueRequest struct {
	Payload     domain.MessagePayload `json:"payload"`
	Priority    int                   `json:"priority"`
	ScheduledAt *time.Time            `json:"scheduled_at,omitempty"`
	MaxAttempts int                   `json:"max_attempts,omitempty"`
	ListID      string                `json:"list_id,omitempty"`
}

// Enqueue validates the request, rejects suppressed and unsubscribed
// recipients, and stores the item. The item becomes eligible at ScheduledAt
// (immediately when unset).
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.QueueItem, error) {
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}

	email := req.Payload.Recipient.NormalizedEmail()
	if s.suppression != nil {
		suppressed, err := s.suppression.IsSuppressed(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("checking suppression for enqueue: %w", err)
		}
		if suppressed {
			return nil, ErrSuppressedRecipient
		}
		if req.ListID != "" {
			unsubscribed, err := s.suppression.IsUnsubscribed(ctx, email, req.ListID)
			if err != nil {
				return nil, fmt.Errorf("checking unsubscribe for enqueue: %w", err)
			}
			if unsubscribed {
				return nil, ErrUnsubscribedRecipient
			}
		}
	}

	item := domain.NewQueueItem(req.Payload)
	item.Priority = req.Priority
	if req.ScheduledAt != nil {
		item.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.MaxAttempts > 0 {
		item.MaxAttempts = req.MaxAttempts
	}

	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("inserting queue item: %w", err)
	}

	s.log.Info("message queued", "queue_id", item.ID, "recipient", email, "priority", item.Priority)
	return item, nil
}

// BatchResult reports per-request outcomes of EnqueueBatch.
type BatchResult struct {
	Queued  []uuid.UUID  `json:"queued"`
	Skipped []BatchError `json:"skipped,omitempty"`
}

// BatchError records why one request in a batch was not queued.
type BatchError struct {
	Index     int    `json:"index"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// EnqueueBatch queues each request independently. A rejected or failing
// request is reported in the result and does not stop the rest of the batch.
func (s *Service) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) (*BatchResult, error) {
	result := &BatchResult{Queued: make([]uuid.UUID, 0, len(reqs))}
	for i, req := range reqs {
		item, err := s.Enqueue(ctx, req)
		if err != nil {
			result.Skipped = append(result.Skipped, BatchError{
				Index:     i,
				Recipient: req.Payload.Recipient.Email,
				Error:     err.Error(),
			})
			continue
		}
		result.Queued = append(result.Queued, item.ID)
	}
	return result, nil
}

// Get returns a queue item by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	return s.repo.Get(ctx, id)
}

// Claim hands up to limit eligible items to the named worker.
func (s *Service) Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.repo.Claim(ctx, workerID, limit)
}

// MarkSent finalizes a successful delivery attempt.
func (s *Service) MarkSent(ctx context.Context, item *domain.QueueItem, provider, providerMessageID, providerResponse string) error {
	if err := s.repo.MarkSent(ctx, item.ID, provider, providerMessageID, providerResponse); err != nil {
		return err
	}
	s.log.Info("message sent", "queue_id", item.ID, "recipient", item.Payload.Recipient.Email,
		"attempts", item.Attempts, "provider_message_id", providerMessageID)
	return nil
}

// MarkFailed finalizes a failed delivery attempt. Transient failures with
// attempts remaining defer the item with exponential backoff; permanent
// failures and exhausted items fail terminally. The item passed in must be
// the claimed copy (attempts already incremented by Claim).
func (s *Service) MarkFailed(ctx context.Context, item *domain.QueueItem, sendErr error) error {
	msg := sendErr.Error()

	if domain.IsPermanent(sendErr) || !item.CanRetry() {
		if err := s.repo.Fail(ctx, item.ID, msg); err != nil {
			return err
		}
		s.log.Warn("message failed", "queue_id", item.ID, "recipient", item.Payload.Recipient.Email,
			"attempts", item.Attempts, "error", msg)
		return nil
	}

	delay := domain.NextRetryDelay(item.Attempts)
	nextRetry := time.Now().UTC().Add(delay)
	if err := s.repo.Defer(ctx, item.ID, msg, nextRetry); err != nil {
		return err
	}
	s.log.Info("message deferred", "queue_id", item.ID, "attempts", item.Attempts,
		"retry_in", delay.String(), "error", msg)
	return nil
}

// Cancel cancels a pending or deferred item. Processing items cannot be
// cancelled mid-attempt; callers should retry after the attempt finalizes.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	s.log.Info("message cancelled", "queue_id", id)
	return nil
}

// Retry returns a failed or cancelled item to the queue with a fresh
// attempt budget.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Reset(ctx, id); err != nil {
		return err
	}
	s.log.Info("message requeued", "queue_id", id)
	return nil
}

// List returns items by status, newest first.
func (s *Service) List(ctx context.Context, status domain.QueueStatus, limit, offset int) ([]domain.QueueItem, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, status, limit, offset)
}

// Stats returns current queue depth and 24h send totals.
func (s *Service) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}
