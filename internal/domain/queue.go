package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusDeferred   QueueStatus = "deferred"
	StatusSent       QueueStatus = "sent"
	StatusFailed     QueueStatus = "failed"
	StatusCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether no further transitions may occur from s.
func (s QueueStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDeferred, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DefaultMaxAttempts is the attempt ceiling applied when an enqueue request
// doesn't specify one.
const DefaultMaxAttempts = 3

// Address is an email address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Formatted returns "Name <email>" or the bare address.
func (a Address) Formatted() string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

// NormalizedEmail returns the lowercased, trimmed email address. All
// suppression and bounce bookkeeping keys on this form.
func (a Address) NormalizedEmail() string {
	return NormalizeEmail(a.Email)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MessagePayload describes the message a queue item will deliver. It is owned
// exclusively by its queue item and stored as an opaque JSON document; the
// queue engine only interprets Recipient.
type MessagePayload struct {
	Recipient Address           `json:"recipient"`
	From      Address           `json:"from"`
	ReplyTo   *Address          `json:"reply_to,omitempty"`
	Subject   string            `json:"subject"`
	HTMLBody  string            `json:"html_body,omitempty"`
	TextBody  string            `json:"text_body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the minimum shape required to queue the payload.
func (p *MessagePayload) Validate() error {
	if !strings.Contains(p.Recipient.Email, "@") {
		return fmt.Errorf("invalid recipient address %q", p.Recipient.Email)
	}
	if !strings.Contains(p.From.Email, "@") {
		return fmt.Errorf("invalid from address %q", p.From.Email)
	}
	if p.Subject == "" {
		return errors.New("subject is required")
	}
	if p.HTMLBody == "" && p.TextBody == "" {
		return errors.New("message body is required")
	}
	return nil
}

// QueueItem is a unit of outbound work.
//
// Invariants maintained by the queue service and repository:
//   - status=processing implies WorkerID and StartedAt are set
//   - a terminal status implies CompletedAt is set and WorkerID is cleared
//   - Attempts never exceeds MaxAttempts once the item is failed
type QueueItem struct {
	ID                uuid.UUID      `json:"id"`
	Payload           MessagePayload `json:"payload"`
	Status            QueueStatus    `json:"status"`
	Attempts          int            `json:"attempts"`
	MaxAttempts       int            `json:"max_attempts"`
	LastError         string         `json:"last_error,omitempty"`
	ScheduledAt       time.Time      `json:"scheduled_at"`
	NextRetryAt       *time.Time     `json:"next_retry_at,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Priority          int            `json:"priority"`
	WorkerID          string         `json:"worker_id,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
}

// NewQueueItem creates a pending item scheduled for immediate delivery.
func NewQueueItem(payload MessagePayload) *QueueItem {
	now := time.Now().UTC()
	return &QueueItem{
		ID:          uuid.New(),
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		ScheduledAt: now,
		CreatedAt:   now,
	}
}

// Eligible reports whether the item may be claimed at the given instant.
func (q *QueueItem) Eligible(now time.Time) bool {
	if q.Status != StatusPending && q.Status != StatusDeferred {
		return false
	}
	if q.ScheduledAt.After(now) {
		return false
	}
	return q.NextRetryAt == nil || !q.NextRetryAt.After(now)
}

// CanRetry reports whether the item has attempt budget left.
func (q *QueueItem) CanRetry() bool {
	return q.Attempts < q.MaxAttempts
}

// NextRetryDelay is the backoff before retry number attempts+1: 2^attempts
// minutes (1m, 2m, 4m, 8m, ...). The shift is clamped so the duration can
// never overflow, far beyond any sane MaxAttempts.
func NextRetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// PermanentError marks a transport failure that must not be retried
// (rejected address, provider policy refusal). Wrapping an error in
// PermanentError makes the queue finalize the item as failed immediately,
// regardless of remaining attempt budget.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "permanent delivery failure: " + e.Reason
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRetryable reports whether an error message looks like a transient
// transport condition. Transports that cannot classify their errors
// structurally can use this to decide between PermanentError and plain
// errors.
func IsRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection", "timeout", "timed out", "temporary",
		"rate limit", "too many", "try again", "unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// QueueStats is a snapshot of queue depth and recent outcomes.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Deferred   int64 `json:"deferred"`
	Sent24h    int64 `json:"sent_24h"`
	Failed24h  int64 `json:"failed_24h"`
}
