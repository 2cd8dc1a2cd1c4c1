package domain

import (
	"time"

	"github.com/google/uuid"
)

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	SuppressBounce      SuppressionReason = "bounce"
	SuppressComplaint   SuppressionReason = "spam_complaint"
	SuppressManual      SuppressionReason = "manual"
	SuppressUnsubscribe SuppressionReason = "unsubscribe"
)

// Suppression is a standing record preventing any future send attempt to an
// address. Presence of a non-expired record is an absolute gate checked at
// enqueue time and again at claim time.
type Suppression struct {
	ID        uuid.UUID         `json:"id"`
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	SourceID  *uuid.UUID        `json:"source_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Active reports whether the suppression gates sends at the given instant.
func (s *Suppression) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
