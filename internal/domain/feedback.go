package domain

import (
	"time"

	"github.com/google/uuid"
)

// BounceType classifies a delivery bounce.
type BounceType string

const (
	BounceHard    BounceType = "hard"
	BounceSoft    BounceType = "soft"
	BounceGeneral BounceType = "general"
)

// SoftBounceSuppressThreshold is the bounce count at which repeated soft
// bounces suppress an address.
const SoftBounceSuppressThreshold = 3

// BounceRecord tracks bounce history for a single address. One record per
// address; repeat bounces increment BounceCount.
type BounceRecord struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	BounceType    BounceType `json:"bounce_type"`
	Reason        string     `json:"reason,omitempty"`
	Diagnostic    string     `json:"diagnostic,omitempty"`
	FirstBounceAt time.Time  `json:"first_bounce_at"`
	LastBounceAt  time.Time  `json:"last_bounce_at"`
	BounceCount   int        `json:"bounce_count"`
	Suppressed    bool       `json:"suppressed"`
}

// ShouldSuppress reports whether this bounce history mandates suppression:
// any hard bounce, or repeated bounces at the threshold.
func (b *BounceRecord) ShouldSuppress() bool {
	return b.BounceType == BounceHard || b.BounceCount >= SoftBounceSuppressThreshold
}

// ComplaintType classifies an ISP feedback-loop complaint.
type ComplaintType string

const (
	ComplaintAbuse       ComplaintType = "abuse"
	ComplaintAuthFailure ComplaintType = "auth_failure"
	ComplaintFraud       ComplaintType = "fraud"
	ComplaintNotSpam     ComplaintType = "not_spam"
	ComplaintOther       ComplaintType = "other"
	ComplaintVirus       ComplaintType = "virus"
)

// TriggersSuppression reports whether a complaint of this type suppresses the
// address. Only abuse ("this is spam") reports do; auth-failure, fraud and
// not-spam reports are recorded without gating future sends.
func (t ComplaintType) TriggersSuppression() bool {
	return t == ComplaintAbuse
}

// ComplaintRecord is an ISP spam complaint for a single address.
type ComplaintRecord struct {
	ID            uuid.UUID     `json:"id"`
	Email         string        `json:"email"`
	ComplaintType ComplaintType `json:"complaint_type"`
	EmailID       *uuid.UUID    `json:"email_id,omitempty"`
	FeedbackID    string        `json:"feedback_id,omitempty"`
	UserAgent     string        `json:"user_agent,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Suppressed    bool          `json:"suppressed"`
}

// UnsubscribeRecord is a list-scoped opt-out. Unlike a suppression it only
// blocks enqueues targeting the same list, not the address globally.
type UnsubscribeRecord struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	ListID    string    `json:"list_id"`
	CreatedAt time.Time `json:"created_at"`
}
