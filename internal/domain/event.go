package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates delivery lifecycle events.
type EventKind string

const (
	EventQueued        EventKind = "queued"
	EventSent          EventKind = "sent"
	EventDelivered     EventKind = "delivered"
	EventBounced       EventKind = "bounced"
	EventHardBounce    EventKind = "hard_bounce"
	EventSoftBounce    EventKind = "soft_bounce"
	EventOpened        EventKind = "opened"
	EventClicked       EventKind = "clicked"
	EventSpamComplaint EventKind = "spam_complaint"
	EventUnsubscribed  EventKind = "unsubscribed"
	EventFailed        EventKind = "failed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventQueued, EventSent, EventDelivered, EventBounced, EventHardBounce,
		EventSoftBounce, EventOpened, EventClicked, EventSpamComplaint,
		EventUnsubscribed, EventFailed:
		return true
	}
	return false
}

// IsBounce reports whether k is any of the bounce kinds.
func (k EventKind) IsBounce() bool {
	return k == EventBounced || k == EventHardBounce || k == EventSoftBounce
}

// DeliveryEvent is one append-only fact in the delivery ledger. Events are
// never updated after insert; QueueID is a weak reference that survives
// deletion of the queue item itself.
type DeliveryEvent struct {
	ID                uuid.UUID  `json:"id"`
	EmailID           uuid.UUID  `json:"email_id"`
	QueueID           *uuid.UUID `json:"queue_id,omitempty"`
	Kind              EventKind  `json:"kind"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject,omitempty"`
	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	ProviderResponse  string     `json:"provider_response,omitempty"`
	Error             string     `json:"error,omitempty"`
	ClickURL          string     `json:"click_url,omitempty"`
	IPAddress         string     `json:"ip_address,omitempty"`
	UserAgent         string     `json:"user_agent,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// NewEvent creates a delivery event stamped with the current time.
func NewEvent(emailID uuid.UUID, kind EventKind, recipient string) *DeliveryEvent {
	return &DeliveryEvent{
		ID:        uuid.New(),
		EmailID:   emailID,
		Kind:      kind,
		Recipient: NormalizeEmail(recipient),
		Timestamp: time.Now().UTC(),
	}
}

// EventFilter controls event log queries.
type EventFilter struct {
	EmailID    *uuid.UUID
	Recipient  string
	Kind       EventKind
	From       time.Time
	To         time.Time
	ErrorsOnly bool
	Limit      int
	Offset     int
}

// DailyCount is the number of events of one kind on one day. Both aggregate
// views are recomputed from the event log on demand; there are no incremental
// counters to drift.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Kind  EventKind `json:"kind"`
	Count int64     `json:"count"`
}

// FunnelStats is the fixed delivery funnel over a rolling window.
type FunnelStats struct {
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Bounced    int64 `json:"bounced"`
	Opened     int64 `json:"opened"`
	Clicked    int64 `json:"clicked"`
	Complaints int64 `json:"spam_complaints"`
	Failed     int64 `json:"failed"`

	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	BounceRate   float64 `json:"bounce_rate"`
	SpamRate     float64 `json:"spam_rate"`
}

// CalculateRates fills the percentage fields from the raw counts.
func (f *FunnelStats) CalculateRates() {
	if f.Sent > 0 {
		f.DeliveryRate = pct(f.Delivered, f.Sent)
		f.BounceRate = pct(f.Bounced, f.Sent)
		f.SpamRate = pct(f.Complaints, f.Sent)
	}
	if f.Delivered > 0 {
		f.OpenRate = pct(f.Opened, f.Delivered)
	}
	if f.Opened > 0 {
		f.ClickRate = pct(f.Clicked, f.Opened)
	}
}

func pct(n, total int64) float64 {
	return float64(n) / float64(total) * 100
}
