// Package feedback maps transport feedback (bounces, complaints, opens,
// clicks, deliveries, unsubscribes) into delivery events and suppression
// updates. Notifications arrive over HTTP webhooks and an SQS queue; both
// paths funnel through the Ingestor so the rules apply identically.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/service/suppression"
)

// Notification is the provider-neutral feedback message. Webhook handlers
// and the SQS consumer both decode into this shape.
type Notification struct {
	Type              string     `json:"type"`
	Email             string     `json:"email"`
	EmailID           *uuid.UUID `json:"email_id,omitempty"`
	BounceType        string     `json:"bounce_type,omitempty"`
	ComplaintType     string     `json:"complaint_type,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Diagnostic        string     `json:"diagnostic,omitempty"`
	FeedbackID        string     `json:"feedback_id,omitempty"`
	ListID            string     `json:"list_id,omitempty"`
	URL               string     `json:"url,omitempty"`
	IPAddress         string     `json:"ip_address,omitempty"`
	UserAgent         string     `json:"user_agent,omitempty"`
	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Timestamp         time.Time  `json:"timestamp,omitempty"`
}

// Notification types.
const (
	TypeBounce      = "bounce"
	TypeComplaint   = "complaint"
	TypeDelivered   = "delivered"
	TypeOpen        = "open"
	TypeClick       = "click"
	TypeUnsubscribe = "unsubscribe"
)

// EventRecorder appends to the delivery event log.
type EventRecorder interface {
	Record(ctx context.Context, ev *domain.DeliveryEvent) error
}

// SuppressionSink is the suppression engine surface feedback drives.
type SuppressionSink interface {
	RecordBounce(ctx context.Context, in suppression.BounceInput) (*domain.BounceRecord, error)
	RecordComplaint(ctx context.Context, in suppression.ComplaintInput) (*domain.ComplaintRecord, error)
	Unsubscribe(ctx context.Context, email, listID string) error
}

// Ingestor applies one notification: the delivery event plus, for bounces,
// complaints and unsubscribes, the suppression-side bookkeeping.
type Ingestor struct {
	events       EventRecorder
	suppressions SuppressionSink
	log          *logger.Logger
}

func NewIngestor(events EventRecorder, suppressions SuppressionSink) *Ingestor {
	return &Ingestor{
		events:       events,
		suppressions: suppressions,
		log:          logger.With("feedback"),
	}
}

// Process handles one notification. Unknown types are logged and dropped so
// a provider adding notification kinds can't wedge the queue.
func (i *Ingestor) Process(ctx context.Context, n Notification) error {
	switch n.Type {
	case TypeBounce:
		return i.processBounce(ctx, n)
	case TypeComplaint:
		return i.processComplaint(ctx, n)
	case TypeDelivered:
		return i.record(ctx, n, domain.EventDelivered)
	case TypeOpen:
		return i.record(ctx, n, domain.EventOpened)
	case TypeClick:
		return i.record(ctx, n, domain.EventClicked)
	case TypeUnsubscribe:
		return i.processUnsubscribe(ctx, n)
	default:
		i.log.Warn("dropping unknown notification type", "type", n.Type, "recipient", n.Email)
		return nil
	}
}

func (i *Ingestor) processBounce(ctx context.Context, n Notification) error {
	bounceType := domain.BounceType(n.BounceType)
	rec, err := i.suppressions.RecordBounce(ctx, suppression.BounceInput{
		Email:      n.Email,
		Type:       bounceType,
		Reason:     n.Reason,
		Diagnostic: n.Diagnostic,
		SourceID:   n.EmailID,
	})
	if err != nil {
		return fmt.Errorf("bounce for %s: %w", domain.NormalizeEmail(n.Email), err)
	}

	var kind domain.EventKind
	switch rec.BounceType {
	case domain.BounceHard:
		kind = domain.EventHardBounce
	case domain.BounceSoft:
		kind = domain.EventSoftBounce
	default:
		kind = domain.EventBounced
	}
	return i.record(ctx, n, kind)
}

func (i *Ingestor) processComplaint(ctx context.Context, n Notification) error {
	_, err := i.suppressions.RecordComplaint(ctx, suppression.ComplaintInput{
		Email:      n.Email,
		Type:       domain.ComplaintType(n.ComplaintType),
		EmailID:    n.EmailID,
		FeedbackID: n.FeedbackID,
		UserAgent:  n.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("complaint for %s: %w", domain.NormalizeEmail(n.Email), err)
	}
	return i.record(ctx, n, domain.EventSpamComplaint)
}

func (i *Ingestor) processUnsubscribe(ctx context.Context, n Notification) error {
	if n.ListID != "" {
		if err := i.suppressions.Unsubscribe(ctx, n.Email, n.ListID); err != nil {
			return fmt.Errorf("unsubscribe for %s: %w", domain.NormalizeEmail(n.Email), err)
		}
	}
	return i.record(ctx, n, domain.EventUnsubscribed)
}

func (i *Ingestor) record(ctx context.Context, n Notification, kind domain.EventKind) error {
	var emailID uuid.UUID
	if n.EmailID != nil {
		emailID = *n.EmailID
	}
	ev := domain.NewEvent(emailID, kind, n.Email)
	if !n.Timestamp.IsZero() {
		ev.Timestamp = n.Timestamp.UTC()
	}
	ev.Error = n.Reason
	ev.Provider = n.Provider
	ev.ProviderMessageID = n.ProviderMessageID
	ev.ProviderResponse = n.Diagnostic
	ev.ClickURL = n.URL
	ev.IPAddress = n.IPAddress
	ev.UserAgent = n.UserAgent
	// Engagement events carry no failure detail; bounces, complaints and
	// unsubscribes keep the provider's reason and diagnostic.
	if kind == domain.EventDelivered || kind == domain.EventOpened || kind == domain.EventClicked {
		ev.Error = ""
		ev.ProviderResponse = ""
	}
	return i.events.Record(ctx, ev)
}
