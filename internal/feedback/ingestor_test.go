package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/service/suppression"
)

type recordedSink struct {
	mu           sync.Mutex
	events       []domain.DeliveryEvent
	bounces      []suppression.BounceInput
	complaints   []suppression.ComplaintInput
	unsubscribes []string
}

func (s *recordedSink) Record(_ context.Context, ev *domain.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *recordedSink) RecordBounce(_ context.Context, in suppression.BounceInput) (*domain.BounceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounces = append(s.bounces, in)
	return &domain.BounceRecord{
		ID:          uuid.New(),
		Email:       domain.NormalizeEmail(in.Email),
		BounceType:  in.Type,
		BounceCount: len(s.bounces),
		Suppressed:  in.Type == domain.BounceHard,
	}, nil
}

func (s *recordedSink) RecordComplaint(_ context.Context, in suppression.ComplaintInput) (*domain.ComplaintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complaints = append(s.complaints, in)
	return &domain.ComplaintRecord{
		ID:            uuid.New(),
		Email:         domain.NormalizeEmail(in.Email),
		ComplaintType: in.Type,
		Suppressed:    in.Type.TriggersSuppression(),
	}, nil
}

func (s *recordedSink) Unsubscribe(_ context.Context, email, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes = append(s.unsubscribes, email+"|"+listID)
	return nil
}

func newTestIngestor() (*Ingestor, *recordedSink) {
	sink := &recordedSink{}
	return NewIngestor(sink, sink), sink
}

func TestProcessBounce(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		bounceType string
		wantKind   domain.EventKind
	}{
		{"hard bounce", "hard", domain.EventHardBounce},
		{"soft bounce", "soft", domain.EventSoftBounce},
		{"general bounce", "general", domain.EventBounced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, sink := newTestIngestor()
			err := ing.Process(ctx, Notification{
				Type:       TypeBounce,
				Email:      "gone@example.com",
				BounceType: tt.bounceType,
				Reason:     "550 5.1.1",
			})
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if len(sink.bounces) != 1 {
				t.Fatalf("recorded %d bounces, want 1", len(sink.bounces))
			}
			if len(sink.events) != 1 || sink.events[0].Kind != tt.wantKind {
				t.Fatalf("events = %+v, want one %s", sink.events, tt.wantKind)
			}
			if sink.events[0].Error != "550 5.1.1" {
				t.Errorf("bounce event should carry the failure reason, got %q", sink.events[0].Error)
			}
		})
	}
}

func TestProcessComplaint(t *testing.T) {
	ing, sink := newTestIngestor()

	err := ing.Process(context.Background(), Notification{
		Type:          TypeComplaint,
		Email:         "angry@example.com",
		ComplaintType: "abuse",
		FeedbackID:    "fb-9",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sink.complaints) != 1 || sink.complaints[0].Type != domain.ComplaintAbuse {
		t.Fatalf("complaints = %+v", sink.complaints)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != domain.EventSpamComplaint {
		t.Fatalf("events = %+v, want one spam_complaint", sink.events)
	}
}

func TestProcessComplaintKeepsReason(t *testing.T) {
	ing, sink := newTestIngestor()

	err := ing.Process(context.Background(), Notification{
		Type:          TypeComplaint,
		Email:         "angry@example.com",
		ComplaintType: "abuse",
		Reason:        "user marked as spam",
		Diagnostic:    "arf report attached",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	ev := sink.events[0]
	if ev.Error != "user marked as spam" {
		t.Errorf("event error = %q, complaint reason must survive into the log", ev.Error)
	}
	if ev.ProviderResponse != "arf report attached" {
		t.Errorf("event provider response = %q, diagnostic must survive", ev.ProviderResponse)
	}
}

func TestProcessEngagement(t *testing.T) {
	ing, sink := newTestIngestor()
	ctx := context.Background()
	emailID := uuid.New()
	ts := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)

	err := ing.Process(ctx, Notification{
		Type:      TypeOpen,
		Email:     "reader@example.com",
		EmailID:   &emailID,
		IPAddress: "192.0.2.1",
		UserAgent: "Mozilla/5.0",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Process(open) error = %v", err)
	}
	err = ing.Process(ctx, Notification{
		Type:    TypeClick,
		Email:   "reader@example.com",
		EmailID: &emailID,
		URL:     "https://example.com/offer",
	})
	if err != nil {
		t.Fatalf("Process(click) error = %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(sink.events))
	}
	open, click := sink.events[0], sink.events[1]
	if open.Kind != domain.EventOpened || open.EmailID != emailID {
		t.Errorf("open event = %+v", open)
	}
	if !open.Timestamp.Equal(ts) {
		t.Errorf("open timestamp = %v, want provider timestamp %v", open.Timestamp, ts)
	}
	if click.Kind != domain.EventClicked || click.ClickURL != "https://example.com/offer" {
		t.Errorf("click event = %+v", click)
	}
	// No suppression side effects for engagement.
	if len(sink.bounces)+len(sink.complaints)+len(sink.unsubscribes) != 0 {
		t.Error("engagement events must not touch suppression state")
	}
}

func TestProcessUnsubscribe(t *testing.T) {
	ing, sink := newTestIngestor()

	err := ing.Process(context.Background(), Notification{
		Type:   TypeUnsubscribe,
		Email:  "reader@example.com",
		ListID: "weekly",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(sink.unsubscribes) != 1 || sink.unsubscribes[0] != "reader@example.com|weekly" {
		t.Fatalf("unsubscribes = %v", sink.unsubscribes)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != domain.EventUnsubscribed {
		t.Fatalf("events = %+v, want one unsubscribed", sink.events)
	}
}

func TestProcessUnknownTypeDropped(t *testing.T) {
	ing, sink := newTestIngestor()

	if err := ing.Process(context.Background(), Notification{Type: "render_failure", Email: "x@example.com"}); err != nil {
		t.Fatalf("Process() error = %v for unknown type, want nil", err)
	}
	if len(sink.events) != 0 {
		t.Error("unknown notification types must not produce events")
	}
}
