package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
)

type mockRepo struct {
	mu     sync.Mutex
	events []domain.DeliveryEvent
}

func (m *mockRepo) Insert(_ context.Context, ev *domain.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockRepo) Query(_ context.Context, filter domain.EventFilter) ([]domain.DeliveryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if filter.EmailID != nil && ev.EmailID != *filter.EmailID {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if filter.Recipient != "" && ev.Recipient != filter.Recipient {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockRepo) DailyCounts(_ context.Context, from, to time.Time) ([]domain.DailyCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]*domain.DailyCount)
	var out []domain.DailyCount
	for _, ev := range m.events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		day := ev.Timestamp.Truncate(24 * time.Hour)
		key := day.Format("2006-01-02") + "|" + string(ev.Kind)
		if c, ok := counts[key]; ok {
			c.Count++
			continue
		}
		counts[key] = &domain.DailyCount{Day: day, Kind: ev.Kind, Count: 1}
	}
	for _, c := range counts {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockRepo) Funnel(_ context.Context, window time.Duration) (*domain.FunnelStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-window)
	stats := &domain.FunnelStats{}
	for _, ev := range m.events {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		switch {
		case ev.Kind == domain.EventSent:
			stats.Sent++
		case ev.Kind == domain.EventDelivered:
			stats.Delivered++
		case ev.Kind.IsBounce():
			stats.Bounced++
		case ev.Kind == domain.EventOpened:
			stats.Opened++
		case ev.Kind == domain.EventClicked:
			stats.Clicked++
		case ev.Kind == domain.EventSpamComplaint:
			stats.Complaints++
		case ev.Kind == domain.EventFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func TestRecord(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	t.Run("stamps id, time and normalized recipient", func(t *testing.T) {
		ev := &domain.DeliveryEvent{
			EmailID:   uuid.New(),
			Kind:      domain.EventDelivered,
			Recipient: "Reader@Example.COM",
		}
		if err := svc.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if ev.ID == uuid.Nil {
			t.Error("Record() left ID unset")
		}
		if ev.Timestamp.IsZero() {
			t.Error("Record() left Timestamp unset")
		}
		if ev.Recipient != "reader@example.com" {
			t.Errorf("recipient = %q, want normalized form", ev.Recipient)
		}
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		ev := domain.NewEvent(uuid.New(), "exploded", "x@example.com")
		if err := svc.Record(ctx, ev); err == nil {
			t.Fatal("Record() accepted unknown event kind")
		}
	})
}

func TestHistory(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	ctx := context.Background()
	emailID := uuid.New()

	for _, kind := range []domain.EventKind{domain.EventQueued, domain.EventSent, domain.EventDelivered} {
		if err := svc.Record(ctx, domain.NewEvent(emailID, kind, "a@example.com")); err != nil {
			t.Fatalf("Record(%s) error = %v", kind, err)
		}
	}
	// Noise from another message.
	if err := svc.Record(ctx, domain.NewEvent(uuid.New(), domain.EventSent, "b@example.com")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	trail, err := svc.History(ctx, emailID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("History() returned %d events, want 3", len(trail))
	}
	if trail[0].Kind != domain.EventDelivered {
		t.Errorf("newest event = %q, want delivered", trail[0].Kind)
	}
}

func TestFunnel(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	add := func(kind domain.EventKind, n int) {
		for i := 0; i < n; i++ {
			if err := svc.Record(ctx, domain.NewEvent(uuid.New(), kind, "f@example.com")); err != nil {
				t.Fatalf("Record(%s) error = %v", kind, err)
			}
		}
	}
	add(domain.EventSent, 100)
	add(domain.EventDelivered, 80)
	add(domain.EventHardBounce, 5)
	add(domain.EventOpened, 40)
	add(domain.EventClicked, 10)
	add(domain.EventSpamComplaint, 1)

	stats, err := svc.Funnel(ctx, 0)
	if err != nil {
		t.Fatalf("Funnel() error = %v", err)
	}
	if stats.Sent != 100 || stats.Delivered != 80 || stats.Bounced != 5 {
		t.Fatalf("funnel counts = %+v", stats)
	}
	if stats.DeliveryRate != 80 {
		t.Errorf("delivery rate = %v, want 80", stats.DeliveryRate)
	}
	if stats.OpenRate != 50 {
		t.Errorf("open rate = %v, want 50 (of delivered)", stats.OpenRate)
	}
	if stats.ClickRate != 25 {
		t.Errorf("click rate = %v, want 25 (of opened)", stats.ClickRate)
	}
	if stats.SpamRate != 1 {
		t.Errorf("spam rate = %v, want 1", stats.SpamRate)
	}
}

func TestDailyCountsRange(t *testing.T) {
	svc := NewService(&mockRepo{})
	from := time.Now()
	to := from.Add(-time.Hour)
	if _, err := svc.DailyCounts(context.Background(), from, to); err == nil {
		t.Fatal("DailyCounts() accepted inverted range")
	}
}
