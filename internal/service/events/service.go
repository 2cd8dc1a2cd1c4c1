package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// ErrNotFound is returned when no events match a lookup.
var ErrNotFound = errors.New("event not found")

// DefaultFunnelWindow is the rolling window for funnel aggregates.
const DefaultFunnelWindow = 30 * 24 * time.Hour

// Repository is the persistence contract for the event log. Insert is
// append-only; nothing ever updates or deletes single events (retention
// purges whole age bands).
type Repository interface {
	Insert(ctx context.Context, ev *domain.DeliveryEvent) error
	Query(ctx context.Context, filter domain.EventFilter) ([]domain.DeliveryEvent, error)
	DailyCounts(ctx context.Context, from, to time.Time) ([]domain.DailyCount, error)
	Funnel(ctx context.Context, window time.Duration) (*domain.FunnelStats, error)
}

// Service records and queries delivery events.
type Service struct {
	repo Repository
	log  *logger.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logger.With("events-service")}
}

// Record appends one event to the log.
func (s *Service) Record(ctx context.Context, ev *domain.DeliveryEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Recipient = domain.NormalizeEmail(ev.Recipient)

	if err := s.repo.Insert(ctx, ev); err != nil {
		return fmt.Errorf("appending %s event: %w", ev.Kind, err)
	}
	s.log.Debug("event recorded", "kind", ev.Kind, "email_id", ev.EmailID, "recipient", ev.Recipient)
	return nil
}

// Query returns events matching the filter, newest first.
func (s *Service) Query(ctx context.Context, filter domain.EventFilter) ([]domain.DeliveryEvent, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", filter.Kind)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Recipient != "" {
		filter.Recipient = domain.NormalizeEmail(filter.Recipient)
	}
	return s.repo.Query(ctx, filter)
}

// History returns the full event trail for one message, newest first.
func (s *Service) History(ctx context.Context, emailID uuid.UUID) ([]domain.DeliveryEvent, error) {
	return s.repo.Query(ctx, domain.EventFilter{EmailID: &emailID, Limit: 1000})
}

// DailyCounts returns per-day, per-kind event counts for the range. A zero
// from defaults to 30 days back, a zero to defaults to now.
func (s *Service) DailyCounts(ctx context.Context, from, to time.Time) ([]domain.DailyCount, error) {
	now := time.Now().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-DefaultFunnelWindow)
	}
	if from.After(to) {
		return nil, fmt.Errorf("range start %s is after end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return s.repo.DailyCounts(ctx, from, to)
}

// Funnel returns the delivery funnel over the trailing window, rates filled.
func (s *Service) Funnel(ctx context.Context, window time.Duration) (*domain.FunnelStats, error) {
	if window <= 0 {
		window = DefaultFunnelWindow
	}
	stats, err := s.repo.Funnel(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("computing funnel: %w", err)
	}
	stats.CalculateRates()
	return stats, nil
}
