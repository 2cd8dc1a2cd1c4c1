package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// Service coordinates bounce and complaint ingestion and suppression-list
// management.
type Service struct {
	repo Repository
	log  *logger.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logger.With("suppression-service")}
}

func normalize(email string) (string, error) {
	email = domain.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}

// RecordBounce records a bounce observation, suppressing the address when
// the history mandates it (hard bounce, or third bounce overall).
func (s *Service) RecordBounce(ctx context.Context, in BounceInput) (*domain.BounceRecord, error) {
	email, err := normalize(in.Email)
	if err != nil {
		return nil, err
	}
	in.Email = email
	switch in.Type {
	case domain.BounceHard, domain.BounceSoft, domain.BounceGeneral:
	case "":
		in.Type = domain.BounceGeneral
	default:
		return nil, fmt.Errorf("unknown bounce type %q", in.Type)
	}

	rec, err := s.repo.RecordBounce(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("recording bounce: %w", err)
	}
	s.log.Info("bounce recorded", "email", rec.Email, "type", rec.BounceType,
		"count", rec.BounceCount, "suppressed", rec.Suppressed)
	return rec, nil
}

// RecordComplaint records a feedback-loop complaint. Only abuse-class
// complaints suppress the address; other classes are kept for reporting.
func (s *Service) RecordComplaint(ctx context.Context, in ComplaintInput) (*domain.ComplaintRecord, error) {
	email, err := normalize(in.Email)
	if err != nil {
		return nil, err
	}
	in.Email = email
	if in.Type == "" {
		in.Type = domain.ComplaintOther
	}

	rec, err := s.repo.RecordComplaint(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("recording complaint: %w", err)
	}
	s.log.Info("complaint recorded", "email", rec.Email, "type", rec.ComplaintType,
		"suppressed", rec.Suppressed)
	return rec, nil
}

// Suppress adds a manual suppression. Idempotent: suppressing an already
// suppressed address succeeds without change.
func (s *Service) Suppress(ctx context.Context, email string, reason domain.SuppressionReason, expiresAt *time.Time) (*domain.Suppression, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = domain.SuppressManual
	}

	sup := &domain.Suppression{
		ID:        uuid.New(),
		Email:     email,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	created, err := s.repo.Upsert(ctx, sup)
	if err != nil {
		return nil, fmt.Errorf("adding suppression: %w", err)
	}
	if !created {
		return s.repo.Get(ctx, email)
	}
	s.log.Info("address suppressed", "email", email, "reason", reason)
	return sup, nil
}

// Unsuppress removes an address from the suppression list. The bounce and
// complaint history is kept.
func (s *Service) Unsuppress(ctx context.Context, email string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, email); err != nil {
		return err
	}
	s.log.Info("address unsuppressed", "email", email)
	return nil
}

// IsSuppressed reports whether an active suppression exists for the address.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	email, err := normalize(email)
	if err != nil {
		return false, err
	}
	return s.repo.IsSuppressed(ctx, email)
}

// Get returns the suppression record for the address, or ErrNotFound.
func (s *Service) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, email)
}

// List returns suppressions matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// GetBounce returns the bounce history for an address, or ErrNotFound.
func (s *Service) GetBounce(ctx context.Context, email string) (*domain.BounceRecord, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBounce(ctx, email)
}

// GetComplaint returns the complaint record for an address, or ErrNotFound.
func (s *Service) GetComplaint(ctx context.Context, email string) (*domain.ComplaintRecord, error) {
	email, err := normalize(email)
	if err != nil {
		return nil, err
	}
	return s.repo.GetComplaint(ctx, email)
}

// Unsubscribe records a list-scoped opt-out. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, email, listID string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}
	if listID == "" {
		return fmt.Errorf("list id is required")
	}
	if err := s.repo.AddUnsubscribe(ctx, email, listID); err != nil {
		return fmt.Errorf("recording unsubscribe: %w", err)
	}
	s.log.Info("unsubscribe recorded", "email", email, "list_id", listID)
	return nil
}

// IsUnsubscribed reports whether the address opted out of the given list.
func (s *Service) IsUnsubscribed(ctx context.Context, email, listID string) (bool, error) {
	email, err := normalize(email)
	if err != nil {
		return false, err
	}
	return s.repo.IsUnsubscribed(ctx, email, listID)
}
