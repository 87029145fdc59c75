package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed checks whether an address is on the user's list.
func (s *Service) IsSuppressed(ctx context.Context, userID, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, userID, normalize(email))
}

// Suppress adds an address to the user's list. Idempotent: if the address
// is already suppressed, the existing record is preserved.
func (s *Service) Suppress(ctx context.Context, userID, email string, reason domain.SuppressionReason, source domain.SuppressionSource, campaignID string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if reason == "" {
		reason = domain.ReasonManual
	}
	if source == "" {
		source = domain.SourceManual
	}

	return s.repo.Suppress(ctx, &domain.Suppression{
		UserID:     userID,
		Email:      email,
		Reason:     reason,
		Source:     source,
		CampaignID: campaignID,
	})
}

// Remove deletes a suppression entry. Returns ErrNotFound if the address is not suppressed.
func (s *Service) Remove(ctx context.Context, userID, email string) error {
	email = normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.repo.Remove(ctx, userID, email)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]domain.Suppression, int, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, userID, filter)
}

// Count returns the total number of suppressed addresses for a user.
func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	return s.repo.Count(ctx, userID)
}

// Stats returns aggregate counts grouped by reason and source.
type Stats struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason"`
	BySource map[string]int `json:"by_source"`
}

// GetStats computes suppression statistics for a user.
func (s *Service) GetStats(ctx context.Context, userID string) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, userID, ListFilter{Limit: 0})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    total,
		ByReason: make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByReason[string(e.Reason)]++
		stats.BySource[string(e.Source)]++
	}
	return stats, nil
}
