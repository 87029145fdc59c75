package suppression

import (
	"context"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Repository defines the data access contract for suppression lists.
type Repository interface {
	// IsSuppressed returns true if the address is on the user's suppression list.
	IsSuppressed(ctx context.Context, userID, email string) (bool, error)

	// Suppress adds an address to the list. If it already exists, the
	// existing record is preserved (idempotent).
	Suppress(ctx context.Context, s *domain.Suppression) error

	// Remove deletes a suppression entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, userID, email string) error

	// List returns suppression entries matching the filter, newest first.
	List(ctx context.Context, userID string, filter ListFilter) ([]domain.Suppression, int, error)

	// Count returns the total number of suppressed addresses for a user.
	Count(ctx context.Context, userID string) (int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Reason string
	Search string
	Limit  int
	Offset int
}
