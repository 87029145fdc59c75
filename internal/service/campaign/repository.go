package campaign

import (
	"context"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign owned by userID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, userID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, userID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies a draft campaign. Only non-nil fields are applied.
	// Returns domain.ErrCampaignFrozen if the campaign left draft.
	Update(ctx context.Context, userID, id string, u UpdateFields) error

	// Delete removes a campaign with its recipients and sent records.
	// Returns ErrRunning while the campaign is sending.
	Delete(ctx context.Context, userID, id string) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name            *string
	SubjectTemplate *string
	BodyTemplate    *string
	BodyIsHTML      *bool
	Syntax          *domain.TemplateSyntax
	DailyLimit      *int // 0 clears the override
	Attachments     *[]domain.Attachment
	ContactColumns  *[]string
}
