package domain

import "time"

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonProviderRejected SuppressionReason = "provider_rejected"
	ReasonUnsubscribe      SuppressionReason = "unsubscribe"
	ReasonManual           SuppressionReason = "manual"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceDispatch SuppressionSource = "dispatch"
	SourceManual   SuppressionSource = "manual"
	SourceImport   SuppressionSource = "import"
)

// Suppression is a single entry in a user's suppression list. Suppressed
// addresses are skipped when a contact file is admitted.
type Suppression struct {
	ID         string            `json:"id" db:"id"`
	UserID     string            `json:"user_id" db:"user_id"`
	Email      string            `json:"email" db:"email"`
	Reason     SuppressionReason `json:"reason" db:"reason"`
	Source     SuppressionSource `json:"source" db:"source"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
