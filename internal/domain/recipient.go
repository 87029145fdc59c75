package domain

import "time"

// RecipientStatus enumerates the lifecycle of a single recipient.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientSkipped RecipientStatus = "skipped"
)

// IsTerminal returns true once the recipient will not be dispatched again.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientFailed || s == RecipientSkipped
}

// Skip reasons recorded at admission.
const (
	SkipInvalidAddress = "invalid address"
	SkipSuppressed     = "suppressed"
)

// Recipient is one target address plus its template bindings. Position is
// the row order from the uploaded contact file and drives iteration order.
type Recipient struct {
	ID         string            `json:"id" db:"id"`
	CampaignID string            `json:"campaign_id" db:"campaign_id"`
	Position   int               `json:"position" db:"position"`
	Email      string            `json:"email" db:"email"`
	Variables  map[string]string `json:"variables" db:"variables"`
	Status     RecipientStatus   `json:"status" db:"status"`
	LastError  *string           `json:"last_error,omitempty" db:"last_error"`
	Attempts   int               `json:"attempts" db:"attempts"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// FailureCode classifies a terminal failure in the audit trail.
type FailureCode string

const (
	FailureRetriesExhausted FailureCode = "retries_exhausted"
	FailurePermanent        FailureCode = "permanent"
	FailureAuth             FailureCode = "auth_failure"
	FailureRender           FailureCode = "render_error"
)

// SentEmailRecord is the append-only audit fact written once per terminal
// dispatch outcome. Exactly one of ProviderMessageID or FailureCode is set.
type SentEmailRecord struct {
	ID                string          `json:"id" db:"id"`
	CampaignID        string          `json:"campaign_id" db:"campaign_id"`
	RecipientID       string          `json:"recipient_id" db:"recipient_id"`
	Email             string          `json:"email" db:"email"`
	Subject           string          `json:"subject" db:"subject"`
	Status            RecipientStatus `json:"status" db:"status"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id"`
	FailureCode       FailureCode     `json:"failure_code,omitempty" db:"failure_code"`
	Detail            string          `json:"detail,omitempty" db:"detail"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Progress is the read model recomputed from persisted recipient states.
type Progress struct {
	CampaignID  string         `json:"campaign_id"`
	Status      CampaignStatus `json:"status"`
	PauseReason PauseReason    `json:"pause_reason,omitempty"`
	Sent        int            `json:"sent"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Pending     int            `json:"pending"`
	Total       int            `json:"total"`
}

// NewProgress builds a snapshot from per-status counts.
func NewProgress(c *Campaign, counts map[RecipientStatus]int) Progress {
	p := Progress{
		CampaignID:  c.ID,
		Status:      c.Status,
		PauseReason: c.PauseReason,
		Sent:        counts[RecipientSent],
		Failed:      counts[RecipientFailed],
		Skipped:     counts[RecipientSkipped],
		Pending:     counts[RecipientPending],
	}
	p.Total = p.Sent + p.Failed + p.Skipped + p.Pending
	return p
}

// Done reports whether every recipient is terminal.
func (p Progress) Done() bool {
	return p.Pending == 0
}
