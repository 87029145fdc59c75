package domain

import (
	"errors"
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// PauseReason records why a campaign left the sending state without finishing.
type PauseReason string

const (
	PauseNone           PauseReason = ""
	PauseUserRequested  PauseReason = "user_requested"
	PauseQuotaExhausted PauseReason = "quota_exhausted"
	PauseAuthFailed     PauseReason = "auth_failed"
)

// TemplateSyntax selects how subject and body placeholders are expanded.
type TemplateSyntax string

const (
	SyntaxSimple TemplateSyntax = "simple" // {{name}} substitution only
	SyntaxLiquid TemplateSyntax = "liquid"
)

var (
	// ErrInvalidTransition is returned when a status change is not permitted
	// from the campaign's current status.
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrCampaignFrozen is returned when recipients, template or attachments
	// are modified after the campaign left draft.
	ErrCampaignFrozen = errors.New("campaign can only be modified while in draft")

	// ErrStatusConflict is returned by compare-and-set status updates when
	// the stored status is not one of the expected ones.
	ErrStatusConflict = errors.New("campaign status changed concurrently")
)

// transitions is the single authoritative table of legal status changes.
var transitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:   {CampaignSending},
	CampaignSending: {CampaignPaused, CampaignCompleted, CampaignFailed},
	CampaignPaused:  {CampaignSending, CampaignCompleted},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses no dispatch action leaves.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignSending, CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// Attachment describes a file sent with every message of a campaign. The
// content itself lives in the attachment store under StorageKey.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key"`
}

// Campaign is a named bulk-send job binding one template to many recipients.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	UserID          string         `json:"user_id" db:"user_id"`
	Name            string         `json:"name" db:"name"`
	SubjectTemplate string         `json:"subject_template" db:"subject_template"`
	BodyTemplate    string         `json:"body_template" db:"body_template"`
	BodyIsHTML      bool           `json:"body_is_html" db:"body_is_html"`
	Syntax          TemplateSyntax `json:"template_syntax" db:"template_syntax"`
	Attachments     []Attachment   `json:"attachments" db:"attachments"`
	ContactColumns  []string       `json:"contact_columns" db:"contact_columns"`
	Status          CampaignStatus `json:"status" db:"status"`
	PauseReason     PauseReason    `json:"pause_reason,omitempty" db:"pause_reason"`
	LastError       string         `json:"last_error,omitempty" db:"last_error"`
	DailyLimit      *int           `json:"daily_limit,omitempty" db:"daily_limit"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// IsMutable reports whether recipients, template and attachments may change.
func (c *Campaign) IsMutable() bool {
	return c.Status == CampaignDraft
}

// Transition moves the campaign to next, enforcing the transition table.
// Leaving sending for anything but paused clears the pause reason.
func (c *Campaign) Transition(next CampaignStatus, reason PauseReason) error {
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}
	c.Status = next
	if next == CampaignPaused {
		c.PauseReason = reason
	} else {
		c.PauseReason = PauseNone
	}
	return nil
}

// EffectiveSyntax defaults unset syntax to simple substitution.
func (c *Campaign) EffectiveSyntax() TemplateSyntax {
	if c.Syntax == "" {
		return SyntaxSimple
	}
	return c.Syntax
}
