package domain

import "time"

// OutboundMessage is a fully rendered message handed to the transmitter.
type OutboundMessage struct {
	CampaignID  string
	RecipientID string
	From        string
	To          string
	Subject     string
	Body        string
	HTML        bool
	Attachments []AttachmentFile
}

// AttachmentFile is an attachment with its content loaded.
type AttachmentFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SendingAccount is the mailbox a user sends from, with its OAuth tokens.
type SendingAccount struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	TokenType    string    `json:"-" db:"token_type"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// QuotaUsage is the read-only projection of a sending identity's daily quota.
type QuotaUsage struct {
	Identity  string `json:"identity"`
	Day       string `json:"day"`
	Limit     int    `json:"limit"`
	Reserved  int    `json:"reserved"`
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
}
