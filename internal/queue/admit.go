package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Suppressor answers whether a user has suppressed an address.
type Suppressor interface {
	IsSuppressed(ctx context.Context, userID, email string) (bool, error)
}

// AdmitResult summarises an admission.
type AdmitResult struct {
	Total      int `json:"total"`
	Admitted   int `json:"admitted"`
	Invalid    int `json:"invalid"`
	Suppressed int `json:"suppressed"`
	Duplicates int `json:"duplicates"`
}

// Admit turns a contact file into the campaign's recipient list, replacing
// any previous list. Skip decisions are made once, here: invalid addresses
// and suppressed addresses are stored as skipped and never reach dispatch.
// Repeated addresses (case-insensitive) keep their first occurrence only.
// sup may be nil.
func Admit(ctx context.Context, store Store, sup Suppressor, c *domain.Campaign, file *ContactFile) (AdmitResult, error) {
	res := AdmitResult{Total: len(file.Contacts)}
	seen := make(map[string]bool, len(file.Contacts))
	recipients := make([]domain.Recipient, 0, len(file.Contacts))

	for _, contact := range file.Contacts {
		key := strings.ToLower(contact.Email)
		if seen[key] {
			res.Duplicates++
			continue
		}
		seen[key] = true

		r := domain.Recipient{
			ID:         uuid.New().String(),
			CampaignID: c.ID,
			Position:   contact.Row,
			Email:      contact.Email,
			Variables:  contact.Variables,
			Status:     domain.RecipientPending,
		}

		switch {
		case !ValidAddress(contact.Email):
			skip(&r, domain.SkipInvalidAddress)
			res.Invalid++
		case sup != nil:
			suppressed, err := sup.IsSuppressed(ctx, c.UserID, contact.Email)
			if err != nil {
				return AdmitResult{}, fmt.Errorf("check suppression: %w", err)
			}
			if suppressed {
				skip(&r, domain.SkipSuppressed)
				res.Suppressed++
			}
		}
		if r.Status == domain.RecipientPending {
			res.Admitted++
		}
		recipients = append(recipients, r)
	}

	if err := store.ReplaceRecipients(ctx, c.ID, recipients); err != nil {
		return AdmitResult{}, fmt.Errorf("store recipients: %w", err)
	}
	return res, nil
}

func skip(r *domain.Recipient, reason string) {
	r.Status = domain.RecipientSkipped
	r.LastError = &reason
}
