// Package memory implements every repository contract in process. It backs
// the server when no database is configured and the service-level tests.
package memory

import (
	"sync"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// DB holds all state behind one lock so cascades stay consistent.
type DB struct {
	mu           sync.RWMutex
	campaigns    map[string]*domain.Campaign
	recipients   map[string]*domain.Recipient // keyed by id
	byCampaign   map[string][]string          // campaign id -> recipient ids by position
	records      []domain.SentEmailRecord
	suppressions map[string]*domain.Suppression // keyed by "userID:email"
	accounts     map[string]*domain.SendingAccount
}

// New creates an empty store.
func New() *DB {
	return &DB{
		campaigns:    make(map[string]*domain.Campaign),
		recipients:   make(map[string]*domain.Recipient),
		byCampaign:   make(map[string][]string),
		suppressions: make(map[string]*domain.Suppression),
		accounts:     make(map[string]*domain.SendingAccount),
	}
}

// Campaigns returns the campaign repository view.
func (db *DB) Campaigns() *CampaignRepo { return &CampaignRepo{db: db} }

// Recipients returns the recipient repository view.
func (db *DB) Recipients() *RecipientRepo { return &RecipientRepo{db: db} }

// Suppressions returns the suppression repository view.
func (db *DB) Suppressions() *SuppressionRepo { return &SuppressionRepo{db: db} }

// Accounts returns the sending account repository view.
func (db *DB) Accounts() *AccountRepo { return &AccountRepo{db: db} }

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.Attachments = append([]domain.Attachment(nil), c.Attachments...)
	cp.ContactColumns = append([]string(nil), c.ContactColumns...)
	if c.DailyLimit != nil {
		v := *c.DailyLimit
		cp.DailyLimit = &v
	}
	return &cp
}

func copyRecipient(r *domain.Recipient) domain.Recipient {
	cp := *r
	cp.Variables = make(map[string]string, len(r.Variables))
	for k, v := range r.Variables {
		cp.Variables[k] = v
	}
	if r.LastError != nil {
		v := *r.LastError
		cp.LastError = &v
	}
	return cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
