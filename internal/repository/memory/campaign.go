package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and dispatch.CampaignStore.
type CampaignRepo struct{ db *DB }

func (r *CampaignRepo) Get(_ context.Context, userID, id string) (*domain.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (r *CampaignRepo) List(_ context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.db.campaigns {
		if c.UserID != userID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, f.Offset), len(out), nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := r.db.campaigns[c.ID]; exists {
		return "", fmt.Errorf("create campaign: duplicate id %s", c.ID)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.db.campaigns[c.ID] = copyCampaign(c)
	return c.ID, nil
}

func (r *CampaignRepo) Update(_ context.Context, userID, id string, u campaign.UpdateFields) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.UserID != userID {
		return campaign.ErrNotFound
	}
	if !c.IsMutable() {
		return domain.ErrCampaignFrozen
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.SubjectTemplate != nil {
		c.SubjectTemplate = *u.SubjectTemplate
	}
	if u.BodyTemplate != nil {
		c.BodyTemplate = *u.BodyTemplate
	}
	if u.BodyIsHTML != nil {
		c.BodyIsHTML = *u.BodyIsHTML
	}
	if u.Syntax != nil {
		c.Syntax = *u.Syntax
	}
	if u.DailyLimit != nil {
		if *u.DailyLimit > 0 {
			v := *u.DailyLimit
			c.DailyLimit = &v
		} else {
			c.DailyLimit = nil
		}
	}
	if u.Attachments != nil {
		c.Attachments = append([]domain.Attachment(nil), (*u.Attachments)...)
	}
	if u.ContactColumns != nil {
		c.ContactColumns = append([]string(nil), (*u.ContactColumns)...)
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CampaignRepo) Delete(_ context.Context, userID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.UserID != userID {
		return campaign.ErrNotFound
	}
	if c.Status == domain.CampaignSending {
		return campaign.ErrRunning
	}
	for _, rid := range r.db.byCampaign[id] {
		delete(r.db.recipients, rid)
	}
	delete(r.db.byCampaign, id)
	kept := r.db.records[:0]
	for _, rec := range r.db.records {
		if rec.CampaignID != id {
			kept = append(kept, rec)
		}
	}
	r.db.records = kept
	delete(r.db.campaigns, id)
	return nil
}

// Campaign returns a campaign by id regardless of owner.
func (r *CampaignRepo) Campaign(_ context.Context, id string) (*domain.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

// TransitionStatus moves a campaign to `to` if its current status is in from.
func (r *CampaignRepo) TransitionStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, reason domain.PauseReason, lastError string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	matched := false
	for _, s := range from {
		if c.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: status is %s", domain.ErrStatusConflict, c.Status)
	}

	now := time.Now().UTC()
	c.Status = to
	c.PauseReason = domain.PauseNone
	if to == domain.CampaignPaused {
		c.PauseReason = reason
	}
	c.LastError = lastError
	if to == domain.CampaignSending && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if to.IsTerminal() {
		c.CompletedAt = &now
	}
	c.UpdatedAt = now
	return nil
}

// ListByStatus returns every campaign in status, oldest first.
func (r *CampaignRepo) ListByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.db.campaigns {
		if c.Status == status {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
