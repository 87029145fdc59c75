package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/queue"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

// RecipientRepo implements queue.Store.
type RecipientRepo struct{ db *DB }

// ReplaceRecipients swaps the recipient list of a draft campaign.
func (r *RecipientRepo) ReplaceRecipients(_ context.Context, campaignID string, recipients []domain.Recipient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return domain.ErrCampaignFrozen
	}
	for _, id := range r.db.byCampaign[campaignID] {
		delete(r.db.recipients, id)
	}

	sorted := make([]domain.Recipient, len(recipients))
	copy(sorted, recipients)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	ids := make([]string, 0, len(sorted))
	now := time.Now().UTC()
	for i := range sorted {
		rec := copyRecipient(&sorted[i])
		rec.CampaignID = campaignID
		rec.UpdatedAt = now
		r.db.recipients[rec.ID] = &rec
		ids = append(ids, rec.ID)
	}
	r.db.byCampaign[campaignID] = ids
	return nil
}

func (r *RecipientRepo) ListPending(_ context.Context, campaignID string, afterPosition, limit int) ([]domain.Recipient, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Recipient
	for _, id := range r.db.byCampaign[campaignID] {
		rec := r.db.recipients[id]
		if rec.Position <= afterPosition || rec.Status != domain.RecipientPending {
			continue
		}
		out = append(out, copyRecipient(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// pending returns the recipient if it is still pending. Caller holds the lock.
func (r *RecipientRepo) pending(id string) (*domain.Recipient, error) {
	rec, ok := r.db.recipients[id]
	if !ok {
		return nil, fmt.Errorf("recipient %s: %w", id, queue.ErrNotPending)
	}
	if rec.Status != domain.RecipientPending {
		return nil, fmt.Errorf("recipient %s is %s: %w", id, rec.Status, queue.ErrNotPending)
	}
	return rec, nil
}

func (r *RecipientRepo) MarkSent(_ context.Context, recipientID string, attempts int, record domain.SentEmailRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, err := r.pending(recipientID)
	if err != nil {
		return err
	}
	rec.Status = domain.RecipientSent
	rec.Attempts = attempts
	rec.LastError = nil
	rec.UpdatedAt = time.Now().UTC()
	r.db.records = append(r.db.records, record)
	return nil
}

func (r *RecipientRepo) MarkFailed(_ context.Context, recipientID string, attempts int, reason string, record domain.SentEmailRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, err := r.pending(recipientID)
	if err != nil {
		return err
	}
	rec.Status = domain.RecipientFailed
	rec.Attempts = attempts
	rec.LastError = &reason
	rec.UpdatedAt = time.Now().UTC()
	r.db.records = append(r.db.records, record)
	return nil
}

func (r *RecipientRepo) MarkSkipped(_ context.Context, recipientID, reason string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, err := r.pending(recipientID)
	if err != nil {
		return err
	}
	rec.Status = domain.RecipientSkipped
	rec.LastError = &reason
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RecipientRepo) RecordAttempt(_ context.Context, recipientID string, attempts int, lastError string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, err := r.pending(recipientID)
	if err != nil {
		return err
	}
	rec.Attempts = attempts
	if lastError != "" {
		rec.LastError = &lastError
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *RecipientRepo) CountByStatus(_ context.Context, campaignID string) (map[domain.RecipientStatus]int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	counts := make(map[domain.RecipientStatus]int)
	for _, id := range r.db.byCampaign[campaignID] {
		counts[r.db.recipients[id].Status]++
	}
	return counts, nil
}

func (r *RecipientRepo) ListSent(_ context.Context, campaignID string, limit, offset int) ([]domain.SentEmailRecord, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.SentEmailRecord
	for _, rec := range r.db.records {
		if rec.CampaignID == campaignID {
			out = append(out, rec)
		}
	}
	return page(out, limit, offset), len(out), nil
}

func (r *RecipientRepo) ListRecipients(_ context.Context, campaignID string, f queue.Filter) ([]domain.Recipient, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Recipient
	for _, id := range r.db.byCampaign[campaignID] {
		rec := r.db.recipients[id]
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, copyRecipient(rec))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	return page(out, limit, f.Offset), len(out), nil
}
