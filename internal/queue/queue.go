// Package queue is the persisted, ordered recipient queue of a campaign.
//
// Iteration is lazy and restartable: Next and NextBatch read pending
// recipients from the store in contact-file order, so a fresh Queue after a
// pause or a crash resumes exactly where the persisted state says, and a
// recipient that reached sent, failed or skipped is never handed out again.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// ErrNotPending is returned by the Mark* methods when the recipient already
// left the pending state.
var ErrNotPending = errors.New("recipient is not pending")

// Store is the persistence contract for recipients and their audit records.
// Each Mark* call is a compare-and-set on status=pending; MarkSent and
// MarkFailed write the status change and the SentEmailRecord atomically.
type Store interface {
	ReplaceRecipients(ctx context.Context, campaignID string, recipients []domain.Recipient) error
	ListPending(ctx context.Context, campaignID string, afterPosition, limit int) ([]domain.Recipient, error)
	MarkSent(ctx context.Context, recipientID string, attempts int, record domain.SentEmailRecord) error
	MarkFailed(ctx context.Context, recipientID string, attempts int, reason string, record domain.SentEmailRecord) error
	MarkSkipped(ctx context.Context, recipientID, reason string) error
	RecordAttempt(ctx context.Context, recipientID string, attempts int, lastError string) error
	CountByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error)
	ListSent(ctx context.Context, campaignID string, limit, offset int) ([]domain.SentEmailRecord, int, error)
	ListRecipients(ctx context.Context, campaignID string, filter Filter) ([]domain.Recipient, int, error)
}

// Filter controls recipient listing for inspection.
type Filter struct {
	Status domain.RecipientStatus
	Limit  int
	Offset int
}

// Queue iterates one campaign's pending recipients. Next and NextBatch are
// meant for the single dispatch loop; the Mark* methods may be called from
// its workers concurrently.
type Queue struct {
	store      Store
	campaignID string
	cursor     int
	now        func() time.Time
}

// New creates a queue positioned before the first recipient.
func New(store Store, campaignID string) *Queue {
	return &Queue{store: store, campaignID: campaignID, now: time.Now}
}

// Next returns the next pending recipient, or nil when none remain.
func (q *Queue) Next(ctx context.Context) (*domain.Recipient, error) {
	batch, err := q.NextBatch(ctx, 1)
	if err != nil || len(batch) == 0 {
		return nil, err
	}
	return &batch[0], nil
}

// NextBatch returns up to n pending recipients after the cursor.
func (q *Queue) NextBatch(ctx context.Context, n int) ([]domain.Recipient, error) {
	if n <= 0 {
		n = 1
	}
	batch, err := q.store.ListPending(ctx, q.campaignID, q.cursor, n)
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		q.cursor = batch[len(batch)-1].Position
	}
	return batch, nil
}

// MarkSent records a successful send and its audit record.
func (q *Queue) MarkSent(ctx context.Context, r *domain.Recipient, providerMessageID, subject string) error {
	rec := q.record(r, subject)
	rec.Status = domain.RecipientSent
	rec.ProviderMessageID = providerMessageID
	if err := q.store.MarkSent(ctx, r.ID, r.Attempts, rec); err != nil {
		return err
	}
	r.Status = domain.RecipientSent
	r.LastError = nil
	return nil
}

// MarkFailed records a terminal failure and its audit record.
func (q *Queue) MarkFailed(ctx context.Context, r *domain.Recipient, code domain.FailureCode, reason, subject string) error {
	rec := q.record(r, subject)
	rec.Status = domain.RecipientFailed
	rec.FailureCode = code
	rec.Detail = reason
	if err := q.store.MarkFailed(ctx, r.ID, r.Attempts, reason, rec); err != nil {
		return err
	}
	r.Status = domain.RecipientFailed
	r.LastError = &reason
	return nil
}

// MarkSkipped takes a pending recipient out of dispatch without an audit record.
func (q *Queue) MarkSkipped(ctx context.Context, r *domain.Recipient, reason string) error {
	if err := q.store.MarkSkipped(ctx, r.ID, reason); err != nil {
		return err
	}
	r.Status = domain.RecipientSkipped
	r.LastError = &reason
	return nil
}

// RecordAttempt persists the attempt count after a retryable failure. The
// recipient stays pending.
func (q *Queue) RecordAttempt(ctx context.Context, r *domain.Recipient, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.RecordAttempt(ctx, r.ID, r.Attempts, msg); err != nil {
		return err
	}
	if cause != nil {
		r.LastError = &msg
	}
	return nil
}

func (q *Queue) record(r *domain.Recipient, subject string) domain.SentEmailRecord {
	return domain.SentEmailRecord{
		ID:          uuid.New().String(),
		CampaignID:  q.campaignID,
		RecipientID: r.ID,
		Email:       r.Email,
		Subject:     subject,
		CreatedAt:   q.now().UTC(),
	}
}
