package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/queue"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

// RecipientRepo implements queue.Store against PostgreSQL. Every Mark*
// write is a compare-and-set on status = 'pending'.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `id, campaign_id, position, email, variables, status, last_error, attempts, updated_at`

func scanRecipient(s scanner) (domain.Recipient, error) {
	var (
		r         domain.Recipient
		vars      []byte
		lastError sql.NullString
	)
	if err := s.Scan(&r.ID, &r.CampaignID, &r.Position, &r.Email, &vars, &r.Status, &lastError, &r.Attempts, &r.UpdatedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal(vars, &r.Variables); err != nil {
		return r, fmt.Errorf("decode variables: %w", err)
	}
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return r, nil
}

// ReplaceRecipients swaps the campaign's recipient list in one transaction,
// bulk-loading the new rows with COPY. The campaign row is locked for the
// duration and must be in draft, so a concurrent start either waits for the
// new list or makes this call fail with domain.ErrCampaignFrozen.
func (r *RecipientRepo) ReplaceRecipients(ctx context.Context, campaignID string, recipients []domain.Recipient) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status domain.CampaignStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign: %w", err)
	}
	if status != domain.CampaignDraft {
		return domain.ErrCampaignFrozen
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("clear recipients: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("recipients",
		"id", "campaign_id", "position", "email", "variables", "status", "last_error", "attempts"))
	if err != nil {
		return fmt.Errorf("prepare COPY: %w", err)
	}
	for _, rec := range recipients {
		vars, err := json.Marshal(rec.Variables)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("encode variables: %w", err)
		}
		var lastError interface{}
		if rec.LastError != nil {
			lastError = *rec.LastError
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, campaignID, rec.Position, rec.Email, string(vars), string(rec.Status), lastError, rec.Attempts); err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush COPY: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close COPY: %w", err)
	}
	return tx.Commit()
}

func (r *RecipientRepo) ListPending(ctx context.Context, campaignID string, afterPosition, limit int) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE campaign_id = $1 AND status = 'pending' AND position > $2
		ORDER BY position
		LIMIT $3
	`, campaignID, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecipientRepo) MarkSent(ctx context.Context, recipientID string, attempts int, record domain.SentEmailRecord) error {
	return r.finish(ctx, recipientID, `
		UPDATE recipients SET status = 'sent', attempts = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, []interface{}{recipientID, attempts}, record)
}

func (r *RecipientRepo) MarkFailed(ctx context.Context, recipientID string, attempts int, reason string, record domain.SentEmailRecord) error {
	return r.finish(ctx, recipientID, `
		UPDATE recipients SET status = 'failed', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, []interface{}{recipientID, attempts, reason}, record)
}

// finish applies a terminal transition and appends its audit record
// atomically. A lost compare-and-set writes nothing.
func (r *RecipientRepo) finish(ctx context.Context, recipientID, update string, args []interface{}, rec domain.SentEmailRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s: %w", recipientID, queue.ErrNotPending)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sent_emails
			(id, campaign_id, recipient_id, email, subject, status, provider_message_id, failure_code, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.CampaignID, rec.RecipientID, rec.Email, rec.Subject, string(rec.Status),
		rec.ProviderMessageID, string(rec.FailureCode), rec.Detail, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert sent record: %w", err)
	}
	return tx.Commit()
}

func (r *RecipientRepo) MarkSkipped(ctx context.Context, recipientID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recipients SET status = 'skipped', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, recipientID, reason)
	if err != nil {
		return fmt.Errorf("skip recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s: %w", recipientID, queue.ErrNotPending)
	}
	return nil
}

func (r *RecipientRepo) RecordAttempt(ctx context.Context, recipientID string, attempts int, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recipients SET attempts = $2, last_error = COALESCE(NULLIF($3, ''), last_error), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, recipientID, attempts, lastError)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s: %w", recipientID, queue.ErrNotPending)
	}
	return nil
}

func (r *RecipientRepo) CountByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM recipients WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RecipientStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.RecipientStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *RecipientRepo) ListSent(ctx context.Context, campaignID string, limit, offset int) ([]domain.SentEmailRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_emails WHERE campaign_id = $1`, campaignID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sent records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_id, email, subject, status,
		       provider_message_id, failure_code, detail, created_at
		FROM sent_emails
		WHERE campaign_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sent records: %w", err)
	}
	defer rows.Close()

	var out []domain.SentEmailRecord
	for rows.Next() {
		var rec domain.SentEmailRecord
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.RecipientID, &rec.Email, &rec.Subject, &rec.Status,
			&rec.ProviderMessageID, &rec.FailureCode, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan sent record: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (r *RecipientRepo) ListRecipients(ctx context.Context, campaignID string, f queue.Filter) ([]domain.Recipient, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "campaign_id = $1"
	args := []interface{}{campaignID}
	if f.Status != "" {
		where += " AND status = $2"
		args = append(args, string(f.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recipients WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}

	n := len(args)
	q := fmt.Sprintf("SELECT %s FROM recipients WHERE %s ORDER BY position LIMIT $%d OFFSET $%d",
		recipientColumns, where, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
