package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and dispatch.CampaignStore
// against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, user_id, name, subject_template, body_template, body_is_html, template_syntax,
	attachments, contact_columns, status, pause_reason, last_error, daily_limit,
	started_at, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	var (
		c           domain.Campaign
		atts, cols  []byte
		dailyLimit  sql.NullInt64
		started     sql.NullTime
		completed   sql.NullTime
		pauseReason string
	)
	if err := s.Scan(
		&c.ID, &c.UserID, &c.Name, &c.SubjectTemplate, &c.BodyTemplate, &c.BodyIsHTML, &c.Syntax,
		&atts, &cols, &c.Status, &pauseReason, &c.LastError, &dailyLimit,
		&started, &completed, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.PauseReason = domain.PauseReason(pauseReason)
	if err := json.Unmarshal(atts, &c.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal(cols, &c.ContactColumns); err != nil {
		return nil, fmt.Errorf("decode contact columns: %w", err)
	}
	if dailyLimit.Valid {
		v := int(dailyLimit.Int64)
		c.DailyLimit = &v
	}
	if started.Valid {
		c.StartedAt = &started.Time
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) Campaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := "user_id = $1"
	args := []interface{}{userID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM campaigns WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		campaignColumns, where, idx, idx+1)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	atts, cols, err := encodeLists(c.Attachments, c.ContactColumns)
	if err != nil {
		return "", err
	}
	var dailyLimit sql.NullInt64
	if c.DailyLimit != nil {
		dailyLimit = sql.NullInt64{Int64: int64(*c.DailyLimit), Valid: true}
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(id, user_id, name, subject_template, body_template, body_is_html, template_syntax,
			 attachments, contact_columns, status, daily_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`, c.ID, c.UserID, c.Name, c.SubjectTemplate, c.BodyTemplate, c.BodyIsHTML, c.EffectiveSyntax(),
		atts, cols, c.Status, dailyLimit).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, userID, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.SubjectTemplate != nil {
		add("subject_template", *u.SubjectTemplate)
	}
	if u.BodyTemplate != nil {
		add("body_template", *u.BodyTemplate)
	}
	if u.BodyIsHTML != nil {
		add("body_is_html", *u.BodyIsHTML)
	}
	if u.Syntax != nil {
		add("template_syntax", *u.Syntax)
	}
	if u.DailyLimit != nil {
		if *u.DailyLimit > 0 {
			add("daily_limit", *u.DailyLimit)
		} else {
			add("daily_limit", nil)
		}
	}
	if u.Attachments != nil {
		b, err := json.Marshal(nonNil(*u.Attachments))
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		add("attachments", b)
	}
	if u.ContactColumns != nil {
		b, err := json.Marshal(nonNil(*u.ContactColumns))
		if err != nil {
			return fmt.Errorf("encode contact columns: %w", err)
		}
		add("contact_columns", b)
	}

	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE campaigns SET %s, updated_at = NOW() WHERE id = $%d AND user_id = $%d AND status = 'draft'",
		strings.Join(sets, ", "), idx, idx+1)
	args = append(args, id, userID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
		return domain.ErrCampaignFrozen
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id = $1 AND user_id = $2 AND status <> 'sending'`, id, userID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
		return campaign.ErrRunning
	}
	return nil
}

// TransitionStatus is a compare-and-set on status. Entering sending stamps
// started_at once; entering a terminal status stamps completed_at.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, reason domain.PauseReason, lastError string) error {
	if to != domain.CampaignPaused {
		reason = domain.PauseNone
	}
	froms := make([]string, len(from))
	for i, s := range from {
		froms[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status       = $2,
			pause_reason = $3,
			last_error   = $4,
			started_at   = CASE WHEN $2 = 'sending' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed','failed') THEN NOW() ELSE completed_at END,
			updated_at   = NOW()
		WHERE id = $1 AND status = ANY($5)
	`, id, string(to), string(reason), lastError, pq.Array(froms))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var cur string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return campaign.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read campaign status: %w", err)
		}
		return fmt.Errorf("%w: status is %s", domain.ErrStatusConflict, cur)
	}
	return nil
}

func encodeLists(atts []domain.Attachment, cols []string) ([]byte, []byte, error) {
	a, err := json.Marshal(nonNil(atts))
	if err != nil {
		return nil, nil, fmt.Errorf("encode attachments: %w", err)
	}
	c, err := json.Marshal(nonNil(cols))
	if err != nil {
		return nil, nil, fmt.Errorf("encode contact columns: %w", err)
	}
	return a, c, nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
