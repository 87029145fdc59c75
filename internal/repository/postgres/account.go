package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/campaign-dispatcher/internal/auth"
	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// AccountRepo implements auth.TokenStore against PostgreSQL.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo creates a Postgres-backed sending account repository.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

func (r *AccountRepo) GetAccount(ctx context.Context, userID string) (*domain.SendingAccount, error) {
	var (
		a      domain.SendingAccount
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, email, access_token, refresh_token, token_type, expiry, updated_at
		FROM sending_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Email, &a.AccessToken, &a.RefreshToken, &a.TokenType, &expiry, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("get sending account: %w", err)
	}
	if expiry.Valid {
		a.Expiry = expiry.Time
	}
	return &a, nil
}

func (r *AccountRepo) SaveAccount(ctx context.Context, a *domain.SendingAccount) error {
	var expiry sql.NullTime
	if !a.Expiry.IsZero() {
		expiry = sql.NullTime{Time: a.Expiry, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sending_accounts (user_id, email, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email         = EXCLUDED.email,
			access_token  = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN sending_accounts.refresh_token
			                     ELSE EXCLUDED.refresh_token END,
			token_type    = EXCLUDED.token_type,
			expiry        = EXCLUDED.expiry,
			updated_at    = NOW()
		RETURNING updated_at
	`, a.UserID, a.Email, a.AccessToken, a.RefreshToken, a.TokenType, expiry).Scan(&a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save sending account: %w", err)
	}
	return nil
}
