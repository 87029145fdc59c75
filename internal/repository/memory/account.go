package memory

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/auth"
	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// AccountRepo implements auth.TokenStore.
type AccountRepo struct{ db *DB }

func (r *AccountRepo) GetAccount(_ context.Context, userID string) (*domain.SendingAccount, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.accounts[userID]
	if !ok {
		return nil, auth.ErrNoAccount
	}
	cp := *a
	return &cp, nil
}

func (r *AccountRepo) SaveAccount(_ context.Context, a *domain.SendingAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	r.db.accounts[a.UserID] = &cp
	return nil
}
