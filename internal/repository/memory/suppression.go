package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository.
type SuppressionRepo struct{ db *DB }

func suppressionKey(userID, email string) string {
	return userID + ":" + strings.ToLower(email)
}

func (r *SuppressionRepo) IsSuppressed(_ context.Context, userID, email string) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.suppressions[suppressionKey(userID, email)]
	return ok, nil
}

func (r *SuppressionRepo) Suppress(_ context.Context, s *domain.Suppression) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := suppressionKey(s.UserID, s.Email)
	if _, exists := r.db.suppressions[k]; exists {
		return nil
	}
	cp := *s
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.db.suppressions[k] = &cp
	return nil
}

func (r *SuppressionRepo) Remove(_ context.Context, userID, email string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := suppressionKey(userID, email)
	if _, ok := r.db.suppressions[k]; !ok {
		return suppression.ErrNotFound
	}
	delete(r.db.suppressions, k)
	return nil
}

func (r *SuppressionRepo) List(_ context.Context, userID string, f suppression.ListFilter) ([]domain.Suppression, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []domain.Suppression
	for _, s := range r.db.suppressions {
		if s.UserID != userID {
			continue
		}
		if f.Reason != "" && string(s.Reason) != f.Reason {
			continue
		}
		if f.Search != "" && !strings.Contains(s.Email, strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (r *SuppressionRepo) Count(_ context.Context, userID string) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n := 0
	for _, s := range r.db.suppressions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}
