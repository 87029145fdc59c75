package quota

import (
	"context"
	"sync"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// MemoryTracker is a single-process Tracker for development and tests.
type MemoryTracker struct {
	policy Policy

	mu       sync.Mutex
	reserved map[string]int // identity|day
	sent     map[string]int
}

// NewMemoryTracker creates an in-process tracker.
func NewMemoryTracker(policy Policy) *MemoryTracker {
	return &MemoryTracker{
		policy:   policy,
		reserved: make(map[string]int),
		sent:     make(map[string]int),
	}
}

func memKey(identity, day string) string { return identity + "|" + day }

// TryReserve implements Tracker.
func (t *MemoryTracker) TryReserve(_ context.Context, identity string, limit, n int) (Reservation, error) {
	if n <= 0 {
		n = 1
	}
	limit = t.policy.Limit(identity, limit)
	day := t.policy.Day(identity)
	k := memKey(identity, day)

	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.reserved[k]
	if cur+n > limit {
		return Reservation{Identity: identity, Day: day, RemainingToday: remaining(limit, cur)}, nil
	}
	t.reserved[k] = cur + n
	return Reservation{
		Identity:       identity,
		Day:            day,
		N:              n,
		Allowed:        true,
		RemainingToday: remaining(limit, cur+n),
	}, nil
}

// Commit implements Tracker.
func (t *MemoryTracker) Commit(_ context.Context, r Reservation) error {
	if !r.Allowed || r.N == 0 {
		return nil
	}
	t.mu.Lock()
	t.sent[memKey(r.Identity, r.Day)] += r.N
	t.mu.Unlock()
	return nil
}

// Release implements Tracker.
func (t *MemoryTracker) Release(_ context.Context, r Reservation) error {
	if !r.Allowed || r.N == 0 {
		return nil
	}
	k := memKey(r.Identity, r.Day)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved[k] -= r.N
	if t.reserved[k] < 0 {
		t.reserved[k] = 0
	}
	return nil
}

// Usage implements Tracker.
func (t *MemoryTracker) Usage(_ context.Context, identity string, limit int) (domain.QuotaUsage, error) {
	limit = t.policy.Limit(identity, limit)
	day := t.policy.Day(identity)
	k := memKey(identity, day)

	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.QuotaUsage{
		Identity:  identity,
		Day:       day,
		Limit:     limit,
		Reserved:  t.reserved[k],
		Sent:      t.sent[k],
		Remaining: remaining(limit, t.reserved[k]),
	}, nil
}
