package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/config"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisTracker(t *testing.T, policy Policy) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisTracker(client, policy), mr
}

// trackers runs a test against both implementations.
func trackers(t *testing.T, policy Policy, fn func(t *testing.T, tr Tracker)) {
	t.Run("redis", func(t *testing.T) {
		tr, _ := newRedisTracker(t, policy)
		fn(t, tr)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryTracker(policy))
	})
}

func TestPolicy_Limit(t *testing.T) {
	p := Policy{
		DefaultLimit: 200,
		Identities:   map[string]IdentityPolicy{"vip": {DailyLimit: 1000}},
	}
	assert.Equal(t, 200, p.Limit("someone", 0))
	assert.Equal(t, 1000, p.Limit("vip", 0))
	assert.Equal(t, 50, p.Limit("vip", 50), "campaign limit lowers the ceiling")
	assert.Equal(t, 200, p.Limit("someone", 5000), "campaign limit never raises it")
	assert.Equal(t, 1000, p.Limit("vip", 5000))
	assert.Equal(t, DefaultDailyLimit, Policy{}.Limit("x", 0))
}

func TestPolicy_DayUsesIdentityTimezone(t *testing.T) {
	// 2026-03-10 02:00 UTC is still 2026-03-09 five hours west.
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	p := Policy{
		Now:        func() time.Time { return now },
		Identities: map[string]IdentityPolicy{"west": {Location: time.FixedZone("UTC-5", -5*3600)}},
	}
	assert.Equal(t, "2026-03-10", p.Day("anyone"))
	assert.Equal(t, "2026-03-09", p.Day("west"))
}

func TestTracker_ReserveCommitRelease(t *testing.T) {
	trackers(t, Policy{DefaultLimit: 2}, func(t *testing.T, tr Tracker) {
		ctx := context.Background()

		r1, err := tr.TryReserve(ctx, "u1", 0, 1)
		require.NoError(t, err)
		assert.True(t, r1.Allowed)
		assert.Equal(t, 1, r1.RemainingToday)

		r2, err := tr.TryReserve(ctx, "u1", 0, 1)
		require.NoError(t, err)
		assert.True(t, r2.Allowed)
		assert.Equal(t, 0, r2.RemainingToday)

		denied, err := tr.TryReserve(ctx, "u1", 0, 1)
		require.NoError(t, err)
		assert.False(t, denied.Allowed)
		assert.Equal(t, 0, denied.RemainingToday)

		require.NoError(t, tr.Commit(ctx, r1))
		require.NoError(t, tr.Release(ctx, r2))

		usage, err := tr.Usage(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, usage.Reserved)
		assert.Equal(t, 1, usage.Sent)
		assert.Equal(t, 1, usage.Remaining)

		again, err := tr.TryReserve(ctx, "u1", 0, 1)
		require.NoError(t, err)
		assert.True(t, again.Allowed, "released unit is available again")
	})
}

func TestTracker_IdentitiesAreIndependent(t *testing.T) {
	trackers(t, Policy{DefaultLimit: 1}, func(t *testing.T, tr Tracker) {
		ctx := context.Background()
		a, _ := tr.TryReserve(ctx, "a", 0, 1)
		b, _ := tr.TryReserve(ctx, "b", 0, 1)
		assert.True(t, a.Allowed)
		assert.True(t, b.Allowed)
	})
}

func TestTracker_CampaignLimitCannotExceedIdentityLimit(t *testing.T) {
	trackers(t, Policy{DefaultLimit: 2}, func(t *testing.T, tr Tracker) {
		ctx := context.Background()
		allowed := 0
		for _, limit := range []int{0, 0, 0, 5, 5, 5} {
			r, err := tr.TryReserve(ctx, "u", limit, 1)
			require.NoError(t, err)
			if r.Allowed {
				allowed++
				require.NoError(t, tr.Commit(ctx, r))
			}
		}
		assert.Equal(t, 2, allowed)

		usage, err := tr.Usage(ctx, "u", 5)
		require.NoError(t, err)
		assert.Equal(t, 2, usage.Limit)
		assert.Zero(t, usage.Remaining)
	})
}

func TestTracker_ReleaseOfDeniedIsNoop(t *testing.T) {
	trackers(t, Policy{DefaultLimit: 1}, func(t *testing.T, tr Tracker) {
		ctx := context.Background()
		ok, _ := tr.TryReserve(ctx, "u", 0, 1)
		denied, _ := tr.TryReserve(ctx, "u", 0, 1)
		require.False(t, denied.Allowed)

		require.NoError(t, tr.Release(ctx, denied))
		usage, _ := tr.Usage(ctx, "u", 0)
		assert.Equal(t, 1, usage.Reserved, "denied reservation must not give back someone else's unit")
		require.NoError(t, tr.Release(ctx, ok))
	})
}

func TestTracker_DayRollover(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)}
	policy := Policy{DefaultLimit: 1, Now: c.Now}

	trackers(t, policy, func(t *testing.T, tr Tracker) {
		ctx := context.Background()
		first, _ := tr.TryReserve(ctx, "roll", 0, 1)
		require.True(t, first.Allowed)
		require.NoError(t, tr.Commit(ctx, first))

		denied, _ := tr.TryReserve(ctx, "roll", 0, 1)
		assert.False(t, denied.Allowed)

		c.Advance(2 * time.Minute)
		next, err := tr.TryReserve(ctx, "roll", 0, 1)
		require.NoError(t, err)
		assert.True(t, next.Allowed, "quota resets when the date changes")
		assert.Equal(t, "2026-05-02", next.Day)

		// A release for yesterday's reservation only touches yesterday's counter.
		require.NoError(t, tr.Release(ctx, first))
		usage, _ := tr.Usage(ctx, "roll", 0)
		assert.Equal(t, 1, usage.Reserved)

		c.Advance(-2 * time.Minute)
	})
}

func TestTracker_ConcurrentReservationsNeverExceedLimit(t *testing.T) {
	const limit = 25
	trackers(t, Policy{DefaultLimit: limit}, func(t *testing.T, tr Tracker) {
		ctx := context.Background()
		var granted atomic.Int64
		var wg sync.WaitGroup

		// Four "campaigns" of the same identity racing for the budget.
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					r, err := tr.TryReserve(ctx, "shared", 0, 1)
					if err != nil {
						t.Errorf("reserve: %v", err)
						return
					}
					if r.Allowed {
						granted.Add(1)
						if err := tr.Commit(ctx, r); err != nil {
							t.Errorf("commit: %v", err)
						}
					}
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), granted.Load())
		usage, err := tr.Usage(ctx, "shared", 0)
		require.NoError(t, err)
		assert.Equal(t, limit, usage.Sent)
		assert.Equal(t, 0, usage.Remaining)
	})
}

func TestRedisTracker_KeyHasTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	tr, mr := newRedisTracker(t, Policy{Now: func() time.Time { return now }})

	_, err := tr.TryReserve(context.Background(), "u", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, keyTTL, mr.TTL("quota:u:2026-01-02"))
}

func TestRedisTracker_BackendDown(t *testing.T) {
	tr, mr := newRedisTracker(t, Policy{})
	mr.Close()

	_, err := tr.TryReserve(context.Background(), "u", 0, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(config.QuotaConfig{
		DefaultDailyLimit: 300,
		DefaultTimezone:   "UTC",
		Identities: map[string]config.IdentityQuota{
			"tokyo": {DailyLimit: 50, Timezone: "Asia/Tokyo"},
		},
	})
	require.NoError(t, err)
	p.Now = func() time.Time { return time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC) }

	assert.Equal(t, 300, p.Limit("anyone", 0))
	assert.Equal(t, 50, p.Limit("tokyo", 0))
	assert.Equal(t, 10, p.Limit("tokyo", 10))
	assert.Equal(t, "2024-03-01", p.Day("anyone"))
	assert.Equal(t, "2024-03-02", p.Day("tokyo"))

	_, err = PolicyFromConfig(config.QuotaConfig{DefaultTimezone: "Mars/Olympus"})
	assert.Error(t, err)
}
