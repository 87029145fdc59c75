package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Keys outlive the day they count so late commits and releases still land.
const keyTTL = 48 * time.Hour

// Check and increment in one step so concurrent reservations cannot
// overshoot the limit.
const reserveLuaScript = `
local key = KEYS[1]
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
if current + n > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, n)
if newVal == n then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// Never decrements below zero.
const releaseLuaScript = `
local key = KEYS[1]
local n = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", key) or "0")
if current <= 0 then
    return 0
end
if n > current then
    n = current
end
return redis.call("DECRBY", key, n)
`

// RedisTracker keeps counters in Redis under quota:{identity}:{day}.
type RedisTracker struct {
	redis         *redis.Client
	policy        Policy
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewRedisTracker creates a tracker with pre-compiled Lua scripts.
func NewRedisTracker(client *redis.Client, policy Policy) *RedisTracker {
	return &RedisTracker{
		redis:         client,
		policy:        policy,
		reserveScript: redis.NewScript(reserveLuaScript),
		releaseScript: redis.NewScript(releaseLuaScript),
	}
}

func reservedKey(identity, day string) string { return fmt.Sprintf("quota:%s:%s", identity, day) }
func sentKey(identity, day string) string     { return fmt.Sprintf("quota:%s:%s:sent", identity, day) }

// TryReserve implements Tracker.
func (t *RedisTracker) TryReserve(ctx context.Context, identity string, limit, n int) (Reservation, error) {
	if n <= 0 {
		n = 1
	}
	limit = t.policy.Limit(identity, limit)
	day := t.policy.Day(identity)

	res, err := t.reserveScript.Run(ctx, t.redis,
		[]string{reservedKey(identity, day)},
		n, limit, int(keyTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: reserve: %v", ErrUnavailable, err)
	}
	if len(res) < 2 {
		return Reservation{}, fmt.Errorf("%w: unexpected script result %v", ErrUnavailable, res)
	}

	r := Reservation{
		Identity:       identity,
		Day:            day,
		N:              n,
		Allowed:        res[0] == 1,
		RemainingToday: remaining(limit, int(res[1])),
	}
	if !r.Allowed {
		r.N = 0
	}
	return r, nil
}

// Commit implements Tracker.
func (t *RedisTracker) Commit(ctx context.Context, r Reservation) error {
	if !r.Allowed || r.N == 0 {
		return nil
	}
	key := sentKey(r.Identity, r.Day)
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(r.N))
		pipe.Expire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// Release implements Tracker.
func (t *RedisTracker) Release(ctx context.Context, r Reservation) error {
	if !r.Allowed || r.N == 0 {
		return nil
	}
	if err := t.releaseScript.Run(ctx, t.redis, []string{reservedKey(r.Identity, r.Day)}, r.N).Err(); err != nil {
		return fmt.Errorf("%w: release: %v", ErrUnavailable, err)
	}
	return nil
}

// Usage implements Tracker.
func (t *RedisTracker) Usage(ctx context.Context, identity string, limit int) (domain.QuotaUsage, error) {
	limit = t.policy.Limit(identity, limit)
	day := t.policy.Day(identity)

	vals, err := t.redis.MGet(ctx, reservedKey(identity, day), sentKey(identity, day)).Result()
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("%w: usage: %v", ErrUnavailable, err)
	}
	reserved, sent := toInt(vals[0]), toInt(vals[1])
	return domain.QuotaUsage{
		Identity:  identity,
		Day:       day,
		Limit:     limit,
		Reserved:  reserved,
		Sent:      sent,
		Remaining: remaining(limit, reserved),
	}, nil
}

func toInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
