// Package quota tracks messages sent per sending identity per calendar day.
//
// Reservation is two-phase. TryReserve atomically claims units against the
// day's limit; Commit confirms them after the provider accepted the message
// and Release returns them when the send did not happen. Every campaign of
// an identity shares the same counter, so the daily limit holds across
// concurrent campaigns and processes.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/config"
	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// DefaultDailyLimit applies when neither the identity nor the campaign sets one.
const DefaultDailyLimit = 500

// ErrUnavailable wraps backend failures; the dispatcher treats it as a
// storage error.
var ErrUnavailable = errors.New("quota backend unavailable")

// Reservation is the outcome of TryReserve. Pass it back to Commit or
// Release; it pins the calendar day the units were taken from.
type Reservation struct {
	Identity       string
	Day            string
	N              int
	Allowed        bool
	RemainingToday int
}

// Tracker is the quota contract used by the dispatcher.
type Tracker interface {
	// TryReserve claims n units for identity against limit (<= 0 means the
	// policy limit). A denied reservation holds nothing.
	TryReserve(ctx context.Context, identity string, limit, n int) (Reservation, error)
	// Commit records the reserved units as successfully sent.
	Commit(ctx context.Context, r Reservation) error
	// Release returns reserved units that were not sent.
	Release(ctx context.Context, r Reservation) error
	// Usage is the read-only projection for today.
	Usage(ctx context.Context, identity string, limit int) (domain.QuotaUsage, error)
}

// IdentityPolicy overrides the limit and day boundary for one identity.
type IdentityPolicy struct {
	DailyLimit int
	Location   *time.Location
}

// Policy resolves limits and day boundaries.
type Policy struct {
	DefaultLimit    int
	DefaultLocation *time.Location
	Identities      map[string]IdentityPolicy

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Limit resolves the effective daily limit. The identity limit (its override,
// else the default) is the ceiling; a positive campaign limit can only lower it.
func (p Policy) Limit(identity string, limit int) int {
	ceiling := p.identityLimit(identity)
	if limit > 0 && limit < ceiling {
		return limit
	}
	return ceiling
}

func (p Policy) identityLimit(identity string) int {
	if ip, ok := p.Identities[identity]; ok && ip.DailyLimit > 0 {
		return ip.DailyLimit
	}
	if p.DefaultLimit > 0 {
		return p.DefaultLimit
	}
	return DefaultDailyLimit
}

// Day returns the identity's current calendar date as YYYY-MM-DD.
func (p Policy) Day(identity string) string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().In(p.location(identity)).Format("2006-01-02")
}

func (p Policy) location(identity string) *time.Location {
	if ip, ok := p.Identities[identity]; ok && ip.Location != nil {
		return ip.Location
	}
	if p.DefaultLocation != nil {
		return p.DefaultLocation
	}
	return time.UTC
}

// PolicyFromConfig builds a Policy from the quota section of the config.
func PolicyFromConfig(cfg config.QuotaConfig) (Policy, error) {
	p := Policy{DefaultLimit: cfg.DefaultDailyLimit, Identities: make(map[string]IdentityPolicy)}
	if cfg.DefaultTimezone != "" {
		loc, err := time.LoadLocation(cfg.DefaultTimezone)
		if err != nil {
			return Policy{}, fmt.Errorf("default timezone: %w", err)
		}
		p.DefaultLocation = loc
	}
	for id, q := range cfg.Identities {
		ip := IdentityPolicy{DailyLimit: q.DailyLimit}
		if q.Timezone != "" {
			loc, err := time.LoadLocation(q.Timezone)
			if err != nil {
				return Policy{}, fmt.Errorf("timezone for %s: %w", id, err)
			}
			ip.Location = loc
		}
		p.Identities[id] = ip
	}
	return p, nil
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
