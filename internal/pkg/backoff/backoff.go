// Package backoff computes retry delays using exponential backoff with full
// jitter and sleeps for them without outliving the caller's context.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Defaults used when a Policy field is zero.
const (
	DefaultBase = 1 * time.Second
	DefaultMax  = 30 * time.Second
	minDelay    = 100 * time.Millisecond
)

// Policy configures the delay between attempts.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// Jitter draws a value in [0,1). Nil uses math/rand.
	Jitter func() float64
}

// Delay returns the wait before retry number attempt (1-based):
// random(0, min(Max, Base * 2^(attempt-1))), floored at 100ms.
func (p Policy) Delay(attempt int) time.Duration {
	base, max := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 1 {
		attempt = 1
	}

	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}

	jitter := rand.Float64
	if p.Jitter != nil {
		jitter = p.Jitter
	}
	d := time.Duration(jitter() * exp)
	if d < minDelay {
		d = minDelay
	}
	return d
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
