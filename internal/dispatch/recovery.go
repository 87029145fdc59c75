package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// DefaultAutoResumeInterval is how often quota-paused campaigns are re-checked.
const DefaultAutoResumeInterval = 5 * time.Minute

// Recoverer restarts loops lost to a crash or shutdown and, optionally,
// resumes campaigns paused for quota once their identity has quota again.
type Recoverer struct {
	d          *Dispatcher
	interval   time.Duration
	autoResume bool
}

// NewRecoverer creates a recoverer for d. A zero interval uses the default.
func NewRecoverer(d *Dispatcher, autoResume bool, interval time.Duration) *Recoverer {
	if interval <= 0 {
		interval = DefaultAutoResumeInterval
	}
	return &Recoverer{d: d, interval: interval, autoResume: autoResume}
}

// RecoverInterrupted relaunches every campaign persisted as sending that has
// no live loop here. Campaigns locked by another process are skipped.
func (rc *Recoverer) RecoverInterrupted(ctx context.Context) (int, error) {
	campaigns, err := rc.d.Campaigns.ListByStatus(ctx, domain.CampaignSending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range campaigns {
		if rc.d.Running(c.ID) {
			continue
		}
		switch err := rc.d.recover(ctx, c.ID); {
		case err == nil:
			n++
			logger.Info("recovered interrupted campaign", "campaign_id", c.ID)
		case errors.Is(err, ErrLocked), errors.Is(err, ErrAlreadyRunning):
		default:
			logger.Warn("recover campaign failed", "campaign_id", c.ID, "error", err)
		}
	}
	return n, nil
}

// ResumeQuotaPaused resumes campaigns paused for quota whose identity has
// quota left today.
func (rc *Recoverer) ResumeQuotaPaused(ctx context.Context) (int, error) {
	campaigns, err := rc.d.Campaigns.ListByStatus(ctx, domain.CampaignPaused)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range campaigns {
		if c.PauseReason != domain.PauseQuotaExhausted {
			continue
		}
		usage, err := rc.d.Quota.Usage(ctx, c.UserID, dailyLimit(&c))
		if err != nil {
			logger.Warn("quota usage lookup failed", "campaign_id", c.ID, "error", err)
			continue
		}
		if usage.Remaining <= 0 {
			continue
		}
		if err := rc.d.Resume(ctx, c.ID); err != nil {
			if !errors.Is(err, ErrLocked) && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, domain.ErrStatusConflict) {
				logger.Warn("auto-resume failed", "campaign_id", c.ID, "error", err)
			}
			continue
		}
		n++
		logger.Info("auto-resumed quota-paused campaign", "campaign_id", c.ID, "remaining", usage.Remaining)
	}
	return n, nil
}

// Start recovers interrupted campaigns, then runs the auto-resume ticker
// when enabled. It blocks until ctx is cancelled.
func (rc *Recoverer) Start(ctx context.Context) {
	if n, err := rc.RecoverInterrupted(ctx); err != nil {
		logger.Error("campaign recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("campaign recovery complete", "recovered", n)
	}

	if !rc.autoResume {
		return
	}
	logger.Info("quota auto-resume enabled", "interval", rc.interval.String())

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rc.ResumeQuotaPaused(ctx); err != nil {
				logger.Warn("auto-resume scan failed", "error", err)
			}
		}
	}
}
