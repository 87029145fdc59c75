// Package dispatch runs the send loop of a campaign.
//
// One loop per campaign pulls pending recipients from the persisted queue in
// batches of the concurrency bound and delivers each batch on a bounded
// worker group. Every recipient reserves one unit of quota, is rendered and
// handed to the transmitter; the outcome is written back with a
// compare-and-set on the recipient's pending status. Quota exhaustion, an
// authentication failure and a user pause all halt the loop at the next
// recipient boundary and leave the campaign paused; a storage failure fails
// the campaign. Because every decision is persisted per recipient, resuming
// after a pause or a crash is the same code path as starting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-dispatcher/internal/attachments"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/metrics"
	"github.com/ignite/campaign-dispatcher/internal/pkg/backoff"
	"github.com/ignite/campaign-dispatcher/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/progress"
	"github.com/ignite/campaign-dispatcher/internal/queue"
	"github.com/ignite/campaign-dispatcher/internal/quota"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

// Defaults for a zero Config.
const (
	DefaultConcurrency = 3
	DefaultMaxAttempts = 3
	DefaultLockTTL     = 60 * time.Second
)

var (
	// ErrAlreadyRunning is returned when this process already runs the campaign's loop.
	ErrAlreadyRunning = errors.New("campaign dispatch already running")
	// ErrLocked is returned when another process holds the campaign's dispatch lock.
	ErrLocked = errors.New("campaign is being dispatched by another process")
)

// CampaignStore is the campaign persistence the dispatcher needs.
type CampaignStore interface {
	Campaign(ctx context.Context, id string) (*domain.Campaign, error)
	// TransitionStatus sets the status to `to` only if the current status is
	// one of from, otherwise it returns an error wrapping domain.ErrStatusConflict.
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, reason domain.PauseReason, lastError string) error
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
}

// Renderer expands subject and body templates for one recipient.
type Renderer interface {
	Render(syntax domain.TemplateSyntax, tpl string, bindings map[string]string) (string, error)
}

// Suppressor records addresses the provider rejected permanently.
type Suppressor interface {
	Suppress(ctx context.Context, userID, email string, reason domain.SuppressionReason, source domain.SuppressionSource, campaignID string) error
}

// Config is the dispatch policy.
type Config struct {
	Concurrency int
	MaxAttempts int
	Backoff     backoff.Policy
	LockTTL     time.Duration
}

// Deps are the collaborators of a Dispatcher. Suppressor, Broker, Locks and
// Metrics are optional.
type Deps struct {
	Campaigns   CampaignStore
	Recipients  queue.Store
	Quota       quota.Tracker
	Renderer    Renderer
	Auth        sending.AuthProvider
	Transmitter sending.Transmitter
	Attachments attachments.Store
	Suppressor  Suppressor
	Broker      progress.Broker
	Locks       distlock.Factory
	Metrics     metrics.Recorder
}

// Dispatcher starts, pauses and resumes campaign send loops. It is safe for
// concurrent use.
type Dispatcher struct {
	Deps
	cfg Config

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a dispatcher. Loops it starts run until they finish or
// Shutdown is called.
func New(deps Deps, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		Deps:    deps,
		cfg:     cfg,
		baseCtx: ctx,
		cancel:  cancel,
		runs:    make(map[string]*run),
	}
}

// Start begins dispatching a draft or paused campaign. It returns once the
// campaign is sending; delivery continues in the background.
func (d *Dispatcher) Start(ctx context.Context, campaignID string) error {
	return d.launch(ctx, campaignID, domain.CampaignDraft, domain.CampaignPaused)
}

// Resume restarts a paused campaign. Recipients already terminal are never
// visited again.
func (d *Dispatcher) Resume(ctx context.Context, campaignID string) error {
	return d.launch(ctx, campaignID, domain.CampaignPaused)
}

// recover restarts the loop of a campaign persisted as sending whose loop is
// gone, after a crash or a shutdown.
func (d *Dispatcher) recover(ctx context.Context, campaignID string) error {
	return d.launch(ctx, campaignID, domain.CampaignSending)
}

// Pause asks the campaign's loop to stop at the next recipient boundary.
// Sends already in flight complete. Pausing a paused campaign is a no-op.
func (d *Dispatcher) Pause(ctx context.Context, campaignID string) error {
	if r := d.run(campaignID); r != nil {
		r.halt(domain.PauseUserRequested, "")
		logger.Info("campaign pause requested", "campaign_id", campaignID)
		return nil
	}

	c, err := d.Campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case domain.CampaignPaused:
		return nil
	case domain.CampaignSending:
		// The loop runs elsewhere or died with the process; it checks the
		// persisted status between batches.
		if err := d.transition(ctx, campaignID, domain.CampaignSending, domain.CampaignPaused, domain.PauseUserRequested, ""); err != nil {
			return err
		}
		d.publish(ctx, campaignID)
		return nil
	default:
		return fmt.Errorf("%w: cannot pause a %s campaign", domain.ErrInvalidTransition, c.Status)
	}
}

// Progress recomputes the campaign's snapshot from persisted recipient states.
func (d *Dispatcher) Progress(ctx context.Context, campaignID string) (domain.Progress, error) {
	c, err := d.Campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return domain.Progress{}, err
	}
	counts, err := d.Recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return domain.Progress{}, err
	}
	return domain.NewProgress(c, counts), nil
}

// Running reports whether this process runs the campaign's loop.
func (d *Dispatcher) Running(campaignID string) bool {
	return d.run(campaignID) != nil
}

// Wait blocks until the campaign's loop in this process has finished.
func (d *Dispatcher) Wait(ctx context.Context, campaignID string) error {
	r := d.run(campaignID)
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every loop. Campaigns stay sending so recovery resumes
// them on the next start.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(campaignID string) *run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs[campaignID]
}

func (d *Dispatcher) launch(ctx context.Context, campaignID string, from ...domain.CampaignStatus) error {
	if d.baseCtx.Err() != nil {
		return errors.New("dispatcher is shut down")
	}

	c, err := d.Campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !statusIn(c.Status, from) {
		return fmt.Errorf("%w: cannot send a %s campaign", domain.ErrInvalidTransition, c.Status)
	}

	r := newRun(campaignID)
	d.mu.Lock()
	if _, exists := d.runs[campaignID]; exists {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.runs[campaignID] = r
	d.mu.Unlock()

	abort := func(err error) error {
		d.mu.Lock()
		delete(d.runs, campaignID)
		d.mu.Unlock()
		close(r.done)
		return err
	}

	var lock distlock.DistLock
	if d.Locks != nil {
		lock = d.Locks("campaign:dispatch:" + campaignID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return abort(fmt.Errorf("acquire dispatch lock: %w", err))
		}
		if !ok {
			return abort(ErrLocked)
		}
	}

	if c.Status != domain.CampaignSending {
		if err := d.transition(ctx, campaignID, c.Status, domain.CampaignSending, domain.PauseNone, ""); err != nil {
			if lock != nil {
				_ = lock.Release(context.WithoutCancel(ctx))
			}
			return abort(err)
		}
		c.Status = domain.CampaignSending
		c.PauseReason = domain.PauseNone
	}

	logger.Info("campaign dispatch started", "campaign_id", campaignID, "from", string(from[0]), "concurrency", d.cfg.Concurrency)
	d.publish(ctx, campaignID)

	d.wg.Add(1)
	go d.loop(c, r, lock)
	return nil
}

func (d *Dispatcher) loop(c *domain.Campaign, r *run, lock distlock.DistLock) {
	defer d.wg.Done()
	ctx := d.baseCtx

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	if lock != nil {
		go d.heartbeat(hbCtx, lock, r)
	}

	defer func() {
		stopHeartbeat()
		if lock != nil {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := lock.Release(releaseCtx); err != nil {
				logger.Warn("release dispatch lock failed", "campaign_id", c.ID, "error", err)
			}
			cancel()
		}
		d.mu.Lock()
		delete(d.runs, c.ID)
		d.mu.Unlock()
		close(r.done)
	}()

	files, err := attachments.LoadAll(ctx, d.Attachments, c.Attachments)
	if err != nil {
		r.fail(err)
	}

	// One pool for the whole run: Go blocks only until a worker is free, so a
	// recipient sleeping in backoff holds its own slot and no other.
	var workers errgroup.Group
	workers.SetLimit(d.cfg.Concurrency)

	q := queue.New(d.Recipients, c.ID)
	for !r.stopped() && ctx.Err() == nil {
		batch, err := q.NextBatch(ctx, d.cfg.Concurrency)
		if err != nil {
			if ctx.Err() == nil {
				r.fail(fmt.Errorf("load pending recipients: %w", err))
			}
			break
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if r.stopped() || ctx.Err() != nil {
				break
			}
			rec := &batch[i]
			workers.Go(func() error {
				if err := d.deliver(ctx, c, files, q, rec, r); err != nil {
					r.fail(err)
				}
				return nil
			})
		}

		d.publish(ctx, c.ID)
		d.checkExternalStatus(ctx, c.ID, r)
	}
	_ = workers.Wait()

	d.finalize(c.ID, r)
}

// checkExternalStatus abandons the loop when another process moved the
// campaign out of sending.
func (d *Dispatcher) checkExternalStatus(ctx context.Context, campaignID string, r *run) {
	if r.stopped() || ctx.Err() != nil {
		return
	}
	cur, err := d.Campaigns.Campaign(ctx, campaignID)
	if err != nil {
		r.fail(fmt.Errorf("reload campaign: %w", err))
		return
	}
	if cur.Status != domain.CampaignSending {
		logger.Info("campaign left sending externally, stopping loop", "campaign_id", campaignID, "status", string(cur.Status))
		r.abandon()
	}
}

func (d *Dispatcher) heartbeat(ctx context.Context, lock distlock.DistLock, r *run) {
	ticker := time.NewTicker(d.cfg.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, d.cfg.LockTTL); err != nil {
				if errors.Is(err, distlock.ErrNotHeld) {
					logger.Error("dispatch lock lost, stopping loop", "campaign_id", r.campaignID)
					r.abandon()
					return
				}
				logger.Warn("extend dispatch lock failed", "campaign_id", r.campaignID, "error", err)
			}
		}
	}
}

// finalize moves the campaign out of sending once the loop has stopped.
func (d *Dispatcher) finalize(campaignID string, r *run) {
	if r.isAbandoned() {
		return
	}
	if d.baseCtx.Err() != nil && r.fatalErr() == nil {
		logger.Info("dispatch interrupted by shutdown, campaign stays sending", "campaign_id", campaignID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.fatalErr(); err != nil {
		logger.Error("campaign dispatch failed", "campaign_id", campaignID, "error", err)
		d.finish(ctx, campaignID, domain.CampaignFailed, domain.PauseNone, err.Error())
		return
	}

	counts, err := d.Recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		logger.Error("count recipients failed", "campaign_id", campaignID, "error", err)
		d.finish(ctx, campaignID, domain.CampaignFailed, domain.PauseNone, err.Error())
		return
	}

	if counts[domain.RecipientPending] == 0 {
		logger.Info("campaign completed", "campaign_id", campaignID,
			"sent", counts[domain.RecipientSent], "failed", counts[domain.RecipientFailed], "skipped", counts[domain.RecipientSkipped])
		d.finish(ctx, campaignID, domain.CampaignCompleted, domain.PauseNone, "")
		return
	}

	reason, detail := r.haltReason()
	if reason == domain.PauseNone {
		reason, detail = domain.PauseUserRequested, "dispatch ended with pending recipients"
	}
	logger.Info("campaign paused", "campaign_id", campaignID, "reason", string(reason), "pending", counts[domain.RecipientPending])
	d.finish(ctx, campaignID, domain.CampaignPaused, reason, detail)
}

func (d *Dispatcher) finish(ctx context.Context, campaignID string, to domain.CampaignStatus, reason domain.PauseReason, lastError string) {
	if err := d.transition(ctx, campaignID, domain.CampaignSending, to, reason, lastError); err != nil {
		logger.Warn("final campaign transition failed", "campaign_id", campaignID, "to", string(to), "error", err)
	}
	d.publish(ctx, campaignID)
}

func (d *Dispatcher) transition(ctx context.Context, campaignID string, from, to domain.CampaignStatus, reason domain.PauseReason, lastError string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	if err := d.Campaigns.TransitionStatus(ctx, campaignID, []domain.CampaignStatus{from}, to, reason, lastError); err != nil {
		return err
	}
	d.Metrics.CampaignTransition(string(to))
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, campaignID string) {
	if d.Broker == nil {
		return
	}
	p, err := d.Progress(context.WithoutCancel(ctx), campaignID)
	if err != nil {
		logger.Warn("progress snapshot failed", "campaign_id", campaignID, "error", err)
		return
	}
	d.Broker.Publish(context.WithoutCancel(ctx), p)
}

func statusIn(s domain.CampaignStatus, set []domain.CampaignStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// run is the shared stop state of one campaign loop.
type run struct {
	campaignID string
	done       chan struct{}

	mu        sync.Mutex
	halted    bool
	reason    domain.PauseReason
	detail    string
	fatal     error
	abandoned bool
}

func newRun(campaignID string) *run {
	return &run{campaignID: campaignID, done: make(chan struct{})}
}

// halt stops the loop with a pause reason. The first reason wins.
func (r *run) halt(reason domain.PauseReason, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halted {
		return
	}
	r.halted = true
	r.reason = reason
	r.detail = detail
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *run) abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
}

func (r *run) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted || r.fatal != nil || r.abandoned
}

func (r *run) haltReason() (domain.PauseReason, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.detail
}

func (r *run) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *run) isAbandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}
