package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/backoff"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/queue"
	"github.com/ignite/campaign-dispatcher/internal/quota"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

// deliver drives one recipient to a terminal state, or leaves it pending when
// the loop halts first. The returned error is fatal to the campaign.
func (d *Dispatcher) deliver(ctx context.Context, c *domain.Campaign, files []domain.AttachmentFile, q *queue.Queue, rec *domain.Recipient, r *run) error {
	// Writes that follow a send must land even when shutdown cancels ctx,
	// otherwise a delivered message would stay pending and be sent again.
	persist := context.WithoutCancel(ctx)

	for {
		if r.stopped() || ctx.Err() != nil {
			return nil
		}

		res, err := d.Quota.TryReserve(ctx, c.UserID, dailyLimit(c), 1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reserve quota: %w", err)
		}
		if !res.Allowed {
			d.Metrics.QuotaDenied()
			logger.Info("daily quota exhausted", "campaign_id", c.ID, "user_id", c.UserID, "day", res.Day)
			r.halt(domain.PauseQuotaExhausted, "")
			return nil
		}

		subject, body, err := d.render(c, rec)
		if err != nil {
			d.release(persist, res)
			return d.markFailed(persist, q, rec, domain.FailureRender, err.Error(), subject)
		}

		cred, err := d.Auth.GetSendCredential(ctx, c.UserID)
		if err != nil {
			d.release(persist, res)
			var ae *sending.AuthError
			if errors.As(err, &ae) {
				logger.Warn("no usable send credential, pausing campaign", "campaign_id", c.ID, "user_id", c.UserID, "error", err)
				r.halt(domain.PauseAuthFailed, err.Error())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("get send credential: %w", err)
		}

		msg := &domain.OutboundMessage{
			CampaignID:  c.ID,
			RecipientID: rec.ID,
			From:        cred.Sender,
			To:          rec.Email,
			Subject:     subject,
			Body:        body,
			HTML:        c.BodyIsHTML,
			Attachments: files,
		}

		rec.Attempts++
		start := time.Now()
		providerID, sendErr := d.Transmitter.Send(ctx, cred, msg)
		elapsed := time.Since(start)

		if sendErr == nil {
			d.Metrics.TransmissionAttempt("success", elapsed)
			if err := d.Quota.Commit(persist, res); err != nil {
				logger.Warn("quota commit failed", "campaign_id", c.ID, "error", err)
			}
			if err := q.MarkSent(persist, rec, providerID, subject); err != nil {
				return d.storeErr(rec, err)
			}
			d.Metrics.RecipientDone(string(domain.RecipientSent))
			logger.Debug("recipient sent", "campaign_id", c.ID, "recipient", rec.Email, "message_id", providerID)
			return nil
		}

		d.release(persist, res)

		if ctx.Err() != nil && errors.Is(sendErr, ctx.Err()) {
			// Interrupted by shutdown; the attempt does not count.
			rec.Attempts--
			return nil
		}

		kind := sending.Classify(sendErr)
		d.Metrics.TransmissionAttempt(string(kind), elapsed)

		switch kind {
		case sending.AuthFailure:
			logger.Warn("provider rejected credential, pausing campaign", "campaign_id", c.ID, "user_id", c.UserID, "error", sendErr)
			r.halt(domain.PauseAuthFailed, sendErr.Error())
			return d.markFailed(persist, q, rec, domain.FailureAuth, sendErr.Error(), subject)

		case sending.Permanent:
			if sending.IsInvalidRecipient(sendErr) && d.Suppressor != nil {
				if err := d.Suppressor.Suppress(persist, c.UserID, rec.Email, domain.ReasonProviderRejected, domain.SourceDispatch, c.ID); err != nil {
					logger.Warn("suppress rejected address failed", "campaign_id", c.ID, "recipient", rec.Email, "error", err)
				}
			}
			return d.markFailed(persist, q, rec, domain.FailurePermanent, sendErr.Error(), subject)

		default:
			if rec.Attempts >= d.cfg.MaxAttempts {
				logger.Warn("retries exhausted", "campaign_id", c.ID, "recipient", rec.Email, "attempts", rec.Attempts, "error", sendErr)
				return d.markFailed(persist, q, rec, domain.FailureRetriesExhausted, sendErr.Error(), subject)
			}
			if err := q.RecordAttempt(persist, rec, sendErr); err != nil {
				return d.storeErr(rec, err)
			}
			delay := d.cfg.Backoff.Delay(rec.Attempts)
			logger.Debug("transient send failure, retrying", "campaign_id", c.ID, "recipient", rec.Email, "attempt", rec.Attempts, "delay", delay.String())
			if err := backoff.Sleep(ctx, delay); err != nil {
				return nil
			}
		}
	}
}

func (d *Dispatcher) render(c *domain.Campaign, rec *domain.Recipient) (subject, body string, err error) {
	syntax := c.EffectiveSyntax()
	subject, err = d.Renderer.Render(syntax, c.SubjectTemplate, rec.Variables)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err = d.Renderer.Render(syntax, c.BodyTemplate, rec.Variables)
	if err != nil {
		return subject, "", fmt.Errorf("render body: %w", err)
	}
	return subject, body, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, q *queue.Queue, rec *domain.Recipient, code domain.FailureCode, reason, subject string) error {
	if err := q.MarkFailed(ctx, rec, code, reason, subject); err != nil {
		return d.storeErr(rec, err)
	}
	d.Metrics.RecipientDone(string(domain.RecipientFailed))
	return nil
}

func (d *Dispatcher) release(ctx context.Context, res quota.Reservation) {
	if err := d.Quota.Release(ctx, res); err != nil {
		logger.Warn("quota release failed", "identity", res.Identity, "day", res.Day, "error", err)
	}
}

// storeErr turns a recipient write failure into the loop's verdict: a lost
// compare-and-set is logged, anything else is fatal.
func (d *Dispatcher) storeErr(rec *domain.Recipient, err error) error {
	if errors.Is(err, queue.ErrNotPending) {
		logger.Warn("recipient already left pending", "recipient_id", rec.ID, "error", err)
		return nil
	}
	return fmt.Errorf("persist recipient %s: %w", rec.ID, err)
}

func dailyLimit(c *domain.Campaign) int {
	if c.DailyLimit != nil {
		return *c.DailyLimit
	}
	return 0
}
