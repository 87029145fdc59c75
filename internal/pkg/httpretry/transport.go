// Package httpretry provides an http.RoundTripper that retries transient
// failures with exponential backoff and jitter. It backs the OAuth token and
// userinfo calls; Gmail sends are retried by the dispatcher instead, which
// counts attempts per recipient.
package httpretry

import (
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/campaign-dispatcher/internal/pkg/backoff"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// Transport wraps a RoundTripper with retry logic.
type Transport struct {
	base       http.RoundTripper
	maxRetries int
	policy     backoff.Policy
}

// NewTransport wraps base (http.DefaultTransport when nil). maxRetries is the
// number of retries after the first attempt (default 3).
func NewTransport(base http.RoundTripper, maxRetries int, policy backoff.Policy) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Transport{base: base, maxRetries: maxRetries, policy: policy}
}

// Client returns an *http.Client using t, for libraries that accept a client.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip retries on 429, 5xx gateway errors and network errors. It does
// not retry client errors or a cancelled request. On the final attempt the
// response is returned as-is so the caller can inspect the status and body.
// Requests with a body are retried only when GetBody is set.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.policy.Delay(attempt)
			logger.Debug("httpretry: retrying", "attempt", attempt, "max", t.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "delay", delay.String())
			if err := backoff.Sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		try := req
		if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, lastErr
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: reset request body: %w", err)
			}
			try = req.Clone(ctx)
			try.Body = body
		}

		resp, err := t.base.RoundTrip(try)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == t.maxRetries {
			return resp, nil
		}

		// Drain for connection reuse, then retry.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient server error that should be retried.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
