package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ResilientFetcher wraps a Fetcher with bounded retries and exponential backoff.
type ResilientFetcher struct {
	fetcher Fetcher
	policy  RetryPolicy
	pause   pauseController
	metrics MetricsRecorder
	now     func() time.Time
	logger  *zap.Logger
}

// NewResilientFetcher builds a ResilientFetcher. A nil recorder disables metrics.
func NewResilientFetcher(
	fetcher Fetcher,
	policy RetryPolicy,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *ResilientFetcher {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientFetcher{
		fetcher: fetcher,
		policy:  policy,
		pause:   &timerPauseController{},
		metrics: metrics,
		now:     time.Now,
		logger:  logger,
	}
}

// Get fetches rawURL, retrying 429, 5xx and transport errors up to
// policy.MaxAttempts attempts in total. Any other non-2xx status fails at once.
// Failures are returned as *FetchError; context cancellation is returned as is.
func (r *ResilientFetcher) Get(ctx context.Context, rawURL string) (FetchResponse, error) {
	attempts := max(1, r.policy.MaxAttempts)
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := r.fetcher.Fetch(ctx, rawURL)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}

		switch {
		case err != nil:
			r.metrics.ObserveRequest(0)
			lastStatus, lastErr = 0, err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			r.metrics.ObserveRequest(resp.StatusCode)
			return resp, nil
		case !IsTransientStatus(resp.StatusCode):
			r.metrics.ObserveRequest(resp.StatusCode)
			return FetchResponse{}, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Attempts: attempt}
		default:
			r.metrics.ObserveRequest(resp.StatusCode)
			lastStatus, lastErr = resp.StatusCode, nil
		}

		if attempt == attempts {
			break
		}
		wait := r.policy.Backoff(attempt - 1)
		if hinted := retryAfter(resp.Headers, r.now()); hinted > wait {
			wait = min(hinted, r.policy.MaxDelay)
		}
		r.logger.Warn("transient fetch failure; backing off",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("status_code", lastStatus),
			zap.Duration("backoff", wait),
			zap.Error(lastErr),
		)
		r.metrics.ObserveRetry()
		r.pause.Pause(ctx, wait)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}
	}

	return FetchResponse{}, &FetchError{
		URL:        rawURL,
		StatusCode: lastStatus,
		Attempts:   attempts,
		Err:        lastErr,
		transient:  true,
	}
}
