package session

import (
	"context"
	"fmt"
	"time"

	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
	"github.com/quotawatch/quotawatch/internal/providers"
)

// RetryPolicy parameterizes the resilient fetch.
type RetryPolicy struct {
	MaxRetries       int
	BaseBackoff      time.Duration
	RateLimitBackoff time.Duration
}

// fetchWithRetry runs the provider fetch under the retry policy.
// Transient-network and rate-limited failures are retried with
// exponential backoff; authentication failures are forwarded
// immediately for the refresh coordinator; anything else aborts.
// The backoff sleep honors ctx so a cancelled fetch stops retrying.
func fetchWithRetry(ctx context.Context, client providers.Client, creds models.Credentials, policy RetryPolicy) (models.UsageSnapshot, error) {
	attempts := policy.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(lastErr, attempt-1, policy)
			logger.Debug("retrying fetch",
				"provider", client.Kind(), "attempt", attempt+1, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return models.UsageSnapshot{}, err
			}
		}

		snap, err := client.Fetch(ctx, creds)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return models.UsageSnapshot{}, ctx.Err()
		}
		if !providers.IsRetryable(err) {
			// Auth and non-retryable failures surface without
			// consuming further retry budget.
			return models.UsageSnapshot{}, err
		}
		lastErr = err
	}

	return models.UsageSnapshot{}, fmt.Errorf("all %d fetch attempts failed: %w", attempts, lastErr)
}

// backoffDelay computes the exponential delay after a given failed
// attempt, with the longer base for rate-limit responses.
func backoffDelay(err error, attempt int, policy RetryPolicy) time.Duration {
	base := policy.BaseBackoff
	if providers.IsRateLimited(err) {
		base = policy.RateLimitBackoff
	}
	return base << attempt
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
