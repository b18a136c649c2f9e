package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryingFetcher wraps a Fetcher with politeness jitter and a retry policy.
// Non-2xx responses are returned as normal results and never retried here.
type RetryingFetcher struct {
	next   Fetcher
	policy RetryPolicy
	jitter Jitter
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetryingFetcher builds a RetryingFetcher.
func NewRetryingFetcher(next Fetcher, policy RetryPolicy, jitter Jitter, logger *zap.Logger) *RetryingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{
		next:   next,
		policy: policy,
		jitter: jitter,
		logger: logger.Named("fetch"),
		sleep:  Sleep,
	}
}

// Fetch tries the request until it succeeds or the policy gives up.
// The last attempt's error is returned as-is; the response still reports how many attempts ran.
func (f *RetryingFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		if err := f.sleep(ctx, f.jitter.Duration()); err != nil {
			return FetchResponse{Attempts: attempt - 1}, err
		}
		resp, err := f.next.Fetch(ctx, req)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return FetchResponse{Attempts: attempt}, err
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Warn("page fetch failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := f.sleep(ctx, delay); sleepErr != nil {
			return FetchResponse{Attempts: attempt}, err
		}
	}
}
