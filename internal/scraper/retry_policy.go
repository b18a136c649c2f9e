package scraper

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	defaultMaxAttempts = 2
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// ExponentialRetryPolicy retries any non-cancellation error, doubling the delay each time.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive values fall back to defaults.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the total attempt budget.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait after the given (1-based) failed attempt: base, 2*base, 4*base...
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(delay)
}
