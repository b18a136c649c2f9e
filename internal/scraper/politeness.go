package scraper

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Jitter is a uniformly random pause in [Min, Max] used to look less like a bot.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

// Duration draws a random delay from the range.
func (j Jitter) Duration() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	span := int64(j.Max - j.Min)
	n, err := rand.Int(rand.Reader, big.NewInt(span+1))
	if err != nil {
		return j.Min + time.Duration(span/2)
	}
	return j.Min + time.Duration(n.Int64())
}

// Pause sleeps for a random duration or until ctx is done.
func (j Jitter) Pause(ctx context.Context) error {
	return Sleep(ctx, j.Duration())
}

// Sleep waits for delay, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
