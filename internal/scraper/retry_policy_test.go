package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyBackoffDoubles(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(4, time.Second, 3*time.Second)
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 3*time.Second, p.Backoff(3), "capped at max delay")
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 2, p.MaxAttempts())

	boom := errors.New("connection reset")
	require.True(t, p.ShouldRetry(boom, 1))
	require.False(t, p.ShouldRetry(boom, 2), "attempt budget exhausted")
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.True(t, p.ShouldRetry(context.DeadlineExceeded, 1), "per-attempt timeouts are retried")
}

func TestJitterDurationStaysInRange(t *testing.T) {
	t.Parallel()

	j := Jitter{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond}
	for range 50 {
		d := j.Duration()
		require.GreaterOrEqual(t, d, j.Min)
		require.LessOrEqual(t, d, j.Max)
	}
	require.Equal(t, 10*time.Millisecond, Jitter{Min: 10 * time.Millisecond}.Duration())
}

func TestSleepHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
