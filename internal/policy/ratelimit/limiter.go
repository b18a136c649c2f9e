// Package ratelimit implements a per-host token bucket used to pace asset downloads.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/page-scraper/internal/metrics"
)

const defaultIdleTTL = 10 * time.Minute

// Limiter manages per-host rate limits. Buckets unused for IdleTTL are dropped.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	defaultRate  rate.Limit
	defaultBurst int
	idleTTL      time.Duration
	lastEvict    time.Time
	now          func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	PerHostRPS   float64
	PerHostBurst int
	// IdleTTL is how long a host's bucket survives without use. Defaults to ten minutes.
	IdleTTL time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.PerHostBurst
	if burst <= 0 {
		burst = 1
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		defaultRate:  r,
		defaultBurst: burst,
		idleTTL:      idle,
		now:          time.Now,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	limiter := l.limiterFor(hostOf(rawURL))

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Hosts returns how many hosts currently have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastEvict) >= l.idleTTL {
		for h, b := range l.buckets {
			if now.Sub(b.lastUsed) >= l.idleTTL {
				delete(l.buckets, h)
			}
		}
		l.lastEvict = now
	}
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.buckets[host] = b
	}
	b.lastUsed = now
	return b.limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
