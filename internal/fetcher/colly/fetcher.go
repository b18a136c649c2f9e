// Package collyfetcher implements scraper.Fetcher for the single page request using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 20 << 20
	// DefaultUserAgent looks like a desktop browser; some sites refuse obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Fetcher implements scraper.Fetcher using the Colly collector. Every fetch gets its own
// collector; only the connection pool in transport is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Non-2xx responses are returned as results, not errors.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger.Named("colly"),
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	var (
		result   scraper.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector, robots := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scraper.FetchResponse{}, err
	}
	if robots != nil && robots.allowedByDefault() {
		f.logger.Warn("robots.txt unreachable, assuming allow-all", zap.String("url", request.URL))
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) (*colly.Collector, *robotsTransport) {
	// A fresh collector owns its http.Client, so the timeout and transport below never leak
	// into a concurrent fetch the way they would through Clone.
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.DetectCharset(),
		colly.MaxBodySize(f.cfg.MaxBodySize),
		colly.UserAgent(f.cfg.UserAgent),
	)
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var robots *robotsTransport
	if f.cfg.RespectRobots {
		robots = newRobotsTransport(f.transport)
		collector.WithTransport(robots)
	} else {
		collector.WithTransport(f.transport)
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector, robots
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		setBrowserHeaders(r)
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = scraper.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func setBrowserHeaders(r *colly.Request) {
	if r.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	}
	if r.Headers.Get("Accept-Language") == "" {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	}
}

// copyHeaders applies caller-supplied headers (for example a credential) to the page request only.
func copyHeaders(request scraper.FetchRequest, r *colly.Request) {
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
