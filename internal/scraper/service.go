package scraper

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/metrics"
)

const (
	previewLinks     = 10
	previewHTMLRunes = 500
)

// ServiceConfig tunes the pipeline.
type ServiceConfig struct {
	// TTL is how long a session lives before retention may reclaim it.
	TTL time.Duration
	// AssetBound caps concurrent remote downloads per scrape.
	AssetBound int
	// EventTopic receives scrape events when a publisher is configured.
	EventTopic string
}

// Service runs the fetch, extract, download and persist pipeline for one page.
type Service struct {
	cfg        ServiceConfig
	fetcher    Fetcher
	extractor  Extractor
	downloader AssetDownloader
	store      SessionStore
	publisher  Publisher
	hasher     Hasher
	detector   RenderDetector
	clock      Clock
	logger     *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher attaches an event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithHasher records a digest of every fetched page.
func WithHasher(h Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithRenderDetector flags pages that likely need a browser to show their content.
func WithRenderDetector(d RenderDetector) Option {
	return func(s *Service) { s.detector = d }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService wires the pipeline collaborators.
func NewService(
	cfg ServiceConfig,
	fetcher Fetcher,
	extractor Extractor,
	downloader AssetDownloader,
	store SessionStore,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	s := &Service{
		cfg:        cfg,
		fetcher:    fetcher,
		extractor:  extractor,
		downloader: downloader,
		store:      store,
		clock:      utcClock{},
		logger:     logger.Named("scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches one page and persists its links and images into a new session.
//
// A page that cannot be fetched, or answers with a non-2xx status, yields a result with
// Success=false together with a *FetchError; the session directory is kept but has no links file.
// Per-image failures are reported in the result and never fail the scrape.
func (s *Service) Scrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	started := s.clock.Now()
	target, err := ValidatePageURL(req.URL)
	if err != nil {
		return ScrapeResult{}, err
	}

	session, err := s.store.Create(ctx)
	if err != nil {
		return ScrapeResult{}, err
	}
	defer s.store.Finish(session.ID)
	logger := s.logger.With(zap.String("session_id", session.ID), zap.String("url", target))
	result := ScrapeResult{
		URL:       target,
		SessionID: session.ID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.CreatedAt.Add(s.cfg.TTL),
	}

	resp, err := s.fetchPage(ctx, target, req.Headers)
	if err != nil {
		result.Message = fmt.Sprintf("failed to fetch page: %v", err)
		err = s.fail(ctx, logger, &result, started, "fetch_failed", 0, err)
		return result, err
	}

	if ct := resp.Headers.Get("Content-Type"); ct != "" && !isHTML(ct) {
		logger.Warn("page is not html, parsing anyway", zap.String("content_type", ct))
	}

	result.PageSHA256, result.ClientRendered = s.inspect(resp)
	if result.ClientRendered {
		logger.Warn("page appears to render client-side; links and images may be incomplete")
	}

	baseURL := finalURL(target, resp)
	extraction, err := s.extractor.Extract(resp.Body, baseURL)
	if err != nil {
		err = s.fail(ctx, logger, &result, started, "extract_failed", len(resp.Body), fmt.Errorf("extract %s: %w", target, err))
		return result, err
	}

	linksFile, err := s.store.WriteLinks(ctx, session.ID, extraction.Links)
	if err != nil {
		err = s.fail(ctx, logger, &result, started, "storage_failed", len(resp.Body), err)
		return result, err
	}

	sink, err := s.store.AssetSink(session.ID)
	if err != nil {
		err = s.fail(ctx, logger, &result, started, "storage_failed", len(resp.Body), err)
		return result, err
	}
	report := s.downloader.DownloadAll(ctx, sink, AssetBatch{
		SessionID: session.ID,
		PageURL:   baseURL,
		Refs:      extraction.Images,
		Bound:     s.cfg.AssetBound,
	})

	saved := report.Saved()
	result.Success = true
	result.LinksCount = len(extraction.Links)
	result.ImagesCount = len(saved)
	result.FailedImages = report.Count(AssetFailed)
	result.SkippedImages = report.Count(AssetSkipped)
	result.LinksFile = linksFile
	result.Assets = saved
	result.Message = fmt.Sprintf("scraped %d links and %d images", result.LinksCount, result.ImagesCount)
	result.Duration = s.clock.Now().Sub(started)

	logger.Info("scrape complete",
		zap.Int("links", result.LinksCount),
		zap.Int("images_saved", result.ImagesCount),
		zap.Int("images_failed", result.FailedImages),
		zap.Int("images_skipped", result.SkippedImages),
		zap.Int("fetch_attempts", resp.Attempts),
		zap.Duration("duration", result.Duration),
	)
	metrics.ObserveScrape("success", len(resp.Body))
	s.publish(ctx, Event{
		Type:        EventScrapeSucceeded,
		SessionID:   session.ID,
		URL:         target,
		LinksCount:  result.LinksCount,
		ImagesCount: result.ImagesCount,
	})
	return result, nil
}

// Preview fetches and parses the page without creating a session or writing anything. It is a
// dry run of Scrape for checking what a page yields.
func (s *Service) Preview(ctx context.Context, req ScrapeRequest) (PagePreview, error) {
	started := s.clock.Now()
	target, err := ValidatePageURL(req.URL)
	if err != nil {
		return PagePreview{}, err
	}
	preview := PagePreview{URL: target}

	resp, err := s.fetchPage(ctx, target, req.Headers)
	preview.StatusCode = resp.StatusCode
	preview.Attempts = resp.Attempts
	if err != nil {
		preview.Duration = s.clock.Now().Sub(started)
		return preview, err
	}
	preview.FinalURL = finalURL(target, resp)
	preview.PageSHA256, preview.ClientRendered = s.inspect(resp)

	extraction, err := s.extractor.Extract(resp.Body, preview.FinalURL)
	if err != nil {
		return preview, fmt.Errorf("extract %s: %w", target, err)
	}
	preview.LinksFound = len(extraction.Links)
	preview.ImagesFound = len(extraction.Images)
	preview.SampleLinks = extraction.Links[:min(previewLinks, len(extraction.Links))]
	preview.HTMLPreview = clip(string(resp.Body), previewHTMLRunes)
	preview.Duration = s.clock.Now().Sub(started)

	s.logger.Info("preview complete",
		zap.String("url", target),
		zap.Int("status", preview.StatusCode),
		zap.Int("links", preview.LinksFound),
		zap.Int("images", preview.ImagesFound),
	)
	return preview, nil
}

// fetchPage fetches target and turns transport errors and non-2xx answers into a *FetchError.
// The returned response carries the status and attempt count even on failure.
func (s *Service) fetchPage(ctx context.Context, target string, headers http.Header) (FetchResponse, error) {
	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: target, Headers: headers})
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return resp, &FetchError{URL: target, StatusCode: resp.StatusCode, Attempts: resp.Attempts}
	}
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			err = &FetchError{URL: target, Attempts: resp.Attempts, Err: err}
		}
		return resp, err
	}
	return resp, nil
}

// inspect fingerprints the page and asks the detector whether it is client-rendered.
func (s *Service) inspect(resp FetchResponse) (string, bool) {
	var sum string
	if s.hasher != nil {
		if digest, err := s.hasher.Hash(resp.Body); err == nil {
			sum = digest
		}
	}
	return sum, s.detector != nil && s.detector.ClientRendered(resp)
}

// finalURL is the address relative references resolve against: the URL after redirects.
func finalURL(target string, resp FetchResponse) string {
	if resp.URL != "" {
		return resp.URL
	}
	return target
}

// clip shortens s to n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// fail records a scrape that stopped after its session was created. Every such scrape is
// logged, counted and published exactly once.
func (s *Service) fail(
	ctx context.Context,
	logger *zap.Logger,
	result *ScrapeResult,
	started time.Time,
	status string,
	pageBytes int,
	err error,
) error {
	if result.Message == "" {
		result.Message = err.Error()
	}
	result.Duration = s.clock.Now().Sub(started)
	logger.Warn("scrape failed", zap.String("stage", status), zap.Error(err))
	metrics.ObserveScrape(status, pageBytes)
	s.publish(ctx, Event{Type: EventScrapeFailed, SessionID: result.SessionID, URL: result.URL, Error: err.Error()})
	return err
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.publisher == nil || s.cfg.EventTopic == "" {
		return
	}
	evt.At = s.clock.Now()
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.publisher.Publish(pubCtx, s.cfg.EventTopic, evt); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
