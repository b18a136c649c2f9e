package scraper

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeStore struct {
	created    []Session
	links      map[string][]LinkRecord
	createErr  error
	writeErr   error
	sinkCalled bool
	finished   []string
}

func (s *fakeStore) Create(context.Context) (Session, error) {
	if s.createErr != nil {
		return Session{}, s.createErr
	}
	sess := Session{ID: "sess-1", CreatedAt: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
	s.created = append(s.created, sess)
	return sess, nil
}

func (s *fakeStore) WriteLinks(_ context.Context, id string, links []LinkRecord) (string, error) {
	if s.writeErr != nil {
		return "", s.writeErr
	}
	if s.links == nil {
		s.links = map[string][]LinkRecord{}
	}
	s.links[id] = links
	return "links_" + id + ".csv", nil
}

func (s *fakeStore) Finish(id string) { s.finished = append(s.finished, id) }

func (s *fakeStore) AssetSink(string) (AssetSink, error) {
	s.sinkCalled = true
	return nil, nil
}

type fakeExtractor struct {
	out     Extraction
	baseURL string
}

func (e *fakeExtractor) Extract(_ []byte, baseURL string) (Extraction, error) {
	e.baseURL = baseURL
	return e.out, nil
}

type fakeDownloader struct {
	report AssetReport
	batch  AssetBatch
}

func (d *fakeDownloader) DownloadAll(_ context.Context, _ AssetSink, batch AssetBatch) AssetReport {
	d.batch = batch
	return d.report
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.events = append(p.events, payload.(Event))
	return "msg", p.err
}

func newTestService(f Fetcher, e Extractor, d AssetDownloader, s SessionStore, pub Publisher) *Service {
	return NewService(
		ServiceConfig{TTL: 24 * time.Hour, AssetBound: 4, EventTopic: "scrapes"},
		f, e, d, s, zap.NewNop(),
		WithPublisher(pub),
		WithClock(&fakeClock{now: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}),
	)
}

func TestServiceScrapeSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []FetchResponse{{
		URL:        "https://example.com/landing",
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte("<html></html>"),
	}}}
	extractor := &fakeExtractor{out: Extraction{
		Links:  []LinkRecord{{URL: "https://example.com/a"}, {URL: "https://example.com/b"}},
		Images: []ImageReference{{Index: 0, Kind: SourceRemote, URL: "https://example.com/x.png"}},
	}}
	downloader := &fakeDownloader{report: AssetReport{Assets: []ImageAsset{
		{Index: 0, Filename: "image_0.png", Status: AssetSaved, SizeBytes: 10},
		{Index: 1, Status: AssetFailed, Reason: "too large"},
		{Index: 2, Status: AssetSkipped},
	}}}
	store := &fakeStore{}
	pub := &recordingPublisher{err: errors.New("broker down")}

	svc := newTestService(fetcher, extractor, downloader, store, pub)
	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "example.com"})
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, "sess-1", res.SessionID)
	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, 2, res.LinksCount)
	require.Equal(t, 1, res.ImagesCount)
	require.Equal(t, 1, res.FailedImages)
	require.Equal(t, 1, res.SkippedImages)
	require.Equal(t, "links_sess-1.csv", res.LinksFile)
	require.Equal(t, res.CreatedAt.Add(24*time.Hour), res.ExpiresAt)
	require.Equal(t, "https://example.com/landing", extractor.baseURL, "relative links resolve against the final url")
	require.Equal(t, 4, downloader.batch.Bound)
	require.Len(t, store.links["sess-1"], 2)
	require.Equal(t, []string{"sess-1"}, store.finished)
	require.Len(t, pub.events, 1, "publish failure does not fail the scrape")
	require.Equal(t, EventScrapeSucceeded, pub.events[0].Type)
}

func TestServiceScrapeNon2xxIsFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []FetchResponse{{StatusCode: 404, Attempts: 1}}}
	store := &fakeStore{}
	pub := &recordingPublisher{}
	svc := newTestService(fetcher, &fakeExtractor{}, &fakeDownloader{}, store, pub)

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrFetchFailure)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 404, fetchErr.StatusCode)

	require.False(t, res.Success)
	require.Equal(t, "sess-1", res.SessionID, "session still created")
	require.Empty(t, store.links, "no links file on fetch failure")
	require.False(t, store.sinkCalled)
	require.Equal(t, []string{"sess-1"}, store.finished, "failed sessions are released too")
	require.Equal(t, EventScrapeFailed, pub.events[0].Type)
}

func TestServiceScrapeTransportErrorIsFetchFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("no such host")
	fetcher := &scriptedFetcher{errs: []error{cause}}
	svc := newTestService(fetcher, &fakeExtractor{}, &fakeDownloader{}, &fakeStore{}, nil)

	_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrFetchFailure)
	require.ErrorIs(t, err, cause)
	require.NotContains(t, err.Error(), "after 0 attempt")
}

func TestServiceScrapeReportsRetryAttempts(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	retrying, _ := newTestRetryingFetcher(&scriptedFetcher{errs: []error{cause, cause, cause}}, 3)
	svc := newTestService(retrying, &fakeExtractor{}, &fakeDownloader{}, &fakeStore{}, nil)

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Contains(t, res.Message, "after 3 attempt(s)")
}

func TestServiceScrapeStorageFailurePublishesEvent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{writeErr: errors.New("disk full")}
	pub := &recordingPublisher{}
	fetcher := &scriptedFetcher{responses: []FetchResponse{{StatusCode: 200, Body: []byte("<html></html>")}}}
	svc := newTestService(fetcher, &fakeExtractor{}, &fakeDownloader{}, store, pub)

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.Error(t, err)
	require.False(t, res.Success)
	require.Equal(t, "disk full", res.Message)
	require.Len(t, pub.events, 1)
	require.Equal(t, EventScrapeFailed, pub.events[0].Type)
	require.Equal(t, "sess-1", pub.events[0].SessionID)
	require.Equal(t, "disk full", pub.events[0].Error)
}

func TestServiceScrapeStorageUnavailable(t *testing.T) {
	t.Parallel()

	store := &fakeStore{createErr: ErrStorageUnavailable}
	fetcher := &scriptedFetcher{}
	svc := newTestService(fetcher, &fakeExtractor{}, &fakeDownloader{}, store, nil)

	_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Zero(t, fetcher.calls, "nothing fetched without a session")
}

func TestServiceScrapeRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	svc := newTestService(&scriptedFetcher{}, &fakeExtractor{}, &fakeDownloader{}, store, nil)

	_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Empty(t, store.created)
}

type stubHasher struct{}

func (stubHasher) Hash(data []byte) (string, error) { return "digest-" + string(data), nil }

type stubDetector struct{ verdict bool }

func (d stubDetector) ClientRendered(FetchResponse) bool { return d.verdict }

func TestServiceScrapeRecordsDigestAndRenderHint(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []FetchResponse{{StatusCode: 200, Body: []byte("abc")}}}
	svc := NewService(
		ServiceConfig{},
		fetcher, &fakeExtractor{}, &fakeDownloader{}, &fakeStore{}, zap.NewNop(),
		WithHasher(stubHasher{}),
		WithRenderDetector(stubDetector{verdict: true}),
	)
	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "digest-abc", res.PageSHA256)
	require.True(t, res.ClientRendered)
}

func TestServicePreviewStoresNothing(t *testing.T) {
	t.Parallel()

	links := make([]LinkRecord, 0, 15)
	for i := range 15 {
		links = append(links, LinkRecord{URL: "https://example.com/" + string(rune('a'+i))})
	}
	body := "<html>" + strings.Repeat("é", 600) + "</html>"
	fetcher := &scriptedFetcher{responses: []FetchResponse{{
		URL:        "https://example.com/final",
		StatusCode: 200,
		Body:       []byte(body),
		Attempts:   1,
	}}}
	extractor := &fakeExtractor{out: Extraction{
		Links:  links,
		Images: []ImageReference{{Index: 0, Kind: SourceRemote, URL: "https://example.com/x.png"}},
	}}
	store := &fakeStore{}
	pub := &recordingPublisher{}
	svc := NewService(
		ServiceConfig{EventTopic: "scrapes"},
		fetcher, extractor, &fakeDownloader{}, store, zap.NewNop(),
		WithPublisher(pub),
		WithHasher(stubHasher{}),
	)

	preview, err := svc.Preview(context.Background(), ScrapeRequest{URL: "example.com"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com", preview.URL)
	require.Equal(t, "https://example.com/final", preview.FinalURL)
	require.Equal(t, "https://example.com/final", extractor.baseURL)
	require.Equal(t, 200, preview.StatusCode)
	require.Equal(t, 15, preview.LinksFound)
	require.Equal(t, 1, preview.ImagesFound)
	require.Len(t, preview.SampleLinks, 10)
	require.True(t, strings.HasSuffix(preview.HTMLPreview, "..."))
	require.Equal(t, 500, utf8.RuneCountInString(strings.TrimSuffix(preview.HTMLPreview, "...")))
	require.Equal(t, "digest-"+body, preview.PageSHA256)

	require.Empty(t, store.created, "a preview never creates a session")
	require.Empty(t, pub.events)
}

func TestServicePreviewNon2xx(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []FetchResponse{{StatusCode: 503, Attempts: 1}}}
	svc := newTestService(fetcher, &fakeExtractor{}, &fakeDownloader{}, &fakeStore{}, nil)

	preview, err := svc.Preview(context.Background(), ScrapeRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrFetchFailure)
	require.Equal(t, 503, preview.StatusCode)
	require.Zero(t, preview.LinksFound)
}
