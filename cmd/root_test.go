package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

type fakeApp struct {
	ran       bool
	closed    bool
	scrapeReq scraper.ScrapeRequest
	scrapeErr error
	maxAge    time.Duration
	purgedAll bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) TTL() time.Duration { return 24 * time.Hour }

func (f *fakeApp) Scrape(_ context.Context, req scraper.ScrapeRequest) (scraper.ScrapeResult, error) {
	f.scrapeReq = req
	if f.scrapeErr != nil {
		return scraper.ScrapeResult{SessionID: "s1", URL: req.URL}, f.scrapeErr
	}
	return scraper.ScrapeResult{Success: true, SessionID: "s1", URL: req.URL, LinksCount: 3}, nil
}

func (f *fakeApp) Sweep(_ context.Context, maxAge time.Duration) (scraper.SweepResult, error) {
	f.maxAge = maxAge
	return scraper.SweepResult{Count: 2, BytesFreed: 10}, nil
}

func (f *fakeApp) PurgeAll(context.Context) (scraper.SweepResult, error) {
	f.purgedAll = true
	return scraper.SweepResult{Count: 5}, nil
}

func withFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	app := &fakeApp{}
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
	return app
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeRunsApp(t *testing.T) {
	app := withFakeApp(t)
	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestScrapePrintsResult(t *testing.T) {
	app := withFakeApp(t)
	out, err := execute(t, "scrape", "https://example.com", "-H", "Authorization: Bearer x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer x", app.scrapeReq.Headers.Get("Authorization"))

	var res scraper.ScrapeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.LinksCount)
}

func TestScrapeFailureStillPrintsSession(t *testing.T) {
	app := withFakeApp(t)
	app.scrapeErr = &scraper.FetchError{URL: "https://example.com", StatusCode: http.StatusForbidden}
	out, err := execute(t, "scrape", "https://example.com")
	require.ErrorIs(t, err, scraper.ErrFetchFailure)
	assert.Contains(t, out, `"session_id": "s1"`)
}

func TestScrapeRejectsBadHeader(t *testing.T) {
	withFakeApp(t)
	_, err := execute(t, "scrape", "https://example.com", "-H", "no-colon")
	require.Error(t, err)
}

func TestSweepModes(t *testing.T) {
	app := withFakeApp(t)

	out, err := execute(t, "sweep")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, app.maxAge)
	assert.Contains(t, out, `"count":2`)

	_, err = execute(t, "sweep", "--max-age-hours", "1.5")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, app.maxAge)

	out, err = execute(t, "sweep", "--all")
	require.NoError(t, err)
	assert.True(t, app.purgedAll)
	assert.Contains(t, out, `"count":5`)

	_, err = execute(t, "sweep", "--all", "--max-age-hours", "2")
	require.Error(t, err)
}

func TestAppInitFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = prev })

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "boom")
}
