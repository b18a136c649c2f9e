package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const maxTestImage = 1 << 10

// newSite serves one page with three images: one that declares an oversized Content-Length,
// one that streams past the limit without declaring it, and one small enough to keep.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	oversized := bytes.Repeat([]byte{0xAB}, 4*maxTestImage)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/about">About</a>
			<img src="/declared.png">
			<img src="/streamed.png">
			<img src="/small.png">
		</body></html>`))
	})
	mux.HandleFunc("/declared.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(oversized)
	})
	mux.HandleFunc("/streamed.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		for chunk := range slices.Chunk(oversized, 512) {
			_, _ = w.Write(chunk)
			w.(http.Flusher).Flush()
		}
	})
	mux.HandleFunc("/small.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nsmall"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func buildPipeline(t *testing.T) *App {
	t.Helper()
	cfg := testConfig(t)
	cfg.Assets.MaxImageSize = maxTestImage
	cfg.Assets.ChunkSize = 256
	cfg.Assets.Timeout = 5 * time.Second
	cfg.Scraper.PageTimeout = 5 * time.Second
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestScrapeKeepsOversizedImagesOffDisk(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	app := buildPipeline(t)

	res, err := app.Scrape(context.Background(), scraper.ScrapeRequest{URL: site.URL})
	require.NoError(t, err)
	require.True(t, res.Success, "oversized images never fail the scrape")
	require.Equal(t, 1, res.LinksCount)
	require.Equal(t, 1, res.ImagesCount)
	require.Equal(t, 2, res.FailedImages)
	require.Len(t, res.Assets, 1)
	require.Equal(t, "image_2.png", res.Assets[0].Filename)

	entries, err := os.ReadDir(filepath.Join(app.cfg.Storage.OutputDir, res.SessionID))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{res.LinksFile, "image_2.png"}, names)
	for _, name := range names {
		require.False(t, strings.HasSuffix(name, ".part"), "partial download left behind: %s", name)
	}
}

func TestConcurrentScrapesSurvivePurges(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	app := buildPipeline(t)

	stop := make(chan struct{})
	var purger sync.WaitGroup
	purger.Add(1)
	go func() {
		defer purger.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = app.PurgeAll(context.Background())
		}
	}()

	const scrapers, rounds = 6, 4
	errs := make(chan error, scrapers*rounds)
	var wg sync.WaitGroup
	for range scrapers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				res, err := app.Scrape(context.Background(), scraper.ScrapeRequest{URL: site.URL})
				if err == nil && res.ImagesCount != 1 {
					err = fmt.Errorf("session %s saved %d images", res.SessionID, res.ImagesCount)
				}
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(stop)
	purger.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "a purge must never claim a session that is still being written")
	}
}

func TestDebugEndpointsSeeTheLastScrape(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	app := buildPipeline(t)
	res, err := app.Scrape(context.Background(), scraper.ScrapeRequest{URL: site.URL})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/debug/last-session", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var last struct {
		SessionID  string `json:"session_id"`
		CSVFile    string `json:"csv_file"`
		CSVPreview string `json:"csv_preview"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	require.Equal(t, res.SessionID, last.SessionID)
	require.Equal(t, res.LinksFile, last.CSVFile)
	require.Contains(t, last.CSVPreview, `"url","text","title","target","rel"`)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/debug/events?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Total  int `json:"total"`
		Events []struct {
			Payload scraper.Event `json:"payload"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Equal(t, 1, events.Total)
	require.Len(t, events.Events, 1)
	require.Equal(t, scraper.EventScrapeSucceeded, events.Events[0].Payload.Type)
	require.Equal(t, res.SessionID, events.Events[0].Payload.SessionID)

	body := strings.NewReader(`{"url":"` + site.URL + `"}`)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/debug/test-scrape", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview scraper.PagePreview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	require.Equal(t, 1, preview.LinksFound)
	require.Equal(t, 3, preview.ImagesFound)

	sessions, err := os.ReadDir(app.cfg.Storage.OutputDir)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "the dry run stored nothing")
}
