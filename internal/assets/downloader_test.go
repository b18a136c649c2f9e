package assets

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const testMax = 1024

type memSink struct {
	mu        sync.Mutex
	committed map[string][]byte
	aborted   []string
}

func newMemSink() *memSink {
	return &memSink{committed: map[string][]byte{}}
}

func (s *memSink) Create(name string) (scraper.AssetFile, error) {
	return &memFile{sink: s, name: name}, nil
}

type memFile struct {
	sink *memSink
	name string
	buf  bytes.Buffer
}

func (f *memFile) Write(p []byte) (int, error) { return f.buf.Write(p) }

func (f *memFile) Commit() (int64, error) {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	f.sink.committed[f.name] = append([]byte(nil), f.buf.Bytes()...)
	return int64(f.buf.Len()), nil
}

func (f *memFile) Abort() error {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	f.sink.aborted = append(f.sink.aborted, f.name)
	return nil
}

type fakeRasterizer struct {
	out []byte
	err error
}

func (r *fakeRasterizer) Rasterize(context.Context, []byte) ([]byte, error) {
	return r.out, r.err
}

func newAssetServer(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var lastHeaders http.Header
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastHeaders = r.Header.Clone()
		mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 100))
	})
	mux.HandleFunc("/declared-huge.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(testMax+1))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/streamed-huge.gif", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		flusher := w.(http.Flusher)
		for range 4 {
			_, _ = w.Write(bytes.Repeat([]byte{2}, 512))
			flusher.Flush()
		}
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/empty.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/vector", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastHeaders
}

func newTestDownloader(r scraper.Rasterizer) *Downloader {
	return New(Config{MaxImageSize: testMax, ChunkSize: 256, Timeout: 2 * time.Second, UserAgent: "asset-agent"},
		nil, r, nil, zap.NewNop())
}

func byIndex(report scraper.AssetReport) map[int]scraper.ImageAsset {
	out := make(map[int]scraper.ImageAsset, len(report.Assets))
	for _, a := range report.Assets {
		out[a.Index] = a
	}
	return out
}

func TestDownloadAllPartitionsFailures(t *testing.T) {
	t.Parallel()

	srv, headers := newAssetServer(t)
	sink := newMemSink()
	d := newTestDownloader(&fakeRasterizer{out: []byte("PNGDATA")})

	refs := []scraper.ImageReference{
		{Index: 0, Kind: scraper.SourceRemote, URL: srv.URL + "/ok.png"},
		{Index: 1, Kind: scraper.SourceRemote, URL: srv.URL + "/declared-huge.png"},
		{Index: 2, Kind: scraper.SourceRemote, URL: srv.URL + "/streamed-huge.gif"},
		{Index: 3, Kind: scraper.SourceRemote, URL: srv.URL + "/missing.png"},
		{Index: 4, Kind: scraper.SourceRemote, URL: srv.URL + "/empty.png"},
		{Index: 5, Kind: scraper.SourceRemote, URL: srv.URL + "/vector"},
		{Index: 6, Kind: scraper.SourceInline, MIMEType: "image/gif", Data: []byte("GIF89a")},
	}
	report := d.DownloadAll(context.Background(), sink, scraper.AssetBatch{
		SessionID: "s1", PageURL: "https://page.example/", Refs: refs, Bound: 3,
	})
	require.Len(t, report.Assets, len(refs))
	for i, a := range report.Assets {
		require.Equal(t, i, a.Index, "report is ordered by index")
	}

	got := byIndex(report)
	require.Equal(t, scraper.AssetSaved, got[0].Status)
	require.Equal(t, "image_0.png", got[0].Filename)
	require.EqualValues(t, 100, got[0].SizeBytes)

	require.Equal(t, scraper.AssetFailed, got[1].Status)
	require.Contains(t, got[1].Reason, "exceeds limit")

	require.Equal(t, scraper.AssetFailed, got[2].Status)
	require.Contains(t, sink.aborted, "image_2.gif", "partial file discarded")

	require.Equal(t, scraper.AssetFailed, got[3].Status)
	require.Contains(t, got[3].Reason, "404")

	require.Equal(t, scraper.AssetSkipped, got[4].Status)

	require.Equal(t, scraper.AssetSaved, got[5].Status)
	require.Equal(t, "image_5.png", got[5].Filename)

	require.Equal(t, scraper.AssetSaved, got[6].Status)
	require.Equal(t, scraper.SourceInline, got[6].SourceKind)

	require.Len(t, report.Saved(), 3)
	require.Equal(t, 3, report.Count(scraper.AssetFailed))

	for name, data := range sink.committed {
		require.LessOrEqual(t, len(data), testMax, name)
	}
	require.NotContains(t, sink.committed, "image_1.png")
	require.NotContains(t, sink.committed, "image_2.gif")
	require.Equal(t, []byte("PNGDATA"), sink.committed["image_5.png"])

	require.Equal(t, "https://page.example/", headers.Get("Referer"))
	require.Equal(t, "asset-agent", headers.Get("User-Agent"))
}

func TestInlineVectorIsRasterized(t *testing.T) {
	t.Parallel()

	sink := newMemSink()
	d := newTestDownloader(&fakeRasterizer{out: []byte("RASTER")})
	report := d.DownloadAll(context.Background(), sink, scraper.AssetBatch{Refs: []scraper.ImageReference{
		{Index: 3, Kind: scraper.SourceInline, MIMEType: "image/svg+xml", Data: []byte("<svg/>")},
	}})

	require.Len(t, report.Assets, 1)
	asset := report.Assets[0]
	require.Equal(t, scraper.AssetSaved, asset.Status)
	require.Equal(t, "image_3.png", asset.Filename)
	require.Equal(t, map[string][]byte{"image_3.png": []byte("RASTER")}, sink.committed)
}

func TestInlineFailures(t *testing.T) {
	t.Parallel()

	sink := newMemSink()
	d := newTestDownloader(&fakeRasterizer{err: errors.New("bad svg")})
	report := d.DownloadAll(context.Background(), sink, scraper.AssetBatch{Refs: []scraper.ImageReference{
		{Index: 0, Kind: scraper.SourceInline, MIMEType: "image/svg+xml", Data: []byte("<svg/>")},
		{Index: 1, Kind: scraper.SourceInline, MIMEType: "image/png", Data: bytes.Repeat([]byte{1}, testMax+1)},
		{Index: 2, Kind: scraper.SourceInline, DecodeErr: errors.New("illegal base64")},
		{Index: 3, Kind: scraper.SourceInline, MIMEType: "image/png"},
	}})

	got := byIndex(report)
	require.Equal(t, scraper.AssetFailed, got[0].Status)
	require.Contains(t, got[0].Reason, scraper.ErrConversion.Error())
	require.Equal(t, scraper.AssetFailed, got[1].Status)
	require.Contains(t, got[1].Reason, scraper.ErrValidation.Error())
	require.Equal(t, scraper.AssetFailed, got[2].Status)
	require.Equal(t, scraper.AssetSkipped, got[3].Status)
	require.Empty(t, sink.committed)
}

func TestRemoteSkippedWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := newMemSink()
	d := New(Config{Jitter: scraper.Jitter{Min: time.Second, Max: time.Second}}, nil, nil, nil, zap.NewNop())
	report := d.DownloadAll(ctx, sink, scraper.AssetBatch{Refs: []scraper.ImageReference{
		{Index: 0, Kind: scraper.SourceRemote, URL: "https://unreachable.invalid/a.png"},
	}})
	require.Equal(t, scraper.AssetSkipped, report.Assets[0].Status)
	require.Empty(t, sink.committed)
}

type countingLimiter struct {
	mu    sync.Mutex
	calls []string
}

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, rawURL)
	return nil
}

func TestRemoteDownloadsGoThroughLimiter(t *testing.T) {
	t.Parallel()

	srv, _ := newAssetServer(t)
	limiter := &countingLimiter{}
	d := New(Config{MaxImageSize: testMax}, srv.Client(), nil, limiter, zap.NewNop())
	report := d.DownloadAll(context.Background(), newMemSink(), scraper.AssetBatch{Refs: []scraper.ImageReference{
		{Index: 0, Kind: scraper.SourceRemote, URL: srv.URL + "/ok.png"},
		{Index: 1, Kind: scraper.SourceRemote, URL: srv.URL + "/ok.png"},
	}})
	require.Len(t, report.Saved(), 2)
	require.Len(t, limiter.calls, 2)
}
