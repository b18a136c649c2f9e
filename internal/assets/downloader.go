// Package assets resolves image references into files: inline images are validated and written
// directly, remote images are streamed by a bounded worker pool with a hard size cap.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	// DefaultMaxImageSize is the largest image, in bytes, that will be kept.
	DefaultMaxImageSize = 10 << 20
	defaultConcurrency  = 10
	defaultTimeout      = 10 * time.Second
	defaultChunkSize    = 32 << 10
)

// Config controls the downloader.
type Config struct {
	MaxImageSize int64
	Concurrency  int
	Timeout      time.Duration
	ChunkSize    int
	Jitter       scraper.Jitter
	UserAgent    string
}

// HostLimiter paces requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Downloader implements scraper.AssetDownloader.
type Downloader struct {
	cfg        Config
	client     *http.Client
	rasterizer scraper.Rasterizer
	limiter    HostLimiter
	logger     *zap.Logger
}

// New builds a Downloader. A nil client gets a pooled transport; a nil limiter disables pacing.
func New(cfg Config, client *http.Client, rasterizer scraper.Rasterizer, limiter HostLimiter, logger *zap.Logger) *Downloader {
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = DefaultMaxImageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:        cfg,
		client:     client,
		rasterizer: rasterizer,
		limiter:    limiter,
		logger:     logger.Named("assets"),
	}
}

// DownloadAll resolves every reference in the batch. Inline images are handled synchronously,
// remote images by a pool of batch.Bound workers. One asset failing never affects another.
// The report is ordered by discovery index.
func (d *Downloader) DownloadAll(ctx context.Context, sink scraper.AssetSink, batch scraper.AssetBatch) scraper.AssetReport {
	logger := d.logger.With(zap.String("session_id", batch.SessionID))
	results := make([]scraper.ImageAsset, 0, len(batch.Refs))
	remote := make([]scraper.ImageReference, 0, len(batch.Refs))

	for _, ref := range batch.Refs {
		if ref.Kind == scraper.SourceInline {
			results = append(results, d.record(logger, d.saveInline(ctx, sink, ref)))
			continue
		}
		remote = append(remote, ref)
	}

	bound := batch.Bound
	if bound <= 0 {
		bound = d.cfg.Concurrency
	}
	results = append(results, runPool(bound, remote, func(ref scraper.ImageReference) scraper.ImageAsset {
		return d.record(logger, d.fetchRemote(ctx, sink, batch.PageURL, ref))
	})...)

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return scraper.AssetReport{Assets: results}
}

func (d *Downloader) record(logger *zap.Logger, asset scraper.ImageAsset) scraper.ImageAsset {
	metrics.ObserveAsset(string(asset.SourceKind), string(asset.Status), asset.SizeBytes)
	if asset.Status == scraper.AssetFailed {
		logger.Warn("image not saved",
			zap.Int("index", asset.Index),
			zap.String("url", asset.Source),
			zap.String("reason", asset.Reason),
		)
	}
	return asset
}

func (d *Downloader) saveInline(ctx context.Context, sink scraper.AssetSink, ref scraper.ImageReference) scraper.ImageAsset {
	asset := scraper.ImageAsset{Index: ref.Index, SourceKind: scraper.SourceInline}
	if ref.DecodeErr != nil {
		return failed(asset, fmt.Errorf("%w: %v", scraper.ErrValidation, ref.DecodeErr))
	}
	if len(ref.Data) == 0 {
		return skipped(asset, "empty inline payload")
	}
	return d.persist(ctx, sink, asset, ExtensionForMIME(ref.MIMEType), ref.Data)
}

// persist validates size, rasterizes vector data, and writes the final bytes.
func (d *Downloader) persist(ctx context.Context, sink scraper.AssetSink, asset scraper.ImageAsset, ext string, data []byte) scraper.ImageAsset {
	if int64(len(data)) > d.cfg.MaxImageSize {
		return failed(asset, d.tooLarge(int64(len(data))))
	}
	if ext == "svg" {
		png, err := d.rasterize(ctx, data)
		if err != nil {
			return failed(asset, err)
		}
		data, ext = png, "png"
		if int64(len(data)) > d.cfg.MaxImageSize {
			return failed(asset, d.tooLarge(int64(len(data))))
		}
	}
	asset.Filename = fileName(asset.Index, ext)
	size, err := writeAll(sink, asset.Filename, data)
	if err != nil {
		asset.Filename = ""
		return failed(asset, err)
	}
	asset.SizeBytes = size
	asset.Status = scraper.AssetSaved
	return asset
}

func (d *Downloader) rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	if d.rasterizer == nil {
		return nil, fmt.Errorf("%w: no rasterizer configured", scraper.ErrConversion)
	}
	png, err := d.rasterizer.Rasterize(ctx, svg)
	if err != nil {
		if errors.Is(err, scraper.ErrConversion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", scraper.ErrConversion, err)
	}
	return png, nil
}

func (d *Downloader) fetchRemote(ctx context.Context, sink scraper.AssetSink, pageURL string, ref scraper.ImageReference) scraper.ImageAsset {
	metrics.IncActiveDownloads()
	defer metrics.DecActiveDownloads()

	asset := scraper.ImageAsset{Index: ref.Index, SourceKind: scraper.SourceRemote, Source: ref.URL}
	if err := d.cfg.Jitter.Pause(ctx); err != nil {
		return skipped(asset, "canceled before request")
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, ref.URL); err != nil {
			return skipped(asset, "canceled while rate limited")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return failed(asset, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	if pageURL != "" {
		req.Header.Set("Referer", pageURL)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return skipped(asset, "canceled")
		}
		return failed(asset, fmt.Errorf("request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return failed(asset, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if declared := declaredLength(resp); declared > d.cfg.MaxImageSize {
		return failed(asset, d.tooLarge(declared))
	}

	ext := extensionForResponse(resp.Header.Get("Content-Type"), ref.URL)
	if ext == "svg" {
		data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxImageSize+1))
		if err != nil {
			return failed(asset, fmt.Errorf("read body: %w", err))
		}
		if len(data) == 0 {
			return skipped(asset, "empty response body")
		}
		return d.persist(ctx, sink, asset, ext, data)
	}
	return d.stream(sink, asset, ext, resp.Body)
}

// stream copies body into a staged file chunk by chunk and aborts the moment the cap is crossed.
func (d *Downloader) stream(sink scraper.AssetSink, asset scraper.ImageAsset, ext string, body io.Reader) scraper.ImageAsset {
	name := fileName(asset.Index, ext)
	file, err := sink.Create(name)
	if err != nil {
		return failed(asset, err)
	}
	var total int64
	buf := make([]byte, d.cfg.ChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > d.cfg.MaxImageSize {
				_ = file.Abort()
				return failed(asset, d.tooLarge(total))
			}
			if _, err := file.Write(buf[:n]); err != nil {
				_ = file.Abort()
				return failed(asset, fmt.Errorf("write %s: %w", name, err))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = file.Abort()
			return failed(asset, fmt.Errorf("read body: %w", readErr))
		}
	}
	if total == 0 {
		_ = file.Abort()
		return skipped(asset, "empty response body")
	}
	size, err := file.Commit()
	if err != nil {
		return failed(asset, err)
	}
	asset.Filename = name
	asset.SizeBytes = size
	asset.Status = scraper.AssetSaved
	return asset
}

func (d *Downloader) tooLarge(size int64) error {
	return fmt.Errorf("%w: image size %d exceeds limit %d", scraper.ErrValidation, size, d.cfg.MaxImageSize)
}

func writeAll(sink scraper.AssetSink, name string, data []byte) (int64, error) {
	file, err := sink.Create(name)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(file, bytes.NewReader(data)); err != nil {
		_ = file.Abort()
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	return file.Commit()
}

func declaredLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		return n
	}
	return -1
}

func fileName(index int, ext string) string {
	return fmt.Sprintf("image_%d.%s", index, ext)
}

func failed(asset scraper.ImageAsset, err error) scraper.ImageAsset {
	asset.Status = scraper.AssetFailed
	asset.Reason = err.Error()
	return asset
}

func skipped(asset scraper.ImageAsset, reason string) scraper.ImageAsset {
	asset.Status = scraper.AssetSkipped
	asset.Reason = reason
	return asset
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   defaultConcurrency,
		IdleConnTimeout:       90 * time.Second,
	}
}
