package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns an HTML document into links and image references.
type Extractor interface {
	Extract(body []byte, baseURL string) (Extraction, error)
}

// AssetDownloader resolves image references into files inside a sink.
type AssetDownloader interface {
	DownloadAll(ctx context.Context, sink AssetSink, batch AssetBatch) AssetReport
}

// Rasterizer converts vector image bytes into a PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg []byte) ([]byte, error)
}

// AssetSink hands out staged files inside a session directory.
type AssetSink interface {
	Create(name string) (AssetFile, error)
}

// AssetFile is a staged file. Commit makes it visible, Abort discards it.
type AssetFile interface {
	io.Writer
	Commit() (int64, error)
	Abort() error
}

// SessionStore persists per-scrape artifacts. A created session stays busy, and cannot be
// removed, until Finish is called for it.
type SessionStore interface {
	Create(ctx context.Context) (Session, error)
	WriteLinks(ctx context.Context, sessionID string, links []LinkRecord) (string, error)
	AssetSink(sessionID string) (AssetSink, error)
	Finish(sessionID string)
}

// Hasher fingerprints fetched page bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// RenderDetector flags pages whose content is most likely built by JavaScript.
type RenderDetector interface {
	ClientRendered(resp FetchResponse) bool
}

// Publisher pushes scrape and retention events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed page fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
