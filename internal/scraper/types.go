package scraper

import (
	"net/http"
	"strings"
	"time"
)

// SourceKind tells where the bytes of an image come from.
type SourceKind string

// Image source kinds.
const (
	SourceInline SourceKind = "inline"
	SourceRemote SourceKind = "remote"
)

// AssetStatus is the terminal outcome of one image.
type AssetStatus string

// Asset outcomes recorded by the downloader.
const (
	AssetSaved   AssetStatus = "saved"
	AssetSkipped AssetStatus = "skipped"
	AssetFailed  AssetStatus = "failed"
)

// LinkRecord is one deduplicated hyperlink found on the page.
type LinkRecord struct {
	URL    string `json:"url"`
	Text   string `json:"text"`
	Title  string `json:"title"`
	Target string `json:"target"`
	Rel    string `json:"rel"`
}

// ImageReference is an image discovered on the page, before download.
// Inline references already carry their decoded bytes; remote ones carry a URL.
type ImageReference struct {
	Index    int
	Kind     SourceKind
	URL      string
	MIMEType string
	Data     []byte
	// DecodeErr is set when an inline data URI could not be decoded.
	DecodeErr error
}

// ImageAsset is the outcome of resolving one ImageReference.
type ImageAsset struct {
	Index      int         `json:"index"`
	Filename   string      `json:"filename,omitempty"`
	SizeBytes  int64       `json:"size_bytes"`
	SourceKind SourceKind  `json:"source_kind"`
	Status     AssetStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Source     string      `json:"source,omitempty"`
}

// AssetReport collects every asset outcome of a scrape.
type AssetReport struct {
	Assets []ImageAsset `json:"assets"`
}

// Saved returns the saved assets ordered by discovery index.
func (r AssetReport) Saved() []ImageAsset {
	out := make([]ImageAsset, 0, len(r.Assets))
	for _, a := range r.Assets {
		if a.Status == AssetSaved {
			out = append(out, a)
		}
	}
	return out
}

// Count returns how many assets ended with the given status.
func (r AssetReport) Count(status AssetStatus) int {
	n := 0
	for _, a := range r.Assets {
		if a.Status == status {
			n++
		}
	}
	return n
}

// AssetBatch is the input to a single DownloadAll call.
type AssetBatch struct {
	SessionID string
	PageURL   string
	Refs      []ImageReference
	// Bound caps the number of concurrent remote downloads. Zero means the downloader default.
	Bound int
}

// Extraction is what the extractor finds on a page.
type Extraction struct {
	Links  []LinkRecord
	Images []ImageReference
}

// FetchRequest captures everything needed to fetch the page.
type FetchRequest struct {
	URL string
	// Headers are sent with the page request only (for example a credential or cookie).
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Session is one scrape's isolated artifact set.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Dir       string    `json:"-"`
}

// FileInfo describes a file inside a session directory.
type FileInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Extension string `json:"extension,omitempty"`
}

// FileCounts splits a session's files by kind.
type FileCounts struct {
	Total  int `json:"total"`
	CSV    int `json:"csv"`
	Images int `json:"images"`
}

// SessionStatus summarizes a session and its remaining lifetime.
type SessionStatus struct {
	SessionID      string     `json:"session_id"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RemainingHours float64    `json:"remaining_hours"`
	FileCounts     FileCounts `json:"file_counts"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	LinksFile      string     `json:"links_file,omitempty"`
}

// StoreStats aggregates every session under the storage root.
type StoreStats struct {
	TotalSessions  int   `json:"total_sessions"`
	TotalFiles     int   `json:"total_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// ScrapeRequest is the input to Service.Scrape.
type ScrapeRequest struct {
	URL     string
	Headers http.Header
}

// ScrapeResult is returned by Service.Scrape for both success and page-level failure.
type ScrapeResult struct {
	Success        bool          `json:"success"`
	Message        string        `json:"message"`
	URL            string        `json:"url"`
	SessionID      string        `json:"session_id"`
	LinksCount     int           `json:"links_count"`
	ImagesCount    int           `json:"images_count"`
	FailedImages   int           `json:"failed_images"`
	SkippedImages  int           `json:"skipped_images"`
	LinksFile      string        `json:"links_file,omitempty"`
	Assets         []ImageAsset  `json:"assets,omitempty"`
	PageSHA256     string        `json:"page_sha256,omitempty"`
	ClientRendered bool          `json:"client_rendered,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Duration       time.Duration `json:"duration"`
}

// SweepResult reports a retention pass.
type SweepResult struct {
	Count      int   `json:"count"`
	BytesFreed int64 `json:"bytes_freed"`
}

// Event is published after scrapes and purges.
type Event struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	LinksCount  int       `json:"links_count,omitempty"`
	ImagesCount int       `json:"images_count,omitempty"`
	BytesFreed  int64     `json:"bytes_freed,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Event types.
const (
	EventScrapeSucceeded = "scrape.succeeded"
	EventScrapeFailed    = "scrape.failed"
	EventSessionPurged   = "session.purged"
)

var imageExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {},
}

// IsImageExtension reports whether ext (without the dot, any case) is a recognized image type.
func IsImageExtension(ext string) bool {
	_, ok := imageExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}

// PagePreview is the outcome of a dry-run scrape: the page was fetched and parsed but nothing
// was stored.
type PagePreview struct {
	URL            string        `json:"url"`
	FinalURL       string        `json:"final_url,omitempty"`
	StatusCode     int           `json:"status_code"`
	Attempts       int           `json:"attempts"`
	LinksFound     int           `json:"links_found"`
	ImagesFound    int           `json:"images_found"`
	SampleLinks    []LinkRecord  `json:"sample_links"`
	HTMLPreview    string        `json:"html_preview"`
	PageSHA256     string        `json:"page_sha256,omitempty"`
	ClientRendered bool          `json:"client_rendered,omitempty"`
	Duration       time.Duration `json:"duration"`
}
