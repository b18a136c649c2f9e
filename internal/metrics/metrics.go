// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal               *prometheus.CounterVec
	pageBytesTotal             prometheus.Counter
	assetsTotal                *prometheus.CounterVec
	assetBytesTotal            prometheus.Counter
	activeDownloads            prometheus.Gauge
	sessionsReclaimedTotal     *prometheus.CounterVec
	reclaimedBytesTotal        prometheus.Counter
	rateLimitDelaysSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_scrapes_total",
				Help: "Total number of scrapes, labeled by status.",
			},
			[]string{"status"},
		)

		pageBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_page_bytes_total",
				Help: "Total number of page bytes fetched.",
			},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_assets_total",
				Help: "Total number of image assets processed, labeled by source kind and status.",
			},
			[]string{"kind", "status"},
		)

		assetBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_asset_bytes_total",
				Help: "Total number of image bytes written to sessions.",
			},
		)

		activeDownloads = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_downloads",
				Help: "Number of remote image downloads currently in flight.",
			},
		)

		sessionsReclaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_sessions_reclaimed_total",
				Help: "Total number of sessions removed, labeled by reason.",
			},
			[]string{"reason"},
		)

		reclaimedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_reclaimed_bytes_total",
				Help: "Total number of bytes freed by retention.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveScrape records one finished scrape. Pages are not labeled by host so the series
// count stays bounded no matter what callers scrape.
func ObserveScrape(status string, bytesFetched int) {
	Init()
	scrapesTotal.WithLabelValues(status).Inc()
	if bytesFetched > 0 {
		pageBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveAsset records the outcome of one image asset.
func ObserveAsset(kind, status string, size int64) {
	Init()
	assetsTotal.WithLabelValues(kind, status).Inc()
	if size > 0 {
		assetBytesTotal.Add(float64(size))
	}
}

// IncActiveDownloads increments the in-flight download gauge.
func IncActiveDownloads() {
	Init()
	activeDownloads.Inc()
}

// DecActiveDownloads decrements the in-flight download gauge.
func DecActiveDownloads() {
	Init()
	activeDownloads.Dec()
}

// ObserveReclaimed records sessions removed by retention.
func ObserveReclaimed(reason string, count int, bytesFreed int64) {
	Init()
	if count > 0 {
		sessionsReclaimedTotal.WithLabelValues(reason).Add(float64(count))
	}
	if bytesFreed > 0 {
		reclaimedBytesTotal.Add(float64(bytesFreed))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
