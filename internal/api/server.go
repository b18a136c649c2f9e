// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/publisher/memory"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Scraper runs one page scrape, or a dry run that stores nothing.
type Scraper interface {
	Scrape(ctx context.Context, req scraper.ScrapeRequest) (scraper.ScrapeResult, error)
	Preview(ctx context.Context, req scraper.ScrapeRequest) (scraper.PagePreview, error)
}

// Sessions gives read access to stored sessions.
type Sessions interface {
	ListFiles(sessionID string) ([]scraper.FileInfo, int64, error)
	ImageFiles(sessionID string) ([]scraper.FileInfo, int64, error)
	LinksFile(sessionID string) (string, error)
	OpenFile(sessionID, name string) (*os.File, os.FileInfo, error)
	Status(sessionID string, ttl time.Duration) (scraper.SessionStatus, error)
	WriteImagesArchive(sessionID string, w io.Writer) (int, error)
	Stats() (scraper.StoreStats, error)
	Latest() (scraper.Session, error)
}

// Retention reclaims sessions on demand.
type Retention interface {
	TTL() time.Duration
	Sweep(ctx context.Context, maxAge time.Duration) (scraper.SweepResult, error)
	PurgeAll(ctx context.Context) (scraper.SweepResult, error)
	Purge(ctx context.Context, id string) (bool, int64, error)
	ScheduleCleanup(id string, delay time.Duration) func() bool
}

// EventLog exposes recently published events.
type EventLog interface {
	Recent(limit int) []memory.PublishedMessage
	Total() int
}

// Option customizes a Server.
type Option func(*Server)

// WithEventLog serves /api/debug/events from log.
func WithEventLog(log EventLog) Option {
	return func(s *Server) { s.events = log }
}

// WithClock overrides the time source used for uptime and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server wires HTTP handlers to the scrape pipeline and the session store.
type Server struct {
	router    chi.Router
	scraper   Scraper
	sessions  Sessions
	retention Retention
	events    EventLog
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time
	started   time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	svc Scraper,
	sessions Sessions,
	retention Retention,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper:   svc,
		sessions:  sessions,
		retention: retention,
		cfg:       cfg,
		logger:    logger.Named("api"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		}
		if cfg.Auth.Enabled {
			r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/health", s.health)
		r.Post("/scrape", s.scrape)
		r.Get("/download/{sessionId}/{filename}", s.downloadArtifact)
		r.Get("/csv/{sessionId}", s.downloadLinks)
		r.Get("/files/{sessionId}", s.listSessionFiles)
		r.Get("/images/{sessionId}", s.imagesArchive)
		r.Get("/images/{sessionId}/info", s.imagesInfo)
		r.Get("/session/{sessionId}/status", s.sessionStatus)
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/cleanup", s.sweep)
			r.Post("/cleanup/{sessionId}", s.purge)
			r.Post("/cleanup-all", s.purgeAll)
			r.Get("/stats", s.stats)
		})
		r.Route("/debug", func(r chi.Router) {
			r.Get("/last-session", s.lastSession)
			r.Post("/test-scrape", s.testScrape)
			r.Get("/events", s.recentEvents)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.sessions.Stats(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps pipeline and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scraper.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrFetchFailure):
		return http.StatusBadGateway
	case errors.Is(err, scraper.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, scraper.ErrNotFound), errors.Is(err, scraper.ErrNoAssets):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("error", rec),
					zap.Stack("stack"),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				s.writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
