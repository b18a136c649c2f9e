package api

import (
	"errors"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	csvPreviewBytes = 4 << 10
	csvPreviewRunes = 1000
	defaultEvents   = 50
	utf8BOM         = "\ufeff"
)

type systemInfo struct {
	GoVersion          string `json:"go_version"`
	CPUs               int    `json:"cpus"`
	Goroutines         int    `json:"goroutines"`
	HeapAllocBytes     uint64 `json:"heap_alloc_bytes"`
	SysBytes           uint64 `json:"sys_bytes"`
	TotalSessions      int    `json:"total_sessions"`
	OutputDirSizeBytes int64  `json:"output_dir_size_bytes"`
}

type healthResponse struct {
	Status        string     `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
	Version       string     `json:"version"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	System        systemInfo `json:"system_info"`
	Error         string     `json:"error,omitempty"`
}

// health reports process and storage details. It answers 503 when the store cannot be read.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := s.now()
	resp := healthResponse{
		Status:        "healthy",
		Timestamp:     now,
		Version:       buildVersion(),
		UptimeSeconds: now.Sub(s.started).Seconds(),
		System: systemInfo{
			GoVersion:      runtime.Version(),
			CPUs:           runtime.NumCPU(),
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
		},
	}
	stats, err := s.sessions.Stats()
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.System.TotalSessions = stats.TotalSessions
	resp.System.OutputDirSizeBytes = stats.TotalSizeBytes
	s.writeJSON(w, http.StatusOK, resp)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

type lastSessionResponse struct {
	SessionID    string             `json:"session_id"`
	CreatedAt    time.Time          `json:"created_at"`
	Files        []scraper.FileInfo `json:"files"`
	CSVFile      string             `json:"csv_file,omitempty"`
	CSVPreview   string             `json:"csv_preview,omitempty"`
	CSVSizeBytes int64              `json:"csv_size_bytes"`
}

// lastSession describes the newest session and previews the start of its links CSV.
func (s *Server) lastSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Latest()
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	files, _, err := s.sessions.ListFiles(sess.ID)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	resp := lastSessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt, Files: files}

	name, err := s.sessions.LinksFile(sess.ID)
	switch {
	case errors.Is(err, scraper.ErrNotFound):
		// A failed scrape leaves a session without a links file.
	case err != nil:
		s.writeError(w, statusFor(err), err.Error())
		return
	default:
		resp.CSVFile = name
		resp.CSVPreview, resp.CSVSizeBytes, err = s.csvPreview(sess.ID, name)
		if err != nil {
			s.logger.Warn("read csv preview failed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) csvPreview(id, name string) (string, int64, error) {
	f, info, err := s.sessions.OpenFile(id, name)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, csvPreviewBytes))
	if err != nil {
		return "", info.Size(), err
	}
	text := strings.TrimPrefix(string(buf), utf8BOM)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if utf8.RuneCountInString(text) > csvPreviewRunes {
		text = string([]rune(text)[:csvPreviewRunes])
	}
	return text, info.Size(), nil
}

// testScrape fetches and parses a page without storing anything.
func (s *Server) testScrape(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeScrapeRequest(w, r)
	if !ok {
		return
	}
	preview, err := s.scraper.Preview(r.Context(), req)
	if err != nil {
		var fetchErr *scraper.FetchError
		if errors.As(err, &fetchErr) {
			s.writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "preview": preview})
			return
		}
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

// recentEvents lists the newest events retained by the in-process publisher.
func (s *Server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotFound, "event log not available for this events backend")
		return
	}
	limit := defaultEvents
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":  s.events.Total(),
		"events": s.events.Recent(limit),
	})
}
