package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/storage/local"
)

var contentTypes = map[string]string{
	"csv":  "text/csv; charset=utf-8",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// attachment builds a Content-Disposition value. name has already passed local.ValidFileName.
func attachment(name string) string {
	return `attachment; filename="` + name + `"`
}

// sessionParam reads and validates {sessionId}. It writes a 400 and returns false when invalid.
func (s *Server) sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionId")
	if !local.ValidSessionID(id) {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func (s *Server) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "filename")
	if !local.ValidFileName(name) {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	s.serveFile(w, r, id, name)
}

func (s *Server) downloadLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	name, err := s.sessions.LinksFile(id)
	if err != nil {
		s.writeError(w, statusFor(err), "links file not found")
		return
	}
	s.serveFile(w, r, id, name)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, id, name string) {
	f, info, err := s.sessions.OpenFile(id, name)
	if err != nil {
		s.writeError(w, statusFor(err), "file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
	s.afterDownload(id)
}

func (s *Server) listSessionFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	files, total, err := s.sessions.ListFiles(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       id,
		"files":            files,
		"total_size_bytes": total,
	})
}

func (s *Server) imagesArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	images, _, err := s.sessions.ImageFiles(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if len(images) == 0 {
		s.writeError(w, http.StatusNotFound, "no images in session")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(local.ImagesArchiveName(id)))
	if _, err := s.sessions.WriteImagesArchive(id, w); err != nil {
		// Headers are already out; all that is left is to log.
		s.logger.Error("write images archive failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("session_id", id),
			zap.Error(err),
		)
		return
	}
	s.afterDownload(id)
}

func (s *Server) imagesInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	images, total, err := s.sessions.ImageFiles(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       id,
		"count":            len(images),
		"total_size_bytes": total,
		"items":            images,
	})
}

type sessionStatusResponse struct {
	scraper.SessionStatus
	LinksDownload  string `json:"links_download,omitempty"`
	ImagesDownload string `json:"images_download,omitempty"`
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionParam(w, r)
	if !ok {
		return
	}
	status, err := s.sessions.Status(id, s.retention.TTL())
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	resp := sessionStatusResponse{SessionStatus: status}
	if status.LinksFile != "" {
		resp.LinksDownload = "/api/download/" + id + "/" + status.LinksFile
	}
	if status.FileCounts.Images > 0 {
		resp.ImagesDownload = "/api/images/" + id
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) afterDownload(id string) {
	if !s.cfg.Retention.CleanupAfterDownload {
		return
	}
	s.retention.ScheduleCleanup(id, s.cfg.Retention.CleanupDelay)
	s.logger.Debug("cleanup scheduled after download",
		zap.String("session_id", id),
		zap.Duration("delay", s.cfg.Retention.CleanupDelay),
	)
}
