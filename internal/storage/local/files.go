package local

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// ListFiles returns the visible files of a session sorted by name, plus their total size.
func (s *SessionStore) ListFiles(sessionID string) ([]scraper.FileInfo, int64, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, 0, err
	}
	return listFiles(sess.Dir)
}

// ImageFiles returns only files with a recognized image extension.
func (s *SessionStore) ImageFiles(sessionID string) ([]scraper.FileInfo, int64, error) {
	files, _, err := s.ListFiles(sessionID)
	if err != nil {
		return nil, 0, err
	}
	images := make([]scraper.FileInfo, 0, len(files))
	var total int64
	for _, f := range files {
		if scraper.IsImageExtension(f.Extension) {
			images = append(images, f)
			total += f.SizeBytes
		}
	}
	return images, total, nil
}

// LinksFile returns the name of the session's CSV file.
func (s *SessionStore) LinksFile(sessionID string) (string, error) {
	files, _, err := s.ListFiles(sessionID)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Extension == "csv" {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("links file for session %s: %w", sessionID, scraper.ErrNotFound)
}

// OpenFile opens a file inside a session for reading. The caller closes it.
func (s *SessionStore) OpenFile(sessionID, name string) (*os.File, os.FileInfo, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !ValidFileName(name) {
		return nil, nil, fmt.Errorf("file %q: %w", name, scraper.ErrNotFound)
	}
	path := filepath.Join(sess.Dir, name)
	// #nosec G304 -- name is validated to a single path element inside the session directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("file %s: %w", name, scraper.ErrNotFound)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("file %s: %w", name, scraper.ErrNotFound)
	}
	return f, info, nil
}

// Status summarizes a session relative to the given TTL.
func (s *SessionStore) Status(sessionID string, ttl time.Duration) (scraper.SessionStatus, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return scraper.SessionStatus{}, err
	}
	files, total, err := listFiles(sess.Dir)
	if err != nil {
		return scraper.SessionStatus{}, err
	}
	status := scraper.SessionStatus{
		SessionID:      sess.ID,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.CreatedAt.Add(ttl),
		TotalSizeBytes: total,
	}
	remaining := status.ExpiresAt.Sub(s.clock.Now()).Hours()
	status.RemainingHours = math.Max(0, math.Round(remaining*100)/100)
	for _, f := range files {
		status.FileCounts.Total++
		switch {
		case f.Extension == "csv":
			status.FileCounts.CSV++
			if status.LinksFile == "" {
				status.LinksFile = f.Name
			}
		case scraper.IsImageExtension(f.Extension):
			status.FileCounts.Images++
		}
	}
	return status, nil
}

func listFiles(dir string) ([]scraper.FileInfo, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read session directory: %w", err)
	}
	files := make([]scraper.FileInfo, 0, len(entries))
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, scraper.FileInfo{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			Extension: strings.ToLower(strings.TrimPrefix(filepath.Ext(e.Name()), ".")),
		})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, total, nil
}
