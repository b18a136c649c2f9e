package local

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// WriteImagesArchive streams a flat ZIP of the session's images into w.
// It returns scraper.ErrNoAssets, before writing anything, when there are no images.
func (s *SessionStore) WriteImagesArchive(sessionID string, w io.Writer) (int, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return 0, err
	}
	images, _, err := s.ImageFiles(sessionID)
	if err != nil {
		return 0, err
	}
	if len(images) == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, scraper.ErrNoAssets)
	}

	zw := zip.NewWriter(w)
	for _, img := range images {
		if err := addToArchive(zw, filepath.Join(sess.Dir, img.Name), img.Name); err != nil {
			_ = zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}
	return len(images), nil
}

func addToArchive(zw *zip.Writer, path, name string) error {
	// #nosec G304 -- path comes from a directory listing of the session.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive header %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("archive copy %s: %w", name, err)
	}
	return nil
}
