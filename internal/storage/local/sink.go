package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// AssetSink returns a sink that stages files inside the session directory.
func (s *SessionStore) AssetSink(sessionID string) (scraper.AssetSink, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return &sessionSink{dir: sess.Dir}, nil
}

type sessionSink struct {
	dir string
}

// Create opens a hidden temp file next to the final name. Nothing is visible under name
// until Commit renames it into place.
func (s *sessionSink) Create(name string) (scraper.AssetFile, error) {
	if !ValidFileName(name) {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	f, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	return &stagedFile{file: f, final: filepath.Join(s.dir, name)}, nil
}

type stagedFile struct {
	file  *os.File
	final string
	size  int64
	done  bool
}

func (f *stagedFile) Write(p []byte) (int, error) {
	n, err := f.file.Write(p)
	f.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("write staged file: %w", err)
	}
	return n, nil
}

func (f *stagedFile) Commit() (int64, error) {
	if f.done {
		return 0, fmt.Errorf("staged file %s already finalized", filepath.Base(f.final))
	}
	f.done = true
	if err := f.file.Close(); err != nil {
		_ = os.Remove(f.file.Name())
		return 0, fmt.Errorf("close staged file: %w", err)
	}
	if err := os.Rename(f.file.Name(), f.final); err != nil {
		_ = os.Remove(f.file.Name())
		return 0, fmt.Errorf("publish %s: %w", filepath.Base(f.final), err)
	}
	return f.size, nil
}

func (f *stagedFile) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	_ = f.file.Close()
	if err := os.Remove(f.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged file: %w", err)
	}
	return nil
}
