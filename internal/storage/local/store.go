// Package local keeps scrape sessions on the local filesystem: one directory per session
// holding the links CSV and the image files.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/id/uuid"
	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const (
	dirPerm     = 0o750
	filePerm    = 0o600
	trashPrefix = ".trash-"
)

// Config captures the parameters for the session store.
type Config struct {
	// BaseDir is the root directory that holds one sub-directory per session.
	BaseDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// SessionStore implements scraper.SessionStore on top of a directory tree.
type SessionStore struct {
	baseDir string
	ids     scraper.IDGenerator
	clock   scraper.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// Entry is a session directory found on disk.
type Entry struct {
	ID        string
	CreatedAt time.Time
	Dir       string
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config, ids scraper.IDGenerator, clock scraper.Clock, logger *zap.Logger) (*SessionStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionStore{
		baseDir: filepath.Clean(cfg.BaseDir),
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("store"),
		active:  make(map[string]struct{}),
	}
	if err := s.ensureWritable(); err != nil {
		return nil, err
	}
	return s, nil
}

// BaseDir returns the storage root.
func (s *SessionStore) BaseDir() string {
	return s.baseDir
}

func (s *SessionStore) ensureWritable() error {
	info, err := os.Stat(s.baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(s.baseDir, dirPerm); mkErr != nil {
			return fmt.Errorf("%w: create base directory: %v", scraper.ErrStorageUnavailable, mkErr)
		}
	case err != nil:
		return fmt.Errorf("%w: stat base directory: %v", scraper.ErrStorageUnavailable, err)
	case !info.IsDir():
		return fmt.Errorf("%w: base directory path is not a directory", scraper.ErrStorageUnavailable)
	}

	marker, err := os.CreateTemp(s.baseDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("%w: base directory is not writable: %v", scraper.ErrStorageUnavailable, err)
	}
	_ = marker.Close()
	if err := os.Remove(marker.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: clean up writability marker: %v", scraper.ErrStorageUnavailable, err)
	}
	return nil
}

// Create allocates a new session directory. The session is busy until Finish.
func (s *SessionStore) Create(_ context.Context) (scraper.Session, error) {
	if err := s.ensureWritable(); err != nil {
		return scraper.Session{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return scraper.Session{}, fmt.Errorf("%w: allocate session id: %v", scraper.ErrStorageUnavailable, err)
	}
	dir := filepath.Join(s.baseDir, id)

	// The id is busy before the directory exists so a concurrent sweep can never claim it.
	s.mu.Lock()
	s.active[id] = struct{}{}
	s.mu.Unlock()
	if err := os.Mkdir(dir, dirPerm); err != nil {
		s.Finish(id)
		return scraper.Session{}, fmt.Errorf("%w: create session directory: %v", scraper.ErrStorageUnavailable, err)
	}

	created := s.clock.Now()
	if ts, ok := uuid.Timestamp(id); ok {
		created = ts
	}
	s.logger.Debug("session created", zap.String("session_id", id))
	return scraper.Session{ID: id, CreatedAt: created, Dir: dir}, nil
}

// Finish marks the session's write phase as complete.
func (s *SessionStore) Finish(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Get returns the session with the given ID or scraper.ErrNotFound.
func (s *SessionStore) Get(id string) (scraper.Session, error) {
	dir, err := s.sessionDir(id)
	if err != nil {
		return scraper.Session{}, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return scraper.Session{}, fmt.Errorf("session %s: %w", id, scraper.ErrNotFound)
	}
	return scraper.Session{ID: id, CreatedAt: createdAt(id, info), Dir: dir}, nil
}

// Sessions lists every session directory under the root.
func (s *SessionStore) Sessions() ([]Entry, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read base directory: %v", scraper.ErrStorageUnavailable, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			ID:        e.Name(),
			CreatedAt: createdAt(e.Name(), info),
			Dir:       filepath.Join(s.baseDir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Latest returns the most recently created session, or scraper.ErrNotFound when there is none.
func (s *SessionStore) Latest() (scraper.Session, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return scraper.Session{}, err
	}
	if len(sessions) == 0 {
		return scraper.Session{}, fmt.Errorf("no sessions: %w", scraper.ErrNotFound)
	}
	last := sessions[len(sessions)-1]
	return scraper.Session{ID: last.ID, CreatedAt: last.CreatedAt, Dir: last.Dir}, nil
}

// Remove deletes a whole session. The directory is first renamed out of the way so readers
// never observe a half-deleted session. existed is false when there was nothing to remove.
func (s *SessionStore) Remove(id string) (existed bool, bytesFreed int64, err error) {
	dir, err := s.sessionDir(id)
	if err != nil {
		return false, 0, err
	}
	trash, existed, err := s.detach(id, dir)
	if err != nil || !existed {
		return existed, 0, err
	}
	size, err := dirSize(trash)
	if err != nil {
		s.logger.Warn("size detached session", zap.String("session_id", id), zap.Error(err))
	}
	if err := os.RemoveAll(trash); err != nil {
		s.logger.Warn("session detached but not fully removed", zap.String("session_id", id), zap.Error(err))
	}
	return true, size, nil
}

// detach renames dir into the trash. The busy check and the rename happen under one lock so a
// session cannot become busy in between.
func (s *SessionStore) detach(id, dir string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return "", true, fmt.Errorf("session %s: %w", id, scraper.ErrSessionBusy)
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", true, fmt.Errorf("stat session %s: %w", id, err)
	}
	if !info.IsDir() {
		return "", false, nil
	}
	trash := filepath.Join(s.baseDir, fmt.Sprintf("%s%s-%d", trashPrefix, id, s.clock.Now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return "", true, fmt.Errorf("detach session %s: %w", id, err)
	}
	return trash, true, nil
}

// PurgeTrash removes leftovers of interrupted removals.
func (s *SessionStore) PurgeTrash() {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), trashPrefix) {
			if err := os.RemoveAll(filepath.Join(s.baseDir, e.Name())); err != nil {
				s.logger.Warn("remove trash", zap.String("dir", e.Name()), zap.Error(err))
			}
		}
	}
}

// Stats aggregates all sessions.
func (s *SessionStore) Stats() (scraper.StoreStats, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return scraper.StoreStats{}, err
	}
	stats := scraper.StoreStats{TotalSessions: len(sessions)}
	for _, sess := range sessions {
		files, total, err := listFiles(sess.Dir)
		if err != nil {
			continue
		}
		stats.TotalFiles += len(files)
		stats.TotalSizeBytes += total
	}
	return stats, nil
}

// sessionDir validates id and returns its directory.
func (s *SessionStore) sessionDir(id string) (string, error) {
	if !ValidSessionID(id) {
		return "", fmt.Errorf("session %q: %w", id, scraper.ErrNotFound)
	}
	return filepath.Join(s.baseDir, id), nil
}

func createdAt(id string, info fs.FileInfo) time.Time {
	if ts, ok := uuid.Timestamp(id); ok {
		return ts
	}
	return info.ModTime().UTC()
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
