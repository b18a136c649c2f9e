// Package retention reclaims expired sessions on a timer, on demand, and after downloads.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-scraper/internal/metrics"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/storage/local"
)

// Store is the slice of the session store retention needs.
type Store interface {
	Sessions() ([]local.Entry, error)
	Remove(id string) (existed bool, bytesFreed int64, err error)
	PurgeTrash()
}

// Config controls the retention loop.
type Config struct {
	TTL        time.Duration
	Interval   time.Duration
	EventTopic string
}

// Manager owns session lifetime.
type Manager struct {
	cfg       Config
	store     Store
	clock     scraper.Clock
	publisher scraper.Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

type task struct {
	timer *time.Timer
}

// New builds a Manager. publisher may be nil.
func New(cfg Config, store Store, clock scraper.Clock, publisher scraper.Publisher, logger *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		clock:     clock,
		publisher: publisher,
		logger:    logger.Named("retention"),
		tasks:     make(map[string]*task),
	}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.store.PurgeTrash()
	m.sweepAndLog(ctx, "startup")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweepAndLog(ctx, "periodic")
		}
	}
}

func (m *Manager) sweepAndLog(ctx context.Context, trigger string) {
	res, err := m.Sweep(ctx, m.cfg.TTL)
	if err != nil {
		m.logger.Error("sweep failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	m.logger.Info("sweep complete",
		zap.String("trigger", trigger),
		zap.Int("removed", res.Count),
		zap.Int64("bytes_freed", res.BytesFreed),
	)
}

// Sweep removes every session older than maxAge. A session that cannot be removed is logged
// and skipped; the sweep carries on with the rest.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (scraper.SweepResult, error) {
	now := m.clock.Now()
	return m.removeWhere(ctx, "sweep", func(e local.Entry) bool {
		return now.Sub(e.CreatedAt) > maxAge
	})
}

// PurgeAll removes every session regardless of age.
func (m *Manager) PurgeAll(ctx context.Context) (scraper.SweepResult, error) {
	return m.removeWhere(ctx, "purge_all", func(local.Entry) bool { return true })
}

func (m *Manager) removeWhere(ctx context.Context, reason string, match func(local.Entry) bool) (scraper.SweepResult, error) {
	sessions, err := m.store.Sessions()
	if err != nil {
		return scraper.SweepResult{}, err
	}
	var res scraper.SweepResult
	for _, e := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !match(e) {
			continue
		}
		existed, freed, err := m.store.Remove(e.ID)
		if err != nil {
			level := m.logger.Warn
			if errors.Is(err, scraper.ErrSessionBusy) {
				level = m.logger.Debug
			}
			level("session not removed", zap.String("session_id", e.ID), zap.Error(err))
			continue
		}
		if !existed {
			continue
		}
		m.cancelTask(e.ID)
		res.Count++
		res.BytesFreed += freed
		m.publishPurged(ctx, e.ID, freed)
	}
	metrics.ObserveReclaimed(reason, res.Count, res.BytesFreed)
	return res, nil
}

// Purge removes one session. A session that does not exist yields freed=false and no error.
func (m *Manager) Purge(ctx context.Context, id string) (bool, int64, error) {
	m.cancelTask(id)
	existed, freed, err := m.store.Remove(id)
	if errors.Is(err, scraper.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if !existed {
		return false, 0, nil
	}
	metrics.ObserveReclaimed("purge", 1, freed)
	m.publishPurged(ctx, id, freed)
	m.logger.Info("session purged", zap.String("session_id", id), zap.Int64("bytes_freed", freed))
	return true, freed, nil
}

// ScheduleCleanup purges id after delay. Scheduling again for the same id replaces the
// pending task. The returned func cancels the task and reports whether it was still pending.
func (m *Manager) ScheduleCleanup(id string, delay time.Duration) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return func() bool { return false }
	}
	if prev, ok := m.tasks[id]; ok {
		prev.timer.Stop()
	}
	t := &task{}
	t.timer = time.AfterFunc(delay, func() {
		if !m.release(id, t) {
			return
		}
		if _, _, err := m.Purge(context.Background(), id); err != nil {
			m.logger.Warn("deferred cleanup failed", zap.String("session_id", id), zap.Error(err))
		}
	})
	m.tasks[id] = t
	return func() bool { return m.cancelIf(id, t) }
}

// Pending returns the number of scheduled cleanups.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Stop cancels every scheduled cleanup and refuses new ones.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, t := range m.tasks {
		t.timer.Stop()
		delete(m.tasks, id)
	}
}

// release removes t from the task table if it is still the current task for id.
func (m *Manager) release(id string, t *task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[id] != t {
		return false
	}
	delete(m.tasks, id)
	return true
}

func (m *Manager) cancelIf(id string, t *task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[id] != t {
		return false
	}
	delete(m.tasks, id)
	return t.timer.Stop()
}

func (m *Manager) cancelTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.timer.Stop()
		delete(m.tasks, id)
	}
}

func (m *Manager) publishPurged(ctx context.Context, id string, freed int64) {
	if m.publisher == nil || m.cfg.EventTopic == "" {
		return
	}
	evt := scraper.Event{Type: scraper.EventSessionPurged, SessionID: id, BytesFreed: freed, At: m.clock.Now()}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := m.publisher.Publish(pubCtx, m.cfg.EventTopic, evt); err != nil {
		m.logger.Warn("publish event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
