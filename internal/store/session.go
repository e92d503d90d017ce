// Package store implements the in-memory session store: the authoritative
// table of active task records plus a bounded history of terminal ones.
//
// All state is process-lifetime only. Records are bounded in lifetime by the
// periodic sweep; history is bounded in both age and count.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// Config holds retention and sweep settings for the session store.
type Config struct {
	MaxTaskLifetime   time.Duration // active records older than this are force-cancelled
	HistoryRetention  time.Duration // terminal records older than this are evicted
	HistoryMaxEntries int           // hard cap on history length
	SweepInterval     time.Duration // how often RunSweeper runs
}

// Defaults returns the store configuration used when none is provided.
func Defaults() Config {
	return Config{
		MaxTaskLifetime:   time.Hour,
		HistoryRetention:  24 * time.Hour,
		HistoryMaxEntries: 512,
		SweepInterval:     10 * time.Minute,
	}
}

// entry is one active record with its cancellation handle and done signal.
type entry struct {
	t      *task.Task
	cancel func()
	done   chan struct{}
}

// SessionStore owns the active table and the history log. All mutation is
// serialized behind a single mutex; callers receive snapshot copies.
type SessionStore struct {
	mu      sync.Mutex
	active  map[string]*entry
	history []task.Task // ordered by StartTime, oldest first
	cfg     Config
	now     func() time.Time
}

// New creates a SessionStore with the given configuration.
func New(cfg Config) *SessionStore {
	if cfg.MaxTaskLifetime <= 0 {
		cfg.MaxTaskLifetime = Defaults().MaxTaskLifetime
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = Defaults().HistoryRetention
	}
	if cfg.HistoryMaxEntries <= 0 {
		cfg.HistoryMaxEntries = Defaults().HistoryMaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = Defaults().SweepInterval
	}
	return &SessionStore{
		active: make(map[string]*entry),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Put inserts or replaces an active record by id and returns the channel
// that is closed when the record reaches a terminal state.
func (s *SessionStore) Put(t *task.Task) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{t: t, done: make(chan struct{})}
	s.active[t.ID] = e
	return e.done
}

// SetCancel attaches the cooperative cancellation handle for an active record.
func (s *SessionStore) SetCancel(id string, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.active[id]; ok {
		e.cancel = cancel
	}
}

// CancelHandle returns the cancellation handle for an active record.
func (s *SessionStore) CancelHandle(id string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok || e.cancel == nil {
		return nil, false
	}
	return e.cancel, true
}

// Done returns the terminal-state signal channel for an active record.
func (s *SessionStore) Done(id string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return nil, false
	}
	return e.done, true
}

// Get returns a snapshot of the record, checking the active table first and
// the history log second.
func (s *SessionStore) Get(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.active[id]; ok {
		return *e.t, true
	}
	for i := range s.history {
		if s.history[i].ID == id {
			return s.history[i], true
		}
	}
	return task.Task{}, false
}

// UpdateStatus transitions an active record to a new non-terminal status.
func (s *SessionStore) UpdateStatus(id string, st task.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok || e.t.EndTime != nil {
		return false
	}
	e.t.Status = st
	return true
}

// Complete moves an active record to its terminal state: sets status,
// result or error and end time, removes it from the active table, appends
// it to history and closes the done channel. A record already completed
// (or never present) is left untouched and false is returned, which makes
// concurrent completion attempts (executor vs. sweep vs. cancel) safe.
func (s *SessionStore) Complete(id string, st task.Status, res *task.Result, errMsg string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return task.Task{}, false
	}

	end := s.now()
	e.t.Status = st
	e.t.Result = res
	e.t.Error = errMsg
	e.t.EndTime = &end

	delete(s.active, id)
	s.appendHistoryLocked(*e.t)
	close(e.done)

	return *e.t, true
}

// Remove deletes a record from the active table without recording history.
// Used by the sweep for abandoned records that cannot be cancelled.
func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.active[id]; ok {
		delete(s.active, id)
		close(e.done)
	}
}

// AppendHistory adds a terminal record to the bounded history log.
func (s *SessionStore) AppendHistory(t task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistoryLocked(t)
}

// appendHistoryLocked inserts in StartTime order and evicts entries beyond
// the retention window or the count cap, oldest first. Must hold s.mu.
func (s *SessionStore) appendHistoryLocked(t task.Task) {
	// Insert keeping StartTime order. Records almost always arrive in
	// order, so scan from the tail.
	i := len(s.history)
	for i > 0 && s.history[i-1].StartTime.After(t.StartTime) {
		i--
	}
	s.history = append(s.history, task.Task{})
	copy(s.history[i+1:], s.history[i:])
	s.history[i] = t

	cutoff := s.now().Add(-s.cfg.HistoryRetention)
	drop := 0
	for drop < len(s.history) && s.history[drop].StartTime.Before(cutoff) {
		drop++
	}
	if over := len(s.history) - drop - s.cfg.HistoryMaxEntries; over > 0 {
		drop += over
	}
	if drop > 0 {
		s.history = append(s.history[:0], s.history[drop:]...)
	}
}

// ListActive returns snapshots of all active records.
func (s *SessionStore) ListActive() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, *e.t)
	}
	return out
}

// ListHistory returns up to limit terminal records, most recent first.
// A limit of 0 returns everything retained.
func (s *SessionStore) ListHistory(limit int) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]task.Task, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// HistoryCount returns the number of retained terminal records.
func (s *SessionStore) HistoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Sweep force-cancels active records older than MaxTaskLifetime and prunes
// expired history. Returns the number of abandoned records reaped.
func (s *SessionStore) Sweep() int {
	cutoff := s.now().Add(-s.cfg.MaxTaskLifetime)

	// Collect stale ids under the lock, act outside it: cancellation
	// handles re-enter the store through Complete.
	s.mu.Lock()
	type stale struct {
		id     string
		cancel func()
	}
	var reap []stale
	for id, e := range s.active {
		if e.t.EndTime == nil && e.t.StartTime.Before(cutoff) {
			reap = append(reap, stale{id: id, cancel: e.cancel})
		}
	}

	cutoffHist := s.now().Add(-s.cfg.HistoryRetention)
	drop := 0
	for drop < len(s.history) && s.history[drop].StartTime.Before(cutoffHist) {
		drop++
	}
	if drop > 0 {
		s.history = append(s.history[:0], s.history[drop:]...)
	}
	s.mu.Unlock()

	for _, st := range reap {
		slog.Warn("sweeping abandoned task", "task_id", st.id)
		if st.cancel != nil {
			st.cancel()
		}
		// The cancellation handle normally completes the record. If it
		// did not (no handle, or a handle that never resolves), force
		// the terminal state so the active table stays bounded.
		if _, _, stillActive := s.snapshotActive(st.id); stillActive {
			s.Complete(st.id, task.StatusCancelled, nil, "abandoned: exceeded max task lifetime")
		}
	}
	return len(reap)
}

func (s *SessionStore) snapshotActive(id string) (task.Task, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return task.Task{}, nil, false
	}
	return *e.t, e.cancel, true
}

// RunSweeper runs Sweep on the configured interval until ctx is cancelled.
// A failed cycle must never stall subsequent sweeps, so panics are logged
// and swallowed.
func (s *SessionStore) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

func (s *SessionStore) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session sweep failed", "panic", r)
		}
	}()
	if n := s.Sweep(); n > 0 {
		slog.Info("session sweep reaped abandoned tasks", "count", n)
	}
}
