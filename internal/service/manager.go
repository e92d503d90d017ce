// Package service implements the orchestration core: the background manager
// that admits, queues and resolves tasks, and the executor that drives a
// single task against the execution backend.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/store"
)

// waiting is one admitted-but-not-started launch in the FIFO queue.
type waiting struct {
	t       *task.Task
	timeout time.Duration
}

// LaunchOutcome is the per-spec result of a parallel launch. Err is an
// admission error (overflow, invalid spec); execution errors surface later
// through the task's terminal state.
type LaunchOutcome struct {
	Task task.Task
	Err  error
}

// Manager is the orchestration front door. It enforces the running-slot
// capacity with a weighted semaphore, buffers excess launches in a bounded
// FIFO queue, rejects beyond that, and drains the queue as slots free up.
type Manager struct {
	cfg     config.Orchestrator
	store   *store.SessionStore
	exec    *Executor
	hub     broadcast.Broadcaster
	slots   *semaphore.Weighted
	baseCtx context.Context
	metrics *tfotel.Metrics

	mu     sync.Mutex
	queue  []*waiting
	queued map[string]*waiting
}

// NewManager creates a Manager. Running tasks derive their contexts from
// ctx, so cancelling it stops every in-flight execution on shutdown.
func NewManager(ctx context.Context, cfg config.Orchestrator, st *store.SessionStore, exec *Executor, hub broadcast.Broadcaster) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &Manager{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		hub:     hub,
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		baseCtx: ctx,
		queued:  make(map[string]*waiting),
	}
}

// Launch admits a new task: run immediately when a slot is free, queue when
// the wait queue has room, otherwise reject with ErrQueueOverflow. Rejected
// launches leave no record behind. The returned snapshot reflects the
// admission decision (running or queued).
func (m *Manager) Launch(ctx context.Context, req task.LaunchRequest) (task.Task, error) {
	ctx, span := tfotel.StartLaunchSpan(ctx, req.Name)
	defer span.End()

	if strings.TrimSpace(req.Spec.Prompt) == "" {
		return task.Task{}, task.ErrEmptyPrompt
	}

	timeout := m.cfg.DefaultTaskTimeout
	if req.MaxDurationMs > 0 {
		timeout = time.Duration(req.MaxDurationMs) * time.Millisecond
	}

	t := &task.Task{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Spec:      req.Spec,
		Status:    task.StatusQueued,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The immediate-run path is only open while the wait queue is empty:
	// a slot freed between Release and drain must go to the oldest queued
	// task, never to a fresh launch racing in.
	if len(m.queue) == 0 && m.slots.TryAcquire(1) {
		m.store.Put(t)
		m.store.UpdateStatus(t.ID, task.StatusRunning)
		snap := *t
		m.startLocked(t, timeout)
		m.countLaunch(ctx, "run")
		slog.Info("task admitted", "task_id", snap.ID, "name", snap.Name, "decision", "run")
		go m.broadcastStats()
		return snap, nil
	}

	if len(m.queue) >= m.cfg.MaxQueueDepth {
		if m.metrics != nil {
			m.metrics.TasksRejected.Add(ctx, 1)
		}
		slog.Warn("task rejected",
			"name", req.Name,
			"queued", len(m.queue),
			"capacity", m.cfg.MaxConcurrent,
		)
		return task.Task{}, task.ErrQueueOverflow
	}

	m.store.Put(t)
	w := &waiting{t: t, timeout: timeout}
	m.queue = append(m.queue, w)
	m.queued[t.ID] = w
	id := t.ID
	m.store.SetCancel(id, func() { m.cancelQueued(id) })
	m.countLaunch(ctx, "queue")
	slog.Info("task admitted", "task_id", id, "name", req.Name, "decision", "queue", "position", len(m.queue))
	go m.broadcastStats()
	return *t, nil
}

// broadcastStats pushes a load snapshot to dashboard clients. Runs off the
// admission path so a slow client never holds up a launch.
func (m *Manager) broadcastStats() {
	s := m.Stats()
	m.hub.BroadcastEvent(context.Background(), ws.EventQueueStats, ws.QueueStatsEvent{
		Running:      s.Running,
		Queued:       s.Queued,
		Capacity:     s.Capacity,
		HistoryCount: s.HistoryCount,
	})
}

// SetMetrics attaches metric instruments. Call before the first Launch.
func (m *Manager) SetMetrics(mm *tfotel.Metrics) { m.metrics = mm }

func (m *Manager) countLaunch(ctx context.Context, decision string) {
	if m.metrics == nil {
		return
	}
	m.metrics.TasksLaunched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
	))
}

// startLocked promotes a task whose slot is already acquired. The slot is
// released when the executor resolves, which in turn drains the queue.
// Must hold m.mu.
func (m *Manager) startLocked(t *task.Task, timeout time.Duration) {
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.store.SetCancel(t.ID, cancel)

	go func() {
		defer cancel()
		m.exec.Execute(runCtx, t, timeout, m.cfg.PipelineTimeout)
		m.slots.Release(1)
		m.drain()
	}()
}

// drain promotes waiting tasks FIFO for as long as slots are available.
// Runs unconditionally on every resolution regardless of how the task ended.
func (m *Manager) drain() {
	m.mu.Lock()
	promoted := 0
	for len(m.queue) > 0 && m.slots.TryAcquire(1) {
		w := m.queue[0]
		m.queue = m.queue[1:]
		delete(m.queued, w.t.ID)
		if !m.store.UpdateStatus(w.t.ID, task.StatusRunning) {
			// Already terminal (force-completed by the sweep): the slot
			// goes to the next waiter instead.
			m.slots.Release(1)
			continue
		}
		m.startLocked(w.t, w.timeout)
		promoted++
	}
	m.mu.Unlock()

	if promoted > 0 {
		go m.broadcastStats()
	}
}

// cancelQueued removes a still-queued task from the wait queue and resolves
// it as cancelled without ever invoking the executor. Returns false when the
// task is not in the queue (already promoted or unknown).
func (m *Manager) cancelQueued(id string) bool {
	m.mu.Lock()
	w, ok := m.queued[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.queued, id)
	for i := range m.queue {
		if m.queue[i] == w {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	final, ok := m.store.Complete(id, task.StatusCancelled, nil, "cancelled before start")
	if ok {
		slog.Info("queued task cancelled", "task_id", id)
		m.hub.BroadcastEvent(context.Background(), ws.EventTaskStatus, ws.TaskStatusEvent{
			TaskID: final.ID,
			Name:   final.Name,
			Status: string(final.Status),
			Error:  final.Error,
		})
	}
	return true
}

// Poll returns a non-blocking snapshot of the task, terminal or not.
func (m *Manager) Poll(id string) (task.PollResponse, error) {
	t, ok := m.store.Get(id)
	if !ok {
		return task.PollResponse{}, task.ErrNotFound
	}
	return toPollResponse(t), nil
}

// Wait blocks until the task reaches a terminal state or ctx expires, then
// returns the snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (task.PollResponse, error) {
	if done, ok := m.store.Done(id); ok {
		select {
		case <-done:
		case <-ctx.Done():
			return task.PollResponse{}, ctx.Err()
		}
	}
	return m.Poll(id)
}

// Cancel requests cooperative cancellation. A still-queued task is removed
// from the wait queue immediately; a running one is signalled and Cancel
// waits for the executor to unwind (bounded by ctx). Cancelling a terminal
// task returns ErrNotActive with its snapshot.
func (m *Manager) Cancel(ctx context.Context, id string) (task.Task, error) {
	if m.cancelQueued(id) {
		t, _ := m.store.Get(id)
		return t, nil
	}

	cancelFn, ok := m.store.CancelHandle(id)
	if !ok {
		t, found := m.store.Get(id)
		if !found {
			return task.Task{}, task.ErrNotFound
		}
		return t, task.ErrNotActive
	}

	done, hasDone := m.store.Done(id)
	cancelFn()
	if hasDone {
		select {
		case <-done:
		case <-ctx.Done():
			return task.Task{}, ctx.Err()
		}
	}
	t, _ := m.store.Get(id)
	return t, nil
}

// LaunchParallel admits a batch of launches, collecting a per-item outcome.
// One admission failure never blocks the rest of the batch. Admission is
// sequential in slice order, preserving FIFO fairness across the batch.
func (m *Manager) LaunchParallel(ctx context.Context, reqs []task.LaunchRequest) []LaunchOutcome {
	out := make([]LaunchOutcome, len(reqs))
	for i, req := range reqs {
		t, err := m.Launch(ctx, req)
		out[i] = LaunchOutcome{Task: t, Err: err}
	}
	return out
}

// Stats returns the current load snapshot.
func (m *Manager) Stats() task.Stats {
	m.mu.Lock()
	queued := len(m.queue)
	m.mu.Unlock()

	running := 0
	for _, t := range m.store.ListActive() {
		if t.Status == task.StatusRunning {
			running++
		}
	}
	return task.Stats{
		Running:      running,
		Queued:       queued,
		Capacity:     m.cfg.MaxConcurrent,
		HistoryCount: m.store.HistoryCount(),
	}
}

// History returns up to limit terminal tasks, most recent first.
func (m *Manager) History(limit int) []task.Task {
	return m.store.ListHistory(limit)
}

// Active returns snapshots of all queued and running tasks.
func (m *Manager) Active() []task.Task {
	return m.store.ListActive()
}

func toPollResponse(t task.Task) task.PollResponse {
	return task.PollResponse{
		ID:         t.ID,
		Name:       t.Name,
		Status:     t.Status,
		Result:     t.Result,
		Error:      t.Error,
		DurationMs: t.DurationMs(time.Now()),
	}
}
