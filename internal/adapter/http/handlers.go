package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/cache"
	"github.com/Strob0t/TaskForge/internal/port/execbackend"
	"github.com/Strob0t/TaskForge/internal/port/messagequeue"
	"github.com/Strob0t/TaskForge/internal/service"
)

// terminalPollTTL is how long an immutable terminal poll response is cached.
const terminalPollTTL = time.Minute

// Orchestrator is the subset of the background manager the REST API uses.
type Orchestrator interface {
	Launch(ctx context.Context, req task.LaunchRequest) (task.Task, error)
	LaunchParallel(ctx context.Context, reqs []task.LaunchRequest) []service.LaunchOutcome
	Poll(id string) (task.PollResponse, error)
	Wait(ctx context.Context, id string) (task.PollResponse, error)
	Cancel(ctx context.Context, id string) (task.Task, error)
	Stats() task.Stats
	History(limit int) []task.Task
	Active() []task.Task
}

// Handlers bundles the dependencies of all HTTP handlers.
type Handlers struct {
	orch    Orchestrator
	queue   messagequeue.Queue // nil in simulation mode
	cache   cache.Cache        // nil disables poll caching
	version string
}

// NewHandlers creates the handler set.
func NewHandlers(orch Orchestrator, queue messagequeue.Queue, c cache.Cache, version string) *Handlers {
	return &Handlers{orch: orch, queue: queue, cache: c, version: version}
}

// CreateTask handles POST /api/tasks: admit a new background task.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.LaunchRequest](w, r)
	if !ok {
		return
	}

	t, err := h.orch.Launch(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// parallelLaunchRequest is the body of POST /api/tasks/parallel.
type parallelLaunchRequest struct {
	Tasks []task.LaunchRequest `json:"tasks"`
}

// parallelLaunchItem is the per-spec outcome in the batch response.
type parallelLaunchItem struct {
	Task  *task.Task `json:"task,omitempty"`
	Error string     `json:"error,omitempty"`
}

// CreateTasksParallel handles POST /api/tasks/parallel: a partial-failure
// batch launch. The response preserves request order.
func (h *Handlers) CreateTasksParallel(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[parallelLaunchRequest](w, r)
	if !ok {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "tasks must not be empty")
		return
	}

	outcomes := h.orch.LaunchParallel(r.Context(), req.Tasks)
	items := make([]parallelLaunchItem, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			items[i] = parallelLaunchItem{Error: o.Err.Error()}
			continue
		}
		t := o.Task
		items[i] = parallelLaunchItem{Task: &t}
	}
	writeJSON(w, http.StatusAccepted, items)
}

// GetTask handles GET /api/tasks/{id}: poll a task. With ?wait=true the
// request blocks until the task is terminal or the request is cancelled.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if r.URL.Query().Get("wait") == "true" {
		resp, err := h.orch.Wait(r.Context(), id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				writeError(w, http.StatusRequestTimeout, "wait cancelled")
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if data, ok := h.cachedPoll(r.Context(), id); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	resp, err := h.orch.Poll(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.storePoll(r.Context(), id, resp)
	writeJSON(w, http.StatusOK, resp)
}

// cachedPoll returns a cached terminal poll response, if any.
func (h *Handlers) cachedPoll(ctx context.Context, id string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	data, ok, err := h.cache.Get(ctx, "poll:"+id)
	if err != nil || !ok {
		return nil, false
	}
	return data, true
}

// storePoll caches terminal poll responses. Terminal records are immutable,
// so serving them from cache is always safe.
func (h *Handlers) storePoll(ctx context.Context, id string, resp task.PollResponse) {
	if h.cache == nil || !resp.Status.Terminal() {
		return
	}
	if data, err := json.Marshal(resp); err == nil {
		_ = h.cache.Set(ctx, "poll:"+id, data, terminalPollTTL)
	}
}

// CancelTask handles DELETE /api/tasks/{id}: cooperative cancellation.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTasks handles GET /api/tasks: snapshots of all active tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := h.orch.Active()
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListHistory handles GET /api/history?limit=N: recent terminal tasks.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	hist := h.orch.History(limit)
	if hist == nil {
		hist = []task.Task{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// GetStats handles GET /api/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Stats())
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	NATS     bool     `json:"nats_connected"`
	Backends []string `json:"backends"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  h.version,
		Backends: execbackend.Available(),
	}
	if h.queue != nil {
		resp.NATS = h.queue.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
