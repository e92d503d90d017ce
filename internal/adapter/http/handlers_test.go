package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/service"
)

// mockOrch is a scriptable Orchestrator for handler tests.
type mockOrch struct {
	launchErr error
	launched  []task.LaunchRequest
	pollResp  task.PollResponse
	pollErr   error
	pollCalls int
	cancelRes task.Task
	cancelErr error
	stats     task.Stats
	history   []task.Task
	active    []task.Task
}

func (m *mockOrch) Launch(_ context.Context, req task.LaunchRequest) (task.Task, error) {
	m.launched = append(m.launched, req)
	if m.launchErr != nil {
		return task.Task{}, m.launchErr
	}
	return task.Task{ID: "t-1", Name: req.Name, Status: task.StatusRunning}, nil
}

func (m *mockOrch) LaunchParallel(ctx context.Context, reqs []task.LaunchRequest) []service.LaunchOutcome {
	out := make([]service.LaunchOutcome, len(reqs))
	for i, req := range reqs {
		t, err := m.Launch(ctx, req)
		out[i] = service.LaunchOutcome{Task: t, Err: err}
		// Overflow everything after the first item to exercise partial failure.
		m.launchErr = task.ErrQueueOverflow
	}
	return out
}

func (m *mockOrch) Poll(string) (task.PollResponse, error) {
	m.pollCalls++
	return m.pollResp, m.pollErr
}

func (m *mockOrch) Wait(context.Context, string) (task.PollResponse, error) {
	return m.pollResp, m.pollErr
}

func (m *mockOrch) Cancel(context.Context, string) (task.Task, error) {
	return m.cancelRes, m.cancelErr
}

func (m *mockOrch) Stats() task.Stats       { return m.stats }
func (m *mockOrch) History(int) []task.Task { return m.history }
func (m *mockOrch) Active() []task.Task     { return m.active }

// memCache is an in-memory cache.Cache for handler tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newTestRouter(orch Orchestrator) http.Handler {
	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(orch, nil, nil, "test"), nil)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	orch := &mockOrch{}
	rec := doJSON(t, newTestRouter(orch), http.MethodPost, "/api/tasks", task.LaunchRequest{
		Name: "job",
		Spec: task.Spec{Prompt: "do it"},
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "t-1" || got.Status != task.StatusRunning {
		t.Fatalf("unexpected task: %+v", got)
	}
	if len(orch.launched) != 1 || orch.launched[0].Spec.Prompt != "do it" {
		t.Fatalf("unexpected launch: %+v", orch.launched)
	}
}

func TestCreateTaskOverflowReturns429(t *testing.T) {
	orch := &mockOrch{launchErr: task.ErrQueueOverflow}
	rec := doJSON(t, newTestRouter(orch), http.MethodPost, "/api/tasks", task.LaunchRequest{
		Spec: task.Spec{Prompt: "too much"},
	})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestCreateTaskEmptyPromptReturns400(t *testing.T) {
	orch := &mockOrch{launchErr: task.ErrEmptyPrompt}
	rec := doJSON(t, newTestRouter(orch), http.MethodPost, "/api/tasks", task.LaunchRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateTaskInvalidBodyReturns400(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	newTestRouter(&mockOrch{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateTasksParallelPartialFailure(t *testing.T) {
	orch := &mockOrch{}
	rec := doJSON(t, newTestRouter(orch), http.MethodPost, "/api/tasks/parallel", parallelLaunchRequest{
		Tasks: []task.LaunchRequest{
			{Spec: task.Spec{Prompt: "one"}},
			{Spec: task.Spec{Prompt: "two"}},
		},
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []parallelLaunchItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Task == nil || items[0].Error != "" {
		t.Fatalf("expected first item admitted, got %+v", items[0])
	}
	if items[1].Task != nil || items[1].Error == "" {
		t.Fatalf("expected second item rejected, got %+v", items[1])
	}
}

func TestCreateTasksParallelEmptyBatch(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockOrch{}), http.MethodPost, "/api/tasks/parallel", parallelLaunchRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	orch := &mockOrch{pollResp: task.PollResponse{ID: "t-9", Status: task.StatusRunning, DurationMs: 42}}
	rec := doJSON(t, newTestRouter(orch), http.MethodGet, "/api/tasks/t-9", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got task.PollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "t-9" || got.Status != task.StatusRunning {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	orch := &mockOrch{pollErr: task.ErrNotFound}
	rec := doJSON(t, newTestRouter(orch), http.MethodGet, "/api/tasks/ghost", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTaskWait(t *testing.T) {
	orch := &mockOrch{pollResp: task.PollResponse{
		ID:     "t-9",
		Status: task.StatusCompleted,
		Result: &task.Result{Output: "done"},
	}}
	rec := doJSON(t, newTestRouter(orch), http.MethodGet, "/api/tasks/t-9?wait=true", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got task.PollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != task.StatusCompleted || got.Result.Output != "done" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestGetTaskCachesTerminalResponses(t *testing.T) {
	orch := &mockOrch{pollResp: task.PollResponse{ID: "t-1", Status: task.StatusCompleted}}
	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(orch, nil, newMemCache(), "test"), nil)

	doJSON(t, r, http.MethodGet, "/api/tasks/t-1", nil)
	rec := doJSON(t, r, http.MethodGet, "/api/tasks/t-1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if orch.pollCalls != 1 {
		t.Fatalf("expected 1 poll (second served from cache), got %d", orch.pollCalls)
	}
}

func TestCancelTask(t *testing.T) {
	orch := &mockOrch{cancelRes: task.Task{ID: "t-2", Status: task.StatusCancelled}}
	rec := doJSON(t, newTestRouter(orch), http.MethodDelete, "/api/tasks/t-2", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != task.StatusCancelled {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestCancelTaskConflictWhenTerminal(t *testing.T) {
	orch := &mockOrch{cancelErr: task.ErrNotActive}
	rec := doJSON(t, newTestRouter(orch), http.MethodDelete, "/api/tasks/t-2", nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestListHistoryRejectsBadLimit(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockOrch{}), http.MethodGet, "/api/history?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListHistoryAndStats(t *testing.T) {
	orch := &mockOrch{
		history: []task.Task{{ID: "h1", Status: task.StatusCompleted}},
		stats:   task.Stats{Running: 1, Queued: 2, Capacity: 4, HistoryCount: 1},
	}
	router := newTestRouter(orch)

	rec := doJSON(t, router, http.MethodGet, "/api/history?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var hist []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != "h1" {
		t.Fatalf("unexpected history: %+v", hist)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/stats", nil)
	var stats task.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats != orch.stats {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockOrch{}), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}
