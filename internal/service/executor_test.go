package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/execbackend"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/store"
)

// fakeStream is a scriptable execution stream for tests.
type fakeStream struct {
	ch        chan execbackend.Message
	abortOnce sync.Once
	aborted   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		ch:      make(chan execbackend.Message, 16),
		aborted: make(chan struct{}),
	}
}

func (s *fakeStream) Messages() <-chan execbackend.Message { return s.ch }

func (s *fakeStream) Abort(context.Context) error {
	s.abortOnce.Do(func() { close(s.aborted) })
	return nil
}

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) send(mt execbackend.MessageType, content string) {
	s.ch <- execbackend.Message{Type: mt, Content: content}
}

// fakeBackend records one stream per task id.
type fakeBackend struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	openErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{streams: make(map[string]*fakeStream)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(_ context.Context, taskID string, _ task.Spec) (execbackend.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := newFakeStream()
	b.streams[taskID] = s
	return s, nil
}

// stream waits for the backend to open a session for the given task.
func (b *fakeBackend) stream(t *testing.T, taskID string) *fakeStream {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		s := b.streams[taskID]
		b.mu.Unlock()
		if s != nil {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no stream opened for task %s", taskID)
	return nil
}

func newTestTask(id string) *task.Task {
	return &task.Task{
		ID:        id,
		Name:      "test",
		Spec:      task.Spec{Prompt: "do something"},
		Status:    task.StatusQueued,
		StartTime: time.Now(),
	}
}

func TestExecuteAccumulatesPartialAndFinalContent(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t1")
	st.Put(tk)

	go func() {
		s := backend.stream(t, "t1")
		s.ch <- execbackend.Message{Type: execbackend.MessageInit, SessionID: "sess-9"}
		s.send(execbackend.MessagePartial, "hello ")
		s.send(execbackend.MessageProgress, "thinking")
		s.send(execbackend.MessagePartial, "world")
		s.send(execbackend.MessageFinal, "!")
	}()

	final := exec.Execute(context.Background(), tk, time.Second, 5*time.Second)

	if final.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.Error)
	}
	if final.Result == nil || final.Result.Output != "hello world!" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
	if final.Result.SessionID != "sess-9" {
		t.Fatalf("expected session id sess-9, got %q", final.Result.SessionID)
	}
	if final.EndTime == nil {
		t.Fatal("expected end time on terminal task")
	}
}

func TestExecuteErrorMessageFailsTask(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t2")
	st.Put(tk)

	go func() {
		s := backend.stream(t, "t2")
		s.ch <- execbackend.Message{Type: execbackend.MessageError, Error: "model refused"}
	}()

	final := exec.Execute(context.Background(), tk, time.Second, 5*time.Second)

	if final.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "model refused") || !strings.Contains(final.Error, "fake") {
		t.Fatalf("expected wrapped backend error, got %q", final.Error)
	}
}

func TestExecuteStreamClosureWithoutFinalFails(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t3")
	st.Put(tk)

	go func() {
		s := backend.stream(t, "t3")
		s.send(execbackend.MessagePartial, "half")
		close(s.ch)
	}()

	final := exec.Execute(context.Background(), tk, time.Second, 5*time.Second)

	if final.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "stream closed") {
		t.Fatalf("unexpected error: %q", final.Error)
	}
}

func TestExecuteOpenFailureFailsTask(t *testing.T) {
	backend := newFakeBackend()
	backend.openErr = errors.New("connection refused")
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t4")
	st.Put(tk)

	final := exec.Execute(context.Background(), tk, time.Second, 5*time.Second)

	if final.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "connection refused") {
		t.Fatalf("unexpected error: %q", final.Error)
	}
}

func TestExecuteCancellationAbortsSession(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t5")
	st.Put(tk)

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan task.Task, 1)
	go func() {
		resultCh <- exec.Execute(ctx, tk, time.Minute, time.Hour)
	}()

	s := backend.stream(t, "t5")
	cancel()

	final := <-resultCh
	if final.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}

	select {
	case <-s.aborted:
	case <-time.After(time.Second):
		t.Fatal("expected the backend session to be aborted")
	}
}

func TestExecuteTaskTimeout(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t6")
	st.Put(tk)

	start := time.Now()
	final := exec.Execute(context.Background(), tk, 50*time.Millisecond, time.Hour)

	if final.Status != task.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", final.Status)
	}
	if final.Error != task.ErrTaskTimeout.Error() {
		t.Fatalf("unexpected error: %q", final.Error)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestExecutePipelineTimeoutFiresFirst(t *testing.T) {
	backend := newFakeBackend()
	st := store.New(store.Defaults())
	exec := NewExecutor(backend, st, nil, nil)

	tk := newTestTask("t7")
	st.Put(tk)

	final := exec.Execute(context.Background(), tk, time.Hour, 30*time.Millisecond)

	if final.Status != task.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", final.Status)
	}
	if final.Error != task.ErrPipelineTimeout.Error() {
		t.Fatalf("unexpected error: %q", final.Error)
	}
}

func TestExecuteSimulationWithoutBackend(t *testing.T) {
	st := store.New(store.Defaults())
	exec := NewExecutor(nil, st, nil, nil)

	tk := newTestTask("t8")
	st.Put(tk)

	final := exec.Execute(context.Background(), tk, time.Second, time.Minute)

	if final.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Result == nil || !final.Result.Simulated {
		t.Fatalf("expected simulated result, got %+v", final.Result)
	}
	if !strings.Contains(final.Result.Output, "do something") {
		t.Fatalf("expected the prompt echoed back, got %q", final.Result.Output)
	}
}

func TestExecuteBreakerOpenShortCircuits(t *testing.T) {
	backend := newFakeBackend()
	backend.openErr = errors.New("broker down")
	st := store.New(store.Defaults())
	breaker := resilience.NewBreaker(1, time.Minute)
	exec := NewExecutor(backend, st, breaker, nil)

	t1 := newTestTask("t9")
	st.Put(t1)
	exec.Execute(context.Background(), t1, time.Second, time.Minute)

	if breaker.State() != "open" {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}

	t2 := newTestTask("t10")
	st.Put(t2)
	final := exec.Execute(context.Background(), t2, time.Second, time.Minute)

	if final.Status != task.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, resilience.ErrCircuitOpen.Error()) {
		t.Fatalf("expected circuit-open error, got %q", final.Error)
	}
}
