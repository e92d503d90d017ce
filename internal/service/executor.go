package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/port/execbackend"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/store"
)

// abortTimeout bounds the teardown call to the execution backend.
const abortTimeout = 5 * time.Second

// Executor runs a single task to its terminal state. It opens a streaming
// session with the execution backend, classifies incremental messages,
// enforces the per-task and pipeline timeouts, and observes cooperative
// cancellation before consuming each message.
//
// Execution failures never escape Execute as errors; every outcome is
// recorded on the task itself through the session store.
type Executor struct {
	backend execbackend.Backend // nil enables simulation mode
	store   *store.SessionStore
	breaker *resilience.Breaker
	hub     broadcast.Broadcaster
	metrics *tfotel.Metrics
}

// NewExecutor creates an Executor. A nil backend puts the executor into
// simulation mode: tasks complete immediately with a synthesized result
// marked as simulated. A nil hub disables event broadcasting.
func NewExecutor(backend execbackend.Backend, st *store.SessionStore, breaker *resilience.Breaker, hub broadcast.Broadcaster) *Executor {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &Executor{
		backend: backend,
		store:   st,
		breaker: breaker,
		hub:     hub,
	}
}

// SetMetrics attaches metric instruments. Call before the first Execute.
func (e *Executor) SetMetrics(m *tfotel.Metrics) { e.metrics = m }

// Execute drives t to a terminal state and returns its final snapshot.
// It blocks until the task resolves; callers own the goroutine. Cancellation
// arrives through ctx, which the caller wires to the record's cancel handle.
func (e *Executor) Execute(ctx context.Context, t *task.Task, taskTimeout, pipelineTimeout time.Duration) task.Task {
	ctx, span := tfotel.StartTaskSpan(ctx, t.ID, t.Name)
	defer span.End()

	final := e.execute(ctx, t, taskTimeout, pipelineTimeout)

	span.SetAttributes(attribute.String("task.status", string(final.Status)))
	if e.metrics != nil {
		e.metrics.TasksResolved.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(final.Status)),
		))
		e.metrics.TaskDuration.Record(ctx, float64(final.DurationMs(time.Now()))/1000)
	}
	return final
}

func (e *Executor) execute(ctx context.Context, t *task.Task, taskTimeout, pipelineTimeout time.Duration) task.Task {
	e.store.UpdateStatus(t.ID, task.StatusRunning)
	e.broadcastStatus(ctx, t.ID, t.Name, task.StatusRunning, "", 0)

	if e.backend == nil {
		return e.simulate(ctx, t)
	}

	stream, err := e.openStream(ctx, t)
	if err != nil {
		execErr := &task.ExecutionError{Backend: e.backend.Name(), Err: err}
		slog.Error("failed to open execution session", "task_id", t.ID, "error", err)
		return e.complete(ctx, t, task.StatusFailed, nil, execErr.Error())
	}
	defer func() { _ = stream.Close() }()

	return e.consume(ctx, t, stream, taskTimeout, pipelineTimeout)
}

// openStream opens the backend session behind the circuit breaker.
func (e *Executor) openStream(ctx context.Context, t *task.Task) (execbackend.Stream, error) {
	var stream execbackend.Stream
	open := func() error {
		s, err := e.backend.Open(ctx, t.ID, t.Spec)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}
	if e.breaker == nil {
		return stream, open()
	}
	if err := e.breaker.Execute(open); err != nil {
		return nil, err
	}
	return stream, nil
}

// consume iterates the message stream until a terminal condition: a final or
// error message, stream closure, cancellation, or one of the two timers.
func (e *Executor) consume(ctx context.Context, t *task.Task, stream execbackend.Stream, taskTimeout, pipelineTimeout time.Duration) task.Task {
	taskTimer := time.NewTimer(taskTimeout)
	defer taskTimer.Stop()
	pipelineTimer := time.NewTimer(pipelineTimeout)
	defer pipelineTimer.Stop()

	var output strings.Builder
	sessionID := ""

	for {
		select {
		case <-ctx.Done():
			e.abort(stream)
			return e.complete(ctx, t, task.StatusCancelled, nil, "cancelled")

		case <-taskTimer.C:
			slog.Warn("task exceeded its time budget", "task_id", t.ID, "timeout", taskTimeout)
			e.abort(stream)
			return e.complete(ctx, t, task.StatusTimedOut, nil, task.ErrTaskTimeout.Error())

		case <-pipelineTimer.C:
			slog.Warn("task exceeded the pipeline time budget", "task_id", t.ID, "timeout", pipelineTimeout)
			e.abort(stream)
			return e.complete(ctx, t, task.StatusTimedOut, nil, task.ErrPipelineTimeout.Error())

		case msg, ok := <-stream.Messages():
			if !ok {
				execErr := &task.ExecutionError{
					Backend: e.backend.Name(),
					Err:     errors.New("stream closed before final message"),
				}
				return e.complete(ctx, t, task.StatusFailed, nil, execErr.Error())
			}

			switch msg.Type {
			case execbackend.MessageInit:
				sessionID = msg.SessionID
				e.hub.BroadcastEvent(ctx, ws.EventTaskProgress, ws.TaskProgressEvent{
					TaskID:    t.ID,
					SessionID: sessionID,
				})

			case execbackend.MessageProgress:
				e.hub.BroadcastEvent(ctx, ws.EventTaskProgress, ws.TaskProgressEvent{
					TaskID:    t.ID,
					SessionID: sessionID,
					Content:   msg.Content,
				})

			case execbackend.MessagePartial:
				output.WriteString(msg.Content)
				e.hub.BroadcastEvent(ctx, ws.EventTaskOutput, ws.TaskOutputEvent{
					TaskID:  t.ID,
					Content: msg.Content,
				})

			case execbackend.MessageFinal:
				output.WriteString(msg.Content)
				res := &task.Result{Output: output.String(), SessionID: sessionID}
				return e.complete(ctx, t, task.StatusCompleted, res, "")

			case execbackend.MessageError:
				execErr := &task.ExecutionError{
					Backend: e.backend.Name(),
					Err:     errors.New(msg.Error),
				}
				return e.complete(ctx, t, task.StatusFailed, nil, execErr.Error())

			default:
				slog.Debug("ignoring unknown stream message", "task_id", t.ID, "type", msg.Type)
			}
		}
	}
}

// simulate resolves the task without a live backend: an immediate completed
// result echoing the workload, clearly marked as simulated.
func (e *Executor) simulate(ctx context.Context, t *task.Task) task.Task {
	if ctx.Err() != nil {
		return e.complete(ctx, t, task.StatusCancelled, nil, "cancelled")
	}
	res := &task.Result{
		Output:    fmt.Sprintf("[simulation] no execution backend configured; task %q acknowledged: %s", t.Name, t.Spec.Prompt),
		Simulated: true,
	}
	return e.complete(ctx, t, task.StatusCompleted, res, "")
}

// abort tears down the backend session with a bounded, detached context:
// the task's own context is usually already cancelled at this point.
func (e *Executor) abort(stream execbackend.Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := stream.Abort(ctx); err != nil {
		slog.Warn("failed to abort execution session", "error", err)
	}
}

// complete records the terminal transition exactly once and broadcasts it.
// When another path (sweep, direct cancel) already completed the record,
// the existing snapshot wins.
func (e *Executor) complete(ctx context.Context, t *task.Task, st task.Status, res *task.Result, errMsg string) task.Task {
	final, ok := e.store.Complete(t.ID, st, res, errMsg)
	if !ok {
		if snap, found := e.store.Get(t.ID); found {
			return snap
		}
		return *t
	}

	slog.Info("task resolved",
		"task_id", final.ID,
		"name", final.Name,
		"status", final.Status,
		"duration_ms", final.DurationMs(time.Now()),
	)
	e.broadcastStatus(ctx, final.ID, final.Name, final.Status, final.Error, final.DurationMs(time.Now()))
	return final
}

func (e *Executor) broadcastStatus(ctx context.Context, id, name string, st task.Status, errMsg string, durationMs int64) {
	e.hub.BroadcastEvent(context.WithoutCancel(ctx), ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:     id,
		Name:       name,
		Status:     string(st),
		Error:      errMsg,
		DurationMs: durationMs,
	})
}
