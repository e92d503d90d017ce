// Package natsexec implements the execution backend port over the message
// queue: task starts and cancels are published as control messages, and the
// per-task stream subject carries the worker's incremental output back.
package natsexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/TaskForge/internal/domain/task"
	"github.com/Strob0t/TaskForge/internal/port/execbackend"
	"github.com/Strob0t/TaskForge/internal/port/messagequeue"
)

// BackendName identifies this backend in the registry.
const BackendName = "nats"

// streamBuffer is the per-task message buffer. Messages beyond it are
// dropped rather than blocking the queue consumer.
const streamBuffer = 256

// Backend opens execution sessions over the message queue.
type Backend struct {
	queue messagequeue.Queue
}

// New creates a queue-backed execution backend.
func New(queue messagequeue.Queue) *Backend {
	return &Backend{queue: queue}
}

// Register wires the backend into the factory registry under BackendName.
func Register(queue messagequeue.Queue) {
	execbackend.Register(BackendName, func(map[string]string) (execbackend.Backend, error) {
		return New(queue), nil
	})
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return BackendName }

// Open subscribes to the task's stream subject, then publishes the start
// message. Subscribing first guarantees no early worker message is lost.
func (b *Backend) Open(ctx context.Context, taskID string, spec task.Spec) (execbackend.Stream, error) {
	s := &stream{
		queue:  b.queue,
		taskID: taskID,
		msgs:   make(chan execbackend.Message, streamBuffer),
	}

	stop, err := b.queue.Subscribe(ctx, messagequeue.StreamSubject(taskID), s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe task stream: %w", err)
	}
	s.stop = stop

	payload := messagequeue.AgentStartPayload{
		TaskID:       taskID,
		Prompt:       spec.Prompt,
		Profile:      spec.Profile,
		MaxSteps:     spec.MaxSteps,
		AllowedTools: spec.AllowedTools,
		Config:       spec.Config,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		stop()
		return nil, fmt.Errorf("marshal start payload: %w", err)
	}
	if err := b.queue.Publish(ctx, messagequeue.SubjectAgentStart, data); err != nil {
		stop()
		return nil, fmt.Errorf("publish start: %w", err)
	}

	return s, nil
}

// stream is one open execution session fed by the queue consumer.
type stream struct {
	queue  messagequeue.Queue
	taskID string
	stop   func()

	mu       sync.Mutex
	closed   bool
	msgs     chan execbackend.Message
	stopOnce sync.Once
}

// handle converts one queue message into a stream message. It never blocks
// the consumer: a full buffer drops the message with a warning. A terminal
// message still closes the stream even when its payload is dropped, so the
// reader sees end-of-stream instead of hanging until the task timer fires.
func (s *stream) handle(_ context.Context, subject string, data []byte) error {
	var p messagequeue.AgentStreamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal stream payload on %s: %w", subject, err)
	}

	msg := execbackend.Message{
		Type:      execbackend.MessageType(p.Type),
		SessionID: p.SessionID,
		Content:   p.Content,
		Error:     p.Error,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.msgs <- msg:
	default:
		slog.Warn("task stream buffer full, dropping message", "task_id", s.taskID, "type", p.Type)
	}
	if msg.Type == execbackend.MessageFinal || msg.Type == execbackend.MessageError {
		s.closed = true
		close(s.msgs)
	}
	return nil
}

// Messages returns the channel of incremental messages.
func (s *stream) Messages() <-chan execbackend.Message { return s.msgs }

// Abort asks the worker to stop the task.
func (s *stream) Abort(ctx context.Context) error {
	data, err := json.Marshal(messagequeue.AgentCancelPayload{TaskID: s.taskID})
	if err != nil {
		return fmt.Errorf("marshal cancel payload: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectAgentCancel, data); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

// Close stops the subscription and closes the message channel.
func (s *stream) Close() error {
	s.stopOnce.Do(s.stop)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
	s.mu.Unlock()
	return nil
}
