// Package execbackend defines the execution backend port: the streaming
// capability that actually runs an agent workload.
package execbackend

import (
	"context"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// MessageType classifies a message received from a backend stream.
type MessageType string

const (
	MessageInit     MessageType = "init"     // session identifier announcement
	MessageProgress MessageType = "progress" // progress notification
	MessagePartial  MessageType = "partial"  // partial content
	MessageFinal    MessageType = "final"    // final content, ends the stream
	MessageError    MessageType = "error"    // backend-side failure, ends the stream
)

// Message is one increment produced by an execution session.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Stream is one open execution session. Messages closes when the session
// ends; Abort instructs the backend to stop early.
type Stream interface {
	// Messages returns the channel of incremental messages. The channel is
	// closed by the backend after a final or error message, or after Abort.
	Messages() <-chan Message

	// Abort tears down the remote session. Safe to call more than once.
	Abort(ctx context.Context) error

	// Close releases local resources (subscriptions, buffers).
	Close() error
}

// Backend is the port interface for opening execution sessions.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "nats").
	Name() string

	// Open starts an execution session for the given task.
	Open(ctx context.Context, taskID string, spec task.Spec) (Stream, error)
}
