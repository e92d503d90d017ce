package task

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested task does not exist in the active
// table or the history log.
var ErrNotFound = errors.New("task not found")

// ErrQueueOverflow indicates admission was rejected because both the
// running capacity and the wait queue are exhausted.
var ErrQueueOverflow = errors.New("task queue overflow")

// ErrTaskTimeout indicates the per-task wall-clock budget was exceeded.
var ErrTaskTimeout = errors.New("task timeout exceeded")

// ErrPipelineTimeout indicates the pipeline-wide wall-clock budget was exceeded.
var ErrPipelineTimeout = errors.New("pipeline timeout exceeded")

// ErrNotActive indicates a cancel was requested for a task that already
// reached a terminal state.
var ErrNotActive = errors.New("task is not active")

// ErrEmptyPrompt indicates a launch request with no workload descriptor.
var ErrEmptyPrompt = errors.New("task prompt must not be empty")

// ExecutionError wraps a failure raised by the execution backend.
type ExecutionError struct {
	Backend string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent execution failed (backend %s): %v", e.Backend, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
