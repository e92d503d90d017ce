// Package task defines the background task domain entity and its lifecycle.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Spec describes the workload submitted to the execution backend.
type Spec struct {
	Prompt       string            `json:"prompt"`
	Profile      string            `json:"profile,omitempty"`       // model/tier selector
	MaxSteps     int               `json:"max_steps,omitempty"`     // turn budget, 0 = backend default
	AllowedTools []string          `json:"allowed_tools,omitempty"` // capability allowlist
	Config       map[string]string `json:"config,omitempty"`
}

// Result holds the output of a terminal task.
type Result struct {
	Output    string `json:"output"`
	SessionID string `json:"session_id,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

// Task represents one unit of asynchronous agent work tracked by the system.
// The ID is generated at launch; Name is a caller-supplied label and may
// repeat across tasks.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Spec      Spec       `json:"spec"`
	Status    Status     `json:"status"`
	Result    *Result    `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// DurationMs returns the elapsed wall-clock time in milliseconds, using
// EndTime for terminal tasks and now for active ones.
func (t *Task) DurationMs(now time.Time) int64 {
	end := now
	if t.EndTime != nil {
		end = *t.EndTime
	}
	return end.Sub(t.StartTime).Milliseconds()
}

// LaunchRequest holds the fields needed to launch a new background task.
type LaunchRequest struct {
	Name          string `json:"name,omitempty"`
	Spec          Spec   `json:"spec"`
	MaxDurationMs int64  `json:"max_duration_ms,omitempty"`
}

// PollResponse is the caller-visible snapshot of a task.
type PollResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Status     Status  `json:"status"`
	Result     *Result `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// Stats summarizes manager load for observability.
type Stats struct {
	Running      int `json:"running"`
	Queued       int `json:"queued"`
	Capacity     int `json:"capacity"`
	HistoryCount int `json:"history_count"`
}
