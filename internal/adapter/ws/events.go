package ws

// Event types pushed to WebSocket clients.
const (
	EventTaskStatus   = "task.status"
	EventTaskProgress = "task.progress"
	EventTaskOutput   = "task.output"
	EventQueueStats   = "queue.stats"
)

// Envelope wraps every outbound WebSocket message.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TaskStatusEvent is broadcast on every status transition of a task.
type TaskStatusEvent struct {
	TaskID     string `json:"task_id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// TaskProgressEvent is broadcast when the execution backend reports progress.
type TaskProgressEvent struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TaskOutputEvent carries incremental output content from a running task.
type TaskOutputEvent struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

// QueueStatsEvent is a periodic load snapshot for dashboards.
type QueueStatsEvent struct {
	Running      int `json:"running"`
	Queued       int `json:"queued"`
	Capacity     int `json:"capacity"`
	HistoryCount int `json:"history_count"`
}
