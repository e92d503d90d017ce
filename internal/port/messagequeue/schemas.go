package messagequeue

// AgentStartPayload is the schema for agents.start messages.
type AgentStartPayload struct {
	TaskID       string            `json:"task_id"`
	Prompt       string            `json:"prompt"`
	Profile      string            `json:"profile,omitempty"`
	MaxSteps     int               `json:"max_steps,omitempty"`
	AllowedTools []string          `json:"allowed_tools,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
}

// AgentStreamPayload is the schema for agents.stream.{taskID} messages.
// Type is one of init, progress, partial, final, error.
type AgentStreamPayload struct {
	TaskID    string `json:"task_id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentCancelPayload is the schema for agents.cancel messages.
type AgentCancelPayload struct {
	TaskID string `json:"task_id"`
}
