package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.launchTaskTool(),
		s.getTaskStatusTool(),
		s.cancelTaskTool(),
		s.getQueueStatsTool(),
		s.listHistoryTool(),
	)
}

func (s *Server) launchTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("launch_task",
		mcplib.WithDescription("Launch a background task; returns its id and admission status (running or queued)"),
		mcplib.WithString("prompt",
			mcplib.Required(),
			mcplib.Description("The workload descriptor for the task"),
		),
		mcplib.WithString("name",
			mcplib.Description("Human-readable label for the task"),
		),
		mcplib.WithString("profile",
			mcplib.Description("Execution profile (model/tier selector)"),
		),
		mcplib.WithNumber("max_steps",
			mcplib.Description("Turn budget for the execution, 0 uses the backend default"),
		),
		mcplib.WithNumber("max_duration_ms",
			mcplib.Description("Per-task wall-clock budget in milliseconds"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLaunchTask}
}

func (s *Server) getTaskStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task_status",
		mcplib.WithDescription("Get the current status of a task, including its result once terminal"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to poll"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTaskStatus}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Request cooperative cancellation of a queued or running task"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to cancel"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelTask}
}

func (s *Server) getQueueStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_queue_stats",
		mcplib.WithDescription("Get running count, queued count, capacity and history size"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetQueueStats}
}

func (s *Server) listHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_history",
		mcplib.WithDescription("List recently finished tasks, most recent first"),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of entries to return (0 returns all retained)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListHistory}
}

func (s *Server) handleLaunchTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return mcplib.NewToolResultError("prompt is required"), nil
	}

	launch := task.LaunchRequest{
		Spec: task.Spec{Prompt: prompt},
	}
	if name, ok := args["name"].(string); ok {
		launch.Name = name
	}
	if profile, ok := args["profile"].(string); ok {
		launch.Spec.Profile = profile
	}
	if steps, ok := args["max_steps"].(float64); ok {
		launch.Spec.MaxSteps = int(steps)
	}
	if dur, ok := args["max_duration_ms"].(float64); ok {
		launch.MaxDurationMs = int64(dur)
	}

	t, err := s.orch.Launch(ctx, launch)
	if err != nil {
		if errors.Is(err, task.ErrQueueOverflow) {
			return mcplib.NewToolResultError("queue overflow: capacity and wait queue are exhausted, retry later"), nil
		}
		return mcplib.NewToolResultErrorFromErr("failed to launch task", err), nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetTaskStatus(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}

	resp, err := s.orch.Poll(taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return mcplib.NewToolResultError(fmt.Sprintf("task %s not found", taskID)), nil
		}
		return mcplib.NewToolResultErrorFromErr("failed to poll task", err), nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal poll response", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCancelTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}

	t, err := s.orch.Cancel(ctx, taskID)
	switch {
	case errors.Is(err, task.ErrNotFound):
		return mcplib.NewToolResultError(fmt.Sprintf("task %s not found", taskID)), nil
	case errors.Is(err, task.ErrNotActive):
		return mcplib.NewToolResultError(fmt.Sprintf("task %s already finished with status %s", taskID, t.Status)), nil
	case err != nil:
		return mcplib.NewToolResultErrorFromErr("failed to cancel task", err), nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetQueueStats(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	data, err := json.Marshal(s.orch.Stats())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal stats", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListHistory(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	limit := 0
	if v, ok := req.GetArguments()["limit"].(float64); ok {
		limit = int(v)
	}

	data, err := json.Marshal(s.orch.History(limit))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal history", err), nil
	}
	return toolResultJSON(string(data)), nil
}
