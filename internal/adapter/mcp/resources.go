package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"taskforge://stats",
			"Queue Statistics",
			mcplib.WithResourceDescription("Current orchestrator load: running, queued, capacity, history size"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"taskforge://history",
			"Task History",
			mcplib.WithResourceDescription("Recently finished tasks, most recent first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleHistoryResource,
	)
}

func (s *Server) handleStatsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(s.orch.Stats())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleHistoryResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(s.orch.History(0))
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
