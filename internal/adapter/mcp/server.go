// Package mcp exposes the task orchestrator over the Model Context Protocol,
// so AI agents can launch, inspect and cancel background tasks as tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// Orchestrator is the subset of the background manager the MCP surface uses.
type Orchestrator interface {
	Launch(ctx context.Context, req task.LaunchRequest) (task.Task, error)
	Poll(id string) (task.PollResponse, error)
	Cancel(ctx context.Context, id string) (task.Task, error)
	Stats() task.Stats
	History(limit int) []task.Task
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string // empty disables auth
}

// Server serves MCP tools and resources over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	orch      Orchestrator
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, orch Orchestrator) *Server {
	if cfg.Name == "" {
		cfg.Name = "taskforge"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:  cfg,
		orch: orch,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Start serves MCP over streamable HTTP until Stop is called.
func (s *Server) Start() error {
	handler := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("mcp server listening", "addr", s.cfg.Addr, "auth", s.cfg.APIKey != "")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the MCP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// toolResultJSON wraps a JSON string as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
