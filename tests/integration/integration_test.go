//go:build integration

// Package integration_test runs API-level tests against the full HTTP stack
// wired in simulation mode, so no external services are required.
// Run with: go test -tags=integration ./tests/integration/...
package integration_test

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	tfhttp "github.com/Strob0t/TaskForge/internal/adapter/http"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/middleware"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/service"
	"github.com/Strob0t/TaskForge/internal/store"
)

var testServer *httptest.Server

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.Defaults()
	cfg.Orchestrator.MaxConcurrent = 2
	cfg.Orchestrator.MaxQueueDepth = 4

	sessions := store.New(store.Defaults())
	hub := ws.NewHub("http://localhost")
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	// nil backend: the executor resolves every task through the simulation
	// path, which is exactly what API-level tests need.
	executor := service.NewExecutor(nil, sessions, breaker, hub)
	manager := service.NewManager(ctx, cfg.Orchestrator, sessions, executor, hub)

	handlers := tfhttp.NewHandlers(manager, nil, nil, "integration-test")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tfhttp.SecurityHeaders)
	tfhttp.MountRoutes(r, handlers, hub.HandleWS)

	testServer = httptest.NewServer(r)

	code := m.Run()

	testServer.Close()
	cancel()
	os.Exit(code)
}
