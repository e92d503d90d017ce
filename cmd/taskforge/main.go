package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	tfhttp "github.com/Strob0t/TaskForge/internal/adapter/http"
	"github.com/Strob0t/TaskForge/internal/adapter/mcp"
	tfnats "github.com/Strob0t/TaskForge/internal/adapter/nats"
	"github.com/Strob0t/TaskForge/internal/adapter/natsexec"
	tfotel "github.com/Strob0t/TaskForge/internal/adapter/otel"
	"github.com/Strob0t/TaskForge/internal/adapter/ristretto"
	"github.com/Strob0t/TaskForge/internal/adapter/ws"
	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/logger"
	"github.com/Strob0t/TaskForge/internal/middleware"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
	"github.com/Strob0t/TaskForge/internal/port/execbackend"
	"github.com/Strob0t/TaskForge/internal/port/messagequeue"
	"github.com/Strob0t/TaskForge/internal/resilience"
	"github.com/Strob0t/TaskForge/internal/service"
	"github.com/Strob0t/TaskForge/internal/store"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent", cfg.Orchestrator.MaxConcurrent,
		"max_queue_depth", cfg.Orchestrator.MaxQueueDepth,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	if cfg.Otel.Enabled {
		shutdown, err := tfotel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// --- Execution plane ---
	// An empty NATS URL runs the orchestrator in simulation mode: tasks
	// resolve immediately with synthesized results.
	var queue messagequeue.Queue
	var backend execbackend.Backend
	if cfg.NATS.URL != "" {
		q, err := tfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q

		natsexec.Register(q)
		backend, err = execbackend.New(natsexec.BackendName, nil)
		if err != nil {
			return fmt.Errorf("execution backend: %w", err)
		}
	} else {
		slog.Warn("no NATS URL configured, running in simulation mode")
	}

	// --- Core services ---
	sessions := store.New(store.Config{
		MaxTaskLifetime:   cfg.Store.MaxTaskLifetime,
		HistoryRetention:  cfg.Store.HistoryRetention,
		HistoryMaxEntries: cfg.Store.HistoryMaxEntries,
		SweepInterval:     cfg.Store.SweepInterval,
	})
	go sessions.RunSweeper(ctx)

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	var caster broadcast.Broadcaster = hub

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	executor := service.NewExecutor(backend, sessions, breaker, caster)
	manager := service.NewManager(ctx, cfg.Orchestrator, sessions, executor, caster)

	if cfg.Otel.Enabled {
		metrics, err := tfotel.NewMetrics(func() (int, int) {
			s := manager.Stats()
			return s.Running, s.Queued
		})
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		executor.SetMetrics(metrics)
		manager.SetMetrics(metrics)
	}

	// --- Caching ---
	cacheStore, err := ristretto.New(cfg.Cache.L1MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheStore.Close()

	// --- HTTP ---
	handlers := tfhttp.NewHandlers(manager, queue, cacheStore, version)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Server.RateLimitRPS > 0 {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		rl.StartCleanup(ctx, time.Minute, 10*time.Minute)
		r.Use(rl.Handler)
	}
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tfhttp.SecurityHeaders)
	r.Use(tfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Idempotency(cacheStore, 10*time.Minute))
	if cfg.Otel.Enabled {
		r.Use(tfotel.HTTPMiddleware(cfg.Logging.Service))
	}

	tfhttp.MountRoutes(r, handlers, hub.HandleWS)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // long-poll waits stream until the client goes away
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, manager)
		g.Go(func() error {
			if err := mcpSrv.Start(); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown failed", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
