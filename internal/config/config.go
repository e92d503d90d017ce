// Package config provides hierarchical configuration loading for TaskForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the TaskForge service.
type Config struct {
	Server       Server       `yaml:"server"`
	NATS         NATS         `yaml:"nats"`
	Logging      Logging      `yaml:"logging"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Store        Store        `yaml:"store"`
	Cache        Cache        `yaml:"cache"`
	Breaker      Breaker      `yaml:"breaker"`
	MCP          MCP          `yaml:"mcp"`
	Otel         Otel         `yaml:"otel"`
}

// Server holds HTTP server configuration. A RateLimitRPS of 0 disables
// per-client rate limiting.
type Server struct {
	Port           string  `yaml:"port"`
	CORSOrigin     string  `yaml:"cors_origin"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the live
// execution plane; tasks then resolve through the simulation path.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Orchestrator holds background manager admission configuration.
type Orchestrator struct {
	MaxConcurrent      int           `yaml:"max_concurrent"`       // running-slot capacity (default: 4)
	MaxQueueDepth      int           `yaml:"max_queue_depth"`      // bounded FIFO wait queue (default: 16)
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"` // per-task wall-clock ceiling (default: 5m)
	PipelineTimeout    time.Duration `yaml:"pipeline_timeout"`     // whole-exchange ceiling (default: 30m)
}

// Store holds session store retention configuration.
type Store struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`      // default: 10m
	MaxTaskLifetime   time.Duration `yaml:"max_task_lifetime"`   // default: 1h
	HistoryRetention  time.Duration `yaml:"history_retention"`   // default: 24h
	HistoryMaxEntries int           `yaml:"history_max_entries"` // default: 512
}

// Cache holds in-process cache configuration.
type Cache struct {
	L1MaxSizeMB int64 `yaml:"l1_max_size_mb"`
}

// Breaker holds circuit breaker configuration for the execution plane.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// Otel holds OpenTelemetry exporter configuration.
type Otel struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8080",
			CORSOrigin:     "http://localhost:3000",
			RateLimitRPS:   25,
			RateLimitBurst: 50,
		},
		NATS: NATS{
			URL: "", // simulation mode unless configured
		},
		Logging: Logging{
			Level:   "info",
			Service: "taskforge",
		},
		Orchestrator: Orchestrator{
			MaxConcurrent:      4,
			MaxQueueDepth:      16,
			DefaultTaskTimeout: 5 * time.Minute,
			PipelineTimeout:    30 * time.Minute,
		},
		Store: Store{
			SweepInterval:     10 * time.Minute,
			MaxTaskLifetime:   time.Hour,
			HistoryRetention:  24 * time.Hour,
			HistoryMaxEntries: 512,
		},
		Cache: Cache{
			L1MaxSizeMB: 64,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		MCP: MCP{
			Enabled: false,
			Addr:    ":3001",
		},
		Otel: Otel{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}
}
