package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TASKFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKFORGE_CORS_ORIGIN")
	setFloat(&cfg.Server.RateLimitRPS, "TASKFORGE_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "TASKFORGE_RATE_LIMIT_BURST")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TASKFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKFORGE_LOG_ASYNC")

	setInt(&cfg.Orchestrator.MaxConcurrent, "TASKFORGE_MAX_CONCURRENT")
	setInt(&cfg.Orchestrator.MaxQueueDepth, "TASKFORGE_MAX_QUEUE_DEPTH")
	setDuration(&cfg.Orchestrator.DefaultTaskTimeout, "TASKFORGE_TASK_TIMEOUT")
	setDuration(&cfg.Orchestrator.PipelineTimeout, "TASKFORGE_PIPELINE_TIMEOUT")

	setDuration(&cfg.Store.SweepInterval, "TASKFORGE_SWEEP_INTERVAL")
	setDuration(&cfg.Store.MaxTaskLifetime, "TASKFORGE_MAX_TASK_LIFETIME")
	setDuration(&cfg.Store.HistoryRetention, "TASKFORGE_HISTORY_RETENTION")
	setInt(&cfg.Store.HistoryMaxEntries, "TASKFORGE_HISTORY_MAX_ENTRIES")

	setInt64(&cfg.Cache.L1MaxSizeMB, "TASKFORGE_CACHE_L1_SIZE_MB")

	setInt(&cfg.Breaker.MaxFailures, "TASKFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKFORGE_BREAKER_TIMEOUT")

	setBool(&cfg.MCP.Enabled, "TASKFORGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "TASKFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "TASKFORGE_MCP_API_KEY")

	setBool(&cfg.Otel.Enabled, "TASKFORGE_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate rejects configurations that cannot produce a working service.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server port must not be empty")
	}
	if cfg.Server.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must be >= 0, got %g", cfg.Server.RateLimitRPS)
	}
	if cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst < 1 {
		return fmt.Errorf("rate_limit_burst must be >= 1 when rate limiting is on, got %d", cfg.Server.RateLimitBurst)
	}
	if cfg.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.MaxQueueDepth < 0 {
		return fmt.Errorf("max_queue_depth must be >= 0, got %d", cfg.Orchestrator.MaxQueueDepth)
	}
	if cfg.Orchestrator.DefaultTaskTimeout <= 0 {
		return errors.New("default_task_timeout must be positive")
	}
	if cfg.Orchestrator.PipelineTimeout < cfg.Orchestrator.DefaultTaskTimeout {
		return errors.New("pipeline_timeout must not be shorter than default_task_timeout")
	}
	if cfg.Store.HistoryMaxEntries < 1 {
		return fmt.Errorf("history_max_entries must be >= 1, got %d", cfg.Store.HistoryMaxEntries)
	}
	return nil
}

// --- env setters ---

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
