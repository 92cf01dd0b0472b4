// Package config loads and validates the Golem configuration.
//
// Configuration is YAML (JSON5 accepted for .json/.json5 files) with
// environment variable expansion and $include composition. Unknown keys
// are rejected so typos fail at startup instead of silently using
// defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Golem engine and gateway.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Store   StoreConfig   `yaml:"store"`
	Queue   QueueConfig   `yaml:"queue"`
	LLM     LLMConfig     `yaml:"llm"`
	Critic  CriticConfig  `yaml:"critic"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// DefaultConfig returns the configuration used when no file is given.
// Loaded files are decoded over these values, so absent keys keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "golem",
			SampleRatio: 1.0,
			Insecure:    true,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "golem.db",
		},
		Queue: QueueConfig{
			Driver: "memory",
			Buffer: 100,
		},
		LLM: LLMConfig{
			Provider:     "openai",
			PlannerModel: "gpt-4o",
			CriticModel:  "gpt-4o-mini",
			Temperature:  0.2,
			MaxTokens:    4096,
			Timeout:      60 * time.Second,
			MaxRetries:   3,
		},
		Critic: CriticConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			MaxCorrections:      3,
		},
		Sandbox: SandboxConfig{
			Image:               "golem-sandbox:latest",
			Network:             "bridge",
			WorkSize:            "512m",
			TmpSize:             "64m",
			CPULimit:            1.0,
			MemoryLimitMB:       1024,
			PidsLimit:           256,
			TTL:                 time.Hour,
			DestroyTimeout:      10 * time.Second,
			HealthProbeAttempts: 30,
			HealthProbeInterval: time.Second,
			Browser:             true,
		},
		Worker: WorkerConfig{
			Concurrency: 5,
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
			StepTimeout: 30 * time.Second,
		},
	}
}

// Load reads the configuration file at path, decodes it over the
// defaults, and validates the result. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		if err := decodeRawConfig(raw, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that the YAML decoder cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite", c.Store.Driver)
	}
	if c.Queue.Driver != "memory" {
		return fmt.Errorf("queue.driver %q is not supported", c.Queue.Driver)
	}
	if c.Queue.Buffer < 1 {
		return fmt.Errorf("queue.buffer must be positive")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q is not one of openai, anthropic", c.LLM.Provider)
	}
	if c.LLM.PlannerModel == "" {
		return fmt.Errorf("llm.planner_model is required")
	}
	if c.LLM.CriticModel == "" {
		return fmt.Errorf("llm.critic_model is required")
	}
	if c.Critic.ConfidenceThreshold < 0 || c.Critic.ConfidenceThreshold > 1 {
		return fmt.Errorf("critic.confidence_threshold %v out of range [0,1]", c.Critic.ConfidenceThreshold)
	}
	if c.Critic.MaxCorrections < 0 {
		return fmt.Errorf("critic.max_corrections must not be negative")
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required")
	}
	if c.Sandbox.TTL <= 0 {
		return fmt.Errorf("sandbox.ttl must be positive")
	}
	if c.Sandbox.HealthProbeAttempts < 1 {
		return fmt.Errorf("sandbox.health_probe_attempts must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if c.Worker.StepTimeout <= 0 {
		return fmt.Errorf("worker.step_timeout must be positive")
	}
	return nil
}
