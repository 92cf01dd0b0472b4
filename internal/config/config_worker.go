package config

import "time"

// WorkerConfig configures the task worker pool.
type WorkerConfig struct {
	// Concurrency is the number of tasks executed in parallel.
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts is the per-job retry budget, including the first try.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffMax shape the exponential delay between
	// attempts.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// StepTimeout is the default timeout applied to a single tool
	// invocation when the step does not carry its own.
	StepTimeout time.Duration `yaml:"step_timeout"`
}
