package config

import "time"

// SandboxConfig configures per-task container sandboxes.
type SandboxConfig struct {
	// Image is the container image running the in-sandbox services.
	Image string `yaml:"image"`

	// BuildContext, when set, is a directory with a Dockerfile used to
	// build Image lazily if it is absent from the local daemon.
	BuildContext string `yaml:"build_context"`

	// Network is the container network mode. Sandboxes get bridged
	// egress; isolation is enforced by the in-sandbox services, not by
	// cutting the network.
	Network string `yaml:"network"`

	// WorkSize and TmpSize size the writable tmpfs mounts. The root
	// filesystem is read-only.
	WorkSize string `yaml:"work_size"`
	TmpSize  string `yaml:"tmp_size"`

	CPULimit      float64 `yaml:"cpu_limit"`
	MemoryLimitMB int     `yaml:"memory_limit_mb"`
	PidsLimit     int     `yaml:"pids_limit"`

	// TTL is the deferred-destroy deadline armed at create time. A
	// sandbox that outlives it is destroyed regardless of task state.
	TTL time.Duration `yaml:"ttl"`

	// DestroyTimeout bounds each of the stop and remove operations.
	DestroyTimeout time.Duration `yaml:"destroy_timeout"`

	// Health probing after container start: attempts at a fixed
	// interval until every service responds.
	HealthProbeAttempts int           `yaml:"health_probe_attempts"`
	HealthProbeInterval time.Duration `yaml:"health_probe_interval"`

	// Browser exposes the in-sandbox browser service port.
	Browser bool `yaml:"browser"`
}
