package models

import "time"

// SandboxStatus represents the lifecycle state of a sandbox container.
type SandboxStatus string

const (
	SandboxStatusCreating SandboxStatus = "creating"
	SandboxStatusRunning  SandboxStatus = "running"
	SandboxStatusStopped  SandboxStatus = "stopped"
	SandboxStatusError    SandboxStatus = "error"
)

// Sandbox describes one isolated execution environment. The ID is derived
// from the owning task; a task never shares its sandbox with another task.
type Sandbox struct {
	// ID is the sandbox identifier, derived from the task ID.
	ID string `json:"id"`

	// TaskID is the owning task.
	TaskID string `json:"task_id"`

	// ContainerName is the runtime-level container name.
	ContainerName string `json:"container_name"`

	Status SandboxStatus `json:"status"`

	// Ports maps logical service names (shell, file, browser) to the
	// host-side ports bound by the container runtime.
	Ports map[string]int `json:"ports"`

	CreatedAt time.Time `json:"created_at"`

	// DestroyAt is the deadline for the armed one-shot destruction.
	DestroyAt time.Time `json:"destroy_at"`
}
