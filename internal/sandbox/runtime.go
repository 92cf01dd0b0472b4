package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes container runtime commands. The production runner
// shells out to the docker CLI; tests substitute a fake.
type Runner interface {
	// Run executes the runtime binary with args and returns its
	// stdout. A non-zero exit returns an error carrying the stderr
	// tail.
	Run(ctx context.Context, args ...string) (string, error)
}

// dockerRunner shells out to the docker CLI. Driving the CLI instead
// of the daemon API keeps the runtime swappable (podman exposes the
// same surface) and the dependency footprint small.
type dockerRunner struct {
	binary string
}

// NewDockerRunner returns a Runner backed by the docker binary.
func NewDockerRunner() Runner {
	return &dockerRunner{binary: "docker"}
}

func (d *dockerRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s %s: %w", d.binary, args[0], ctx.Err())
		}
		if detail != "" {
			return "", fmt.Errorf("%s %s: %w: %s", d.binary, args[0], err, lastLines(detail, 3))
		}
		return "", fmt.Errorf("%s %s: %w", d.binary, args[0], err)
	}
	return stdout.String(), nil
}

// lastLines keeps the tail of multi-line CLI noise; the final lines
// carry the actual failure.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return strings.Join(lines, " | ")
	}
	return strings.Join(lines[len(lines)-n:], " | ")
}
