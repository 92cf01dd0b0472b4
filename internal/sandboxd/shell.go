package sandboxd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/policy"
	"github.com/golemhq/golem/internal/sandbox"
)

// ShellOptions configures the shell service.
type ShellOptions struct {
	// WorkDir is the default working directory for commands.
	WorkDir string

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration

	// MaxTimeout caps the per-command timeout a request may ask for.
	MaxTimeout time.Duration
}

// ShellService executes commands inside the container. Every command
// passes the policy blocklist first, runs under a bounded context, and
// has its output truncated before it leaves the service.
type ShellService struct {
	opts   ShellOptions
	logger *observability.Logger
}

// NewShellService creates the shell service.
func NewShellService(opts ShellOptions, logger *observability.Logger) *ShellService {
	if opts.WorkDir == "" {
		opts.WorkDir = policy.WorkRoot
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &ShellService{opts: opts, logger: logger}
}

// Handler returns the service's HTTP routes.
func (s *ShellService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func (s *ShellService) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.ShellResponse{
			ExitCode: -1, Error: "method not allowed",
		})
		return
	}

	var req sandbox.ShellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.ShellResponse{
			ExitCode: -1, Error: "invalid request body: " + err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeJSON(w, http.StatusBadRequest, sandbox.ShellResponse{
			ExitCode: -1, Error: "command is required",
		})
		return
	}

	if err := policy.CheckCommand(req.Command); err != nil {
		s.logger.Warn(r.Context(), "command blocked", "error", err)
		writeJSON(w, http.StatusForbidden, sandbox.ShellResponse{
			ExitCode: -1, Error: err.Error(),
		})
		return
	}

	cwd := s.opts.WorkDir
	if req.Cwd != "" {
		resolved, err := policy.ResolvePath(req.Cwd)
		if err != nil {
			writeJSON(w, http.StatusForbidden, sandbox.ShellResponse{
				ExitCode: -1, Error: "cwd: " + err.Error(),
			})
			return
		}
		cwd = resolved
	}

	timeout := s.timeout(req.Timeout)
	resp := s.run(r.Context(), req.Command, cwd, timeout)
	writeJSON(w, http.StatusOK, resp)
}

func (s *ShellService) timeout(requested float64) time.Duration {
	if requested <= 0 {
		return s.opts.DefaultTimeout
	}
	timeout := time.Duration(requested * float64(time.Second))
	if timeout > s.opts.MaxTimeout {
		return s.opts.MaxTimeout
	}
	return timeout
}

func (s *ShellService) run(ctx context.Context, command, cwd string, timeout time.Duration) sandbox.ShellResponse {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	// The command runs in its own process group so a timeout kills the
	// whole tree, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug(ctx, "command finished",
		"cwd", cwd,
		"duration_ms", time.Since(start).Milliseconds(),
		"failed", err != nil)

	resp := sandbox.ShellResponse{
		Stdout: policy.TruncateOutput(stdout.String()),
		Stderr: policy.TruncateOutput(stderr.String()),
	}

	switch {
	case err == nil:
		resp.Success = true
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		resp.ExitCode = -1
		resp.Error = fmt.Sprintf("command timed out after %s", timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			resp.ExitCode = exitErr.ExitCode()
		} else {
			resp.ExitCode = -1
		}
		resp.Error = err.Error()
	}
	return resp
}
