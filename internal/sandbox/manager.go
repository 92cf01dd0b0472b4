package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/engine"
	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/pkg/models"
)

// ErrSandboxNotFound is returned by Get for unknown sandbox IDs.
var ErrSandboxNotFound = errors.New("sandbox not found")

// hostAddr is where the runtime binds the published service ports.
// Binding to loopback keeps sandbox services unreachable from off-host.
const hostAddr = "127.0.0.1"

type entry struct {
	sandbox *models.Sandbox
	timer   *time.Timer
}

// Manager owns the sandbox lookup table and the container lifecycle.
// One sandbox per task: Create at task start, Destroy on every exit
// path, plus a TTL timer so a crashed worker cannot leak containers.
//
// All methods are safe for concurrent use.
type Manager struct {
	config  config.SandboxConfig
	runner  Runner
	client  *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	sandboxes  map[string]*entry
	imageReady bool
}

// NewManager creates a sandbox manager. runner defaults to the docker
// CLI when nil.
func NewManager(cfg config.SandboxConfig, runner Runner, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if runner == nil {
		runner = NewDockerRunner()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if cfg.Image == "" {
		cfg.Image = "golem-sandbox:latest"
	}
	if cfg.Network == "" {
		cfg.Network = "bridge"
	}
	if cfg.WorkSize == "" {
		cfg.WorkSize = "512m"
	}
	if cfg.TmpSize == "" {
		cfg.TmpSize = "64m"
	}
	if cfg.CPULimit <= 0 {
		cfg.CPULimit = 1.0
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 1024
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = 10 * time.Second
	}
	if cfg.HealthProbeAttempts <= 0 {
		cfg.HealthProbeAttempts = 30
	}
	if cfg.HealthProbeInterval <= 0 {
		cfg.HealthProbeInterval = time.Second
	}
	return &Manager{
		config:    cfg,
		runner:    runner,
		client:    &http.Client{},
		logger:    logger,
		metrics:   metrics,
		sandboxes: make(map[string]*entry),
	}
}

// Create provisions a sandbox for the task: reap any stale container
// left by a previous run, start a locked-down container with the
// service ports published on loopback, discover the host port map,
// probe every service healthy, and arm the TTL destroy timer.
func (m *Manager) Create(ctx context.Context, taskID string) (*models.Sandbox, error) {
	start := time.Now()
	sb, err := m.create(ctx, taskID)
	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordSandboxCreate(status, time.Since(start).Seconds())
	}
	return sb, err
}

func (m *Manager) create(ctx context.Context, taskID string) (*models.Sandbox, error) {
	sandboxID := "sbx-" + taskID
	containerName := "golem-" + sandboxID
	ctx = observability.WithSandboxID(ctx, sandboxID)

	if err := m.ensureImage(ctx); err != nil {
		return nil, engine.NewSandboxError("create", "sandbox image unavailable", err)
	}

	// A container with this name can only be debris from a crashed
	// run; the task ID is unique per task.
	if _, err := m.runner.Run(ctx, "rm", "-f", containerName); err == nil {
		m.logger.Debug(ctx, "reaped stale sandbox container", "container", containerName)
	}

	args := []string{
		"run", "-d",
		"--name", containerName,
		"--label", "golem.sandbox=" + sandboxID,
		"--network", m.config.Network,
		"--cpus", fmt.Sprintf("%.2f", m.config.CPULimit),
		"--memory", fmt.Sprintf("%dm", m.config.MemoryLimitMB),
		"--memory-swap", fmt.Sprintf("%dm", m.config.MemoryLimitMB),
		"--pids-limit", strconv.Itoa(m.config.PidsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges:true",
		"--read-only",
		"--tmpfs", "/tmp:rw,size=" + m.config.TmpSize,
		"--tmpfs", "/work:rw,size=" + m.config.WorkSize,
	}
	for _, service := range m.services() {
		args = append(args, "-p", fmt.Sprintf("%s::%d", hostAddr, ContainerPorts[service]))
	}
	args = append(args, m.config.Image)

	if _, err := m.runner.Run(ctx, args...); err != nil {
		return nil, engine.NewSandboxError("create", "container start failed", err)
	}

	ports, err := m.discoverPorts(ctx, containerName)
	if err != nil {
		m.removeContainer(containerName)
		return nil, engine.NewSandboxError("create", "port discovery failed", err)
	}

	if err := m.probeServices(ctx, ports); err != nil {
		m.removeContainer(containerName)
		return nil, engine.NewSandboxError("create", "services never became healthy", err)
	}

	now := time.Now().UTC()
	sb := &models.Sandbox{
		ID:            sandboxID,
		TaskID:        taskID,
		ContainerName: containerName,
		Status:        models.SandboxStatusRunning,
		Ports:         ports,
		CreatedAt:     now,
		DestroyAt:     now.Add(m.config.TTL),
	}

	timer := time.AfterFunc(m.config.TTL, func() { m.expire(sandboxID) })

	m.mu.Lock()
	m.sandboxes[sandboxID] = &entry{sandbox: sb, timer: timer}
	m.mu.Unlock()

	m.logger.Info(ctx, "sandbox created",
		"container", containerName,
		"ports", ports,
		"destroy_at", sb.DestroyAt.Format(time.RFC3339))
	return sb, nil
}

// Get returns the sandbox record for id.
func (m *Manager) Get(id string) (*models.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sandboxes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSandboxNotFound, id)
	}
	return e.sandbox, nil
}

// Destroy stops and removes the sandbox's container. The lookup entry
// is removed before the first runtime call, so a concurrent Destroy is
// a no-op and a half-dead container can never be handed out again.
// Unknown IDs are a warning, not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sandboxes[id]
	if ok {
		delete(m.sandboxes, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn(ctx, "destroy of unknown sandbox", "sandbox_id", id)
		return nil
	}
	e.timer.Stop()
	e.sandbox.Status = models.SandboxStatusStopped

	var errs []error

	stopCtx, cancel := context.WithTimeout(ctx, m.config.DestroyTimeout)
	if _, err := m.runner.Run(stopCtx, "stop", "-t", "10", e.sandbox.ContainerName); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	cancel()

	rmCtx, cancel := context.WithTimeout(ctx, m.config.DestroyTimeout)
	if _, err := m.runner.Run(rmCtx, "rm", "-f", e.sandbox.ContainerName); err != nil {
		errs = append(errs, fmt.Errorf("rm: %w", err))
	}
	cancel()

	status := "success"
	if len(errs) > 0 {
		status = "error"
	}
	if m.metrics != nil {
		m.metrics.RecordSandboxDestroy(status)
	}

	if len(errs) > 0 {
		err := engine.NewSandboxError("destroy", "container teardown incomplete", errors.Join(errs...))
		m.logger.Error(ctx, "sandbox destroy failed", "sandbox_id", id, "error", err)
		return err
	}
	m.logger.Info(ctx, "sandbox destroyed", "sandbox_id", id)
	return nil
}

// Shutdown destroys all live sandboxes concurrently, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	m.logger.Info(ctx, "destroying all sandboxes", "count", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Destroy(ctx, id); err != nil {
				m.logger.Error(ctx, "shutdown destroy failed", "sandbox_id", id, "error", err)
			}
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sandbox shutdown interrupted: %w", ctx.Err())
	}
}

// Active returns the number of live sandboxes.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// expire is the TTL timer callback. The deadline fires only when the
// owning task never tore down, so the destroy gets a fresh bounded
// context.
func (m *Manager) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*m.config.DestroyTimeout)
	defer cancel()
	m.logger.Warn(ctx, "sandbox ttl expired, destroying", "sandbox_id", id)
	if err := m.Destroy(ctx, id); err != nil {
		m.logger.Error(ctx, "ttl destroy failed", "sandbox_id", id, "error", err)
	}
}

// ensureImage verifies the sandbox image exists locally, performing a
// lazy one-time build when a build context is configured.
func (m *Manager) ensureImage(ctx context.Context) error {
	m.mu.Lock()
	ready := m.imageReady
	m.mu.Unlock()
	if ready {
		return nil
	}

	if _, err := m.runner.Run(ctx, "image", "inspect", m.config.Image); err != nil {
		if m.config.BuildContext == "" {
			return fmt.Errorf("image %s not found and no build context configured: %w", m.config.Image, err)
		}
		m.logger.Info(ctx, "building sandbox image",
			"image", m.config.Image, "context", m.config.BuildContext)
		if _, err := m.runner.Run(ctx, "build", "-t", m.config.Image, m.config.BuildContext); err != nil {
			return fmt.Errorf("image build failed: %w", err)
		}
	}

	m.mu.Lock()
	m.imageReady = true
	m.mu.Unlock()
	return nil
}

// services returns the service set this deployment exposes.
func (m *Manager) services() []string {
	services := []string{ServiceShell, ServiceFile}
	if m.config.Browser {
		services = append(services, ServiceBrowser)
	}
	return services
}

// discoverPorts reads the runtime's port map for the container and
// resolves each service's host port.
func (m *Manager) discoverPorts(ctx context.Context, containerName string) (map[string]int, error) {
	out, err := m.runner.Run(ctx, "port", containerName)
	if err != nil {
		return nil, err
	}

	byContainerPort := parsePortMap(out)
	ports := make(map[string]int, len(byContainerPort))
	for _, service := range m.services() {
		hostPort, ok := byContainerPort[ContainerPorts[service]]
		if !ok {
			return nil, fmt.Errorf("no host port published for %s (container port %d)", service, ContainerPorts[service])
		}
		ports[service] = hostPort
	}
	return ports, nil
}

// parsePortMap parses `docker port` output lines like
// "3001/tcp -> 127.0.0.1:49153" into container→host port pairs.
func parsePortMap(out string) map[int]int {
	ports := make(map[int]int)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		left, right, ok := strings.Cut(line, "->")
		if !ok {
			continue
		}
		spec := strings.TrimSpace(left) // "3001/tcp"
		portPart, _, _ := strings.Cut(spec, "/")
		containerPort, err := strconv.Atoi(portPart)
		if err != nil {
			continue
		}
		addr := strings.TrimSpace(right) // "127.0.0.1:49153"
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			continue
		}
		hostPort, err := strconv.Atoi(addr[idx+1:])
		if err != nil {
			continue
		}
		if _, seen := ports[containerPort]; !seen {
			ports[containerPort] = hostPort
		}
	}
	return ports
}

// probeServices polls every service's /health until all respond or the
// probe budget is spent.
func (m *Manager) probeServices(ctx context.Context, ports map[string]int) error {
	pending := make(map[string]int, len(ports))
	for service, port := range ports {
		pending[service] = port
	}

	for attempt := 0; attempt < m.config.HealthProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.HealthProbeInterval):
			}
		}
		for service, port := range pending {
			if m.healthy(ctx, port) {
				delete(pending, service)
			}
		}
		if len(pending) == 0 {
			return nil
		}
	}

	unhealthy := make([]string, 0, len(pending))
	for service := range pending {
		unhealthy = append(unhealthy, service)
	}
	return fmt.Errorf("services unhealthy after %d probes: %s",
		m.config.HealthProbeAttempts, strings.Join(unhealthy, ", "))
}

func (m *Manager) healthy(ctx context.Context, port int) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		fmt.Sprintf("http://%s:%d/health", hostAddr, port), nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// removeContainer force-removes a container during create unwinding.
// Runs on a fresh context: the create context may already be dead.
func (m *Manager) removeContainer(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.DestroyTimeout)
	defer cancel()
	if _, err := m.runner.Run(ctx, "rm", "-f", containerName); err != nil {
		m.logger.Error(ctx, "failed to remove container after create failure",
			"container", containerName, "error", err)
	}
}
