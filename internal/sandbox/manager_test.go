package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/engine"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(args []string) (string, error)
}

func (r *fakeRunner) Run(ctx context.Context, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	if r.handler != nil {
		return r.handler(args)
	}
	return "", nil
}

func (r *fakeRunner) commandCalls(command string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, call := range r.calls {
		if len(call) > 0 && call[0] == command {
			out = append(out, call)
		}
	}
	return out
}

func healthServer(t *testing.T, status int) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	return serverPort(t, srv)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return port
}

func portOutput(shellPort, filePort int) string {
	return fmt.Sprintf("3001/tcp -> 127.0.0.1:%d\n3003/tcp -> 127.0.0.1:%d\n", shellPort, filePort)
}

// scriptedRunner wires the happy docker conversation: image present,
// stale reap fails (nothing to reap), run succeeds, port reports the
// given host ports.
func scriptedRunner(shellPort, filePort int) *fakeRunner {
	return &fakeRunner{handler: func(args []string) (string, error) {
		switch args[0] {
		case "image":
			return "[]", nil
		case "rm":
			return "", errors.New("no such container")
		case "run":
			return "abc123", nil
		case "port":
			return portOutput(shellPort, filePort), nil
		case "stop":
			return "", nil
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
}

func testConfig() config.SandboxConfig {
	return config.SandboxConfig{
		HealthProbeAttempts: 3,
		HealthProbeInterval: time.Millisecond,
	}
}

func TestManagerCreate(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := scriptedRunner(shellPort, filePort)
	m := NewManager(testConfig(), runner, nil, nil)

	sb, err := m.Create(context.Background(), "task1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sb.ID != "sbx-task1" {
		t.Errorf("sandbox ID = %q, want sbx-task1", sb.ID)
	}
	if sb.ContainerName != "golem-sbx-task1" {
		t.Errorf("container name = %q", sb.ContainerName)
	}
	if sb.Ports[ServiceShell] != shellPort || sb.Ports[ServiceFile] != filePort {
		t.Errorf("ports = %v, want shell=%d file=%d", sb.Ports, shellPort, filePort)
	}
	if sb.DestroyAt.Before(sb.CreatedAt) {
		t.Errorf("DestroyAt %v before CreatedAt %v", sb.DestroyAt, sb.CreatedAt)
	}

	got, err := m.Get(sb.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContainerName != sb.ContainerName {
		t.Errorf("Get returned %+v", got)
	}
	if m.Active() != 1 {
		t.Errorf("Active = %d, want 1", m.Active())
	}
}

func TestManagerCreateLocksDownContainer(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := scriptedRunner(shellPort, filePort)
	m := NewManager(testConfig(), runner, nil, nil)

	if _, err := m.Create(context.Background(), "task1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	runs := runner.commandCalls("run")
	if len(runs) != 1 {
		t.Fatalf("run called %d times, want 1", len(runs))
	}
	args := strings.Join(runs[0], " ")
	for _, want := range []string{
		"--cap-drop ALL",
		"--security-opt no-new-privileges:true",
		"--read-only",
		"--pids-limit 256",
		"--cpus 1.00",
		"--memory 1024m",
		"--memory-swap 1024m",
		"--tmpfs /tmp:rw,size=64m",
		"--tmpfs /work:rw,size=512m",
		"-p 127.0.0.1::3001",
		"-p 127.0.0.1::3003",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("run args missing %q:\n%s", want, args)
		}
	}
	if strings.Contains(args, "-p 127.0.0.1::3002") {
		t.Errorf("browser port published with browser disabled:\n%s", args)
	}
	if !strings.HasSuffix(args, "golem-sandbox:latest") {
		t.Errorf("image should be the final arg:\n%s", args)
	}
}

func TestManagerCreatePublishesBrowserPort(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	browserPort := healthServer(t, http.StatusOK)
	runner := &fakeRunner{handler: func(args []string) (string, error) {
		switch args[0] {
		case "image":
			return "[]", nil
		case "rm":
			return "", nil
		case "run":
			return "abc123", nil
		case "port":
			return portOutput(shellPort, filePort) +
				fmt.Sprintf("3002/tcp -> 127.0.0.1:%d\n", browserPort), nil
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
	cfg := testConfig()
	cfg.Browser = true
	m := NewManager(cfg, runner, nil, nil)

	sb, err := m.Create(context.Background(), "task1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sb.Ports[ServiceBrowser] != browserPort {
		t.Errorf("browser port = %d, want %d", sb.Ports[ServiceBrowser], browserPort)
	}
	args := strings.Join(runner.commandCalls("run")[0], " ")
	if !strings.Contains(args, "-p 127.0.0.1::3002") {
		t.Errorf("browser port not published:\n%s", args)
	}
}

func TestManagerCreateImageMissing(t *testing.T) {
	runner := &fakeRunner{handler: func(args []string) (string, error) {
		if args[0] == "image" {
			return "", errors.New("no such image")
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
	m := NewManager(testConfig(), runner, nil, nil)

	_, err := m.Create(context.Background(), "task1")
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if engine.KindOf(err) != engine.KindSandbox {
		t.Errorf("error kind = %v, want sandbox", engine.KindOf(err))
	}
	if len(runner.commandCalls("run")) != 0 {
		t.Error("run should not be attempted without an image")
	}
}

func TestManagerCreateBuildsImageOnce(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := &fakeRunner{handler: func(args []string) (string, error) {
		switch args[0] {
		case "image":
			return "", errors.New("no such image")
		case "build":
			return "built", nil
		case "rm":
			return "", nil
		case "run":
			return "abc123", nil
		case "port":
			return portOutput(shellPort, filePort), nil
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
	cfg := testConfig()
	cfg.BuildContext = "./sandbox"
	m := NewManager(cfg, runner, nil, nil)

	if _, err := m.Create(context.Background(), "task1"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create(context.Background(), "task2"); err != nil {
		t.Fatalf("second Create: %v", err)
	}

	builds := runner.commandCalls("build")
	if len(builds) != 1 {
		t.Fatalf("build called %d times, want 1", len(builds))
	}
	want := []string{"build", "-t", "golem-sandbox:latest", "./sandbox"}
	if strings.Join(builds[0], " ") != strings.Join(want, " ") {
		t.Errorf("build args = %v, want %v", builds[0], want)
	}
	if len(runner.commandCalls("image")) != 1 {
		t.Error("image inspect should be cached after the first create")
	}
}

func TestManagerCreateUnhealthyTearsDown(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusServiceUnavailable)
	runner := scriptedRunner(shellPort, filePort)
	cfg := testConfig()
	cfg.HealthProbeAttempts = 2
	m := NewManager(cfg, runner, nil, nil)

	_, err := m.Create(context.Background(), "task1")
	if err == nil {
		t.Fatal("expected error for unhealthy service")
	}
	if engine.KindOf(err) != engine.KindSandbox {
		t.Errorf("error kind = %v, want sandbox", engine.KindOf(err))
	}
	if !strings.Contains(err.Error(), ServiceFile) {
		t.Errorf("error should name the unhealthy service: %v", err)
	}

	// One rm for the stale reap, one for the unwind.
	if got := len(runner.commandCalls("rm")); got != 2 {
		t.Errorf("rm called %d times, want 2", got)
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d after failed create", m.Active())
	}
}

func TestManagerCreateMissingPortTearsDown(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	runner := &fakeRunner{handler: func(args []string) (string, error) {
		switch args[0] {
		case "image":
			return "[]", nil
		case "rm":
			return "", nil
		case "run":
			return "abc123", nil
		case "port":
			// File service line missing.
			return fmt.Sprintf("3001/tcp -> 127.0.0.1:%d\n", shellPort), nil
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
	m := NewManager(testConfig(), runner, nil, nil)

	_, err := m.Create(context.Background(), "task1")
	if err == nil {
		t.Fatal("expected error for missing port binding")
	}
	if !strings.Contains(err.Error(), "3003") {
		t.Errorf("error should name the missing container port: %v", err)
	}
	if got := len(runner.commandCalls("rm")); got != 2 {
		t.Errorf("rm called %d times, want 2", got)
	}
}

func TestManagerDestroy(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := scriptedRunner(shellPort, filePort)
	m := NewManager(testConfig(), runner, nil, nil)

	sb, err := m.Create(context.Background(), "task1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Destroy(context.Background(), sb.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := m.Get(sb.ID); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("Get after destroy = %v, want ErrSandboxNotFound", err)
	}
	stops := runner.commandCalls("stop")
	if len(stops) != 1 {
		t.Fatalf("stop called %d times, want 1", len(stops))
	}
	want := "stop -t 10 golem-sbx-task1"
	if strings.Join(stops[0], " ") != want {
		t.Errorf("stop args = %v, want %q", stops[0], want)
	}

	// Second destroy of the same ID is a no-op.
	if err := m.Destroy(context.Background(), sb.ID); err != nil {
		t.Fatalf("repeat Destroy: %v", err)
	}
	if got := len(runner.commandCalls("stop")); got != 1 {
		t.Errorf("repeat destroy issued %d stops", got)
	}
}

func TestManagerDestroyUnknownIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	m := NewManager(testConfig(), runner, nil, nil)

	if err := m.Destroy(context.Background(), "sbx-ghost"); err != nil {
		t.Fatalf("Destroy unknown = %v, want nil", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("runtime touched for unknown sandbox: %v", runner.calls)
	}
}

func TestManagerDestroyReportsRuntimeFailure(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := &fakeRunner{handler: func(args []string) (string, error) {
		switch args[0] {
		case "image":
			return "[]", nil
		case "rm":
			if len(args) == 3 && args[1] == "-f" && args[2] == "golem-sbx-task1" {
				return "", nil
			}
			return "", nil
		case "run":
			return "abc123", nil
		case "port":
			return portOutput(shellPort, filePort), nil
		case "stop":
			return "", errors.New("daemon unreachable")
		}
		return "", fmt.Errorf("unexpected command %v", args)
	}}
	m := NewManager(testConfig(), runner, nil, nil)

	sb, err := m.Create(context.Background(), "task1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = m.Destroy(context.Background(), sb.ID)
	if err == nil {
		t.Fatal("expected destroy error")
	}
	if !strings.Contains(err.Error(), "daemon unreachable") {
		t.Errorf("error should carry the runtime failure: %v", err)
	}
	// Entry is gone regardless: a failed teardown is not retried via Get.
	if _, err := m.Get(sb.ID); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("Get after failed destroy = %v", err)
	}
}

func TestManagerTTLExpiryDestroys(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := scriptedRunner(shellPort, filePort)
	cfg := testConfig()
	cfg.TTL = 20 * time.Millisecond
	m := NewManager(cfg, runner, nil, nil)

	if _, err := m.Create(context.Background(), "task1"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Active() != 0 {
		t.Fatal("sandbox not destroyed after TTL")
	}
	if got := len(runner.commandCalls("stop")); got != 1 {
		t.Errorf("stop called %d times, want 1", got)
	}
}

func TestManagerShutdownDestroysAll(t *testing.T) {
	shellPort := healthServer(t, http.StatusOK)
	filePort := healthServer(t, http.StatusOK)
	runner := scriptedRunner(shellPort, filePort)
	m := NewManager(testConfig(), runner, nil, nil)

	for _, taskID := range []string{"task1", "task2", "task3"} {
		if _, err := m.Create(context.Background(), taskID); err != nil {
			t.Fatalf("Create %s: %v", taskID, err)
		}
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d after shutdown", m.Active())
	}
	if got := len(runner.commandCalls("stop")); got != 3 {
		t.Errorf("stop called %d times, want 3", got)
	}
}

func TestParsePortMap(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want map[int]int
	}{
		{
			name: "standard",
			out:  "3001/tcp -> 127.0.0.1:49153\n3003/tcp -> 127.0.0.1:49154\n",
			want: map[int]int{3001: 49153, 3003: 49154},
		},
		{
			name: "ipv4 preferred over ipv6 duplicate",
			out:  "3001/tcp -> 127.0.0.1:49153\n3001/tcp -> :::49199\n",
			want: map[int]int{3001: 49153},
		},
		{
			name: "garbage lines skipped",
			out:  "\nnot a mapping\n3001/tcp -> 127.0.0.1:49153\nudp nonsense ->\n",
			want: map[int]int{3001: 49153},
		},
		{
			name: "empty",
			out:  "",
			want: map[int]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePortMap(tt.out)
			if len(got) != len(tt.want) {
				t.Fatalf("parsePortMap() = %v, want %v", got, tt.want)
			}
			for containerPort, hostPort := range tt.want {
				if got[containerPort] != hostPort {
					t.Errorf("port %d = %d, want %d", containerPort, got[containerPort], hostPort)
				}
			}
		})
	}
}
