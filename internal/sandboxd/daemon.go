// Package sandboxd implements the HTTP services that run inside a
// sandbox container: a shell service on :3001, a browser service on
// :3002, and a file service on :3003. The host-side manager talks to
// these over the container's published ports; nothing else does.
package sandboxd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/sandbox"
)

// Options configures the daemon's services and listen ports.
type Options struct {
	Host        string
	ShellPort   int
	FilePort    int
	BrowserPort int

	// EnableBrowser starts the Chrome-backed browser service. Off by
	// default: the browser image layer is large and most tasks never
	// touch it.
	EnableBrowser bool

	Shell   ShellOptions
	File    FileOptions
	Browser BrowserOptions
}

// Daemon runs the sandbox services until its context is cancelled.
type Daemon struct {
	opts    Options
	logger  *observability.Logger
	browser *BrowserService
}

// New creates a daemon with the given options.
func New(opts Options, logger *observability.Logger) *Daemon {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.ShellPort == 0 {
		opts.ShellPort = sandbox.ContainerPorts[sandbox.ServiceShell]
	}
	if opts.FilePort == 0 {
		opts.FilePort = sandbox.ContainerPorts[sandbox.ServiceFile]
	}
	if opts.BrowserPort == 0 {
		opts.BrowserPort = sandbox.ContainerPorts[sandbox.ServiceBrowser]
	}
	return &Daemon{opts: opts, logger: logger}
}

// Run starts every service and blocks until ctx is cancelled or a
// listener fails. Shutdown is graceful with a short budget; the
// browser process is closed last.
func (d *Daemon) Run(ctx context.Context) error {
	type service struct {
		name    string
		port    int
		handler http.Handler
	}

	services := []service{
		{sandbox.ServiceShell, d.opts.ShellPort, NewShellService(d.opts.Shell, d.logger).Handler()},
		{sandbox.ServiceFile, d.opts.FilePort, NewFileService(d.opts.File, d.logger).Handler()},
	}
	if d.opts.EnableBrowser {
		d.browser = NewBrowserService(d.opts.Browser, d.logger)
		services = append(services, service{sandbox.ServiceBrowser, d.opts.BrowserPort, d.browser.Handler()})
	}

	errCh := make(chan error, len(services))
	servers := make([]*http.Server, 0, len(services))

	for _, svc := range services {
		addr := fmt.Sprintf("%s:%d", d.opts.Host, svc.port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			d.shutdown(servers)
			return fmt.Errorf("%s listen: %w", svc.name, err)
		}
		server := &http.Server{
			Addr:              addr,
			Handler:           svc.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, server)

		d.logger.Info(ctx, "service listening", "service", svc.name, "addr", addr)
		go func(name string, server *http.Server, listener net.Listener) {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s serve: %w", name, err)
			}
		}(svc.name, server, listener)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		d.logger.Error(ctx, "service failed", "error", runErr)
	}

	d.shutdown(servers)
	if d.browser != nil {
		d.browser.Close()
	}
	return runErr
}

func (d *Daemon) shutdown(servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn(shutdownCtx, "server shutdown error", "addr", server.Addr, "error", err)
		}
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Best-effort: the peer may have gone away.
		return
	}
}

// handleHealth serves the readiness probe every service exposes.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sandbox.HealthResponse{Status: "ok"})
}
