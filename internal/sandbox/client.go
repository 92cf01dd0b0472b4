package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Operation budgets. Each façade bounds its HTTP call slightly above
// the in-sandbox operation timeout so the service, not the transport,
// reports the deadline.
const (
	defaultShellBudget   = 60 * time.Second
	defaultBrowserBudget = 30 * time.Second
	fileOpBudget         = 30 * time.Second
	budgetSlack          = 5 * time.Second

	maxResponseBytes = 16 << 20
)

// ExecuteShell runs a command via the sandbox's shell service. Failures
// of any kind, transport included, come back as an unsuccessful
// response rather than an error: a failed command is a step result,
// not a step crash.
func (m *Manager) ExecuteShell(ctx context.Context, sandboxID string, req ShellRequest) *ShellResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceShell, "/execute")
	if err != nil {
		return &ShellResponse{ExitCode: -1, Error: err.Error()}
	}
	out := &ShellResponse{}
	if err := m.call(ctx, http.MethodPost, endpoint, req, out, budgetFor(req.Timeout, defaultShellBudget)); err != nil {
		return &ShellResponse{ExitCode: -1, Error: err.Error()}
	}
	return out
}

// ReadFile fetches a file via the sandbox's file service.
func (m *Manager) ReadFile(ctx context.Context, sandboxID, path string) *ReadResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceFile, "/read")
	if err != nil {
		return &ReadResponse{Path: path, Error: err.Error()}
	}
	endpoint += "?path=" + url.QueryEscape(path)
	out := &ReadResponse{}
	if err := m.call(ctx, http.MethodGet, endpoint, nil, out, fileOpBudget); err != nil {
		return &ReadResponse{Path: path, Error: err.Error()}
	}
	return out
}

// WriteFile writes a file via the sandbox's file service.
func (m *Manager) WriteFile(ctx context.Context, sandboxID string, req WriteRequest) *WriteResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceFile, "/write")
	if err != nil {
		return &WriteResponse{Path: req.Path, Error: err.Error()}
	}
	out := &WriteResponse{}
	if err := m.call(ctx, http.MethodPost, endpoint, req, out, fileOpBudget); err != nil {
		return &WriteResponse{Path: req.Path, Error: err.Error()}
	}
	return out
}

// ListDirectory lists a directory via the sandbox's file service.
func (m *Manager) ListDirectory(ctx context.Context, sandboxID, path string) *ListResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceFile, "/list")
	if err != nil {
		return &ListResponse{Path: path, Error: err.Error()}
	}
	endpoint += "?path=" + url.QueryEscape(path)
	out := &ListResponse{}
	if err := m.call(ctx, http.MethodGet, endpoint, nil, out, fileOpBudget); err != nil {
		return &ListResponse{Path: path, Error: err.Error()}
	}
	return out
}

// DeleteFile removes a file or empty directory via the sandbox's file
// service.
func (m *Manager) DeleteFile(ctx context.Context, sandboxID, path string) *DeleteResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceFile, "/delete")
	if err != nil {
		return &DeleteResponse{Path: path, Error: err.Error()}
	}
	out := &DeleteResponse{}
	if err := m.call(ctx, http.MethodDelete, endpoint, DeleteRequest{Path: path}, out, fileOpBudget); err != nil {
		return &DeleteResponse{Path: path, Error: err.Error()}
	}
	return out
}

// ExecuteBrowser performs a browser action via the sandbox's browser
// service.
func (m *Manager) ExecuteBrowser(ctx context.Context, sandboxID string, req BrowserRequest) *BrowserResponse {
	endpoint, err := m.endpoint(sandboxID, ServiceBrowser, "/execute")
	if err != nil {
		return &BrowserResponse{Action: req.Action, URL: req.URL, Error: err.Error()}
	}
	out := &BrowserResponse{}
	if err := m.call(ctx, http.MethodPost, endpoint, req, out, budgetFor(req.Timeout, defaultBrowserBudget)); err != nil {
		return &BrowserResponse{Action: req.Action, URL: req.URL, Error: err.Error()}
	}
	return out
}

// endpoint resolves the host-side URL for a sandbox service.
func (m *Manager) endpoint(sandboxID, service, path string) (string, error) {
	sb, err := m.Get(sandboxID)
	if err != nil {
		return "", err
	}
	port, ok := sb.Ports[service]
	if !ok {
		return "", fmt.Errorf("sandbox %s does not expose %s service", sandboxID, service)
	}
	return fmt.Sprintf("http://%s:%d%s", hostAddr, port, path), nil
}

// call performs one JSON request/response exchange. The body decodes
// on every status: services report operation failures in the response
// shape, and only an undecodable reply becomes a transport error.
func (m *Manager) call(ctx context.Context, method, endpoint string, reqBody, out any, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("service returned %d: %s", resp.StatusCode, clipBody(raw))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func clipBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}

// budgetFor converts a request's timeout in seconds to a transport
// budget with enough slack for the service to time out first.
func budgetFor(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback + budgetSlack
	}
	return time.Duration(seconds*float64(time.Second)) + budgetSlack
}
