// Package sandbox manages per-task container sandboxes: one container
// per task, created at task start and destroyed on every exit path.
// The containers run three small HTTP services (shell, file, browser)
// that the tool adapters call through the Manager's façades.
package sandbox

// Wire types for the in-sandbox services. The manager's façades encode
// these over HTTP against the discovered host ports; sandboxd decodes
// them on the container side. Field names are part of the protocol.

// ShellRequest asks the shell service to run one command.
type ShellRequest struct {
	// Command is the shell command line, run via sh -c.
	Command string `json:"command"`

	// Timeout in seconds. Zero means the service default.
	Timeout float64 `json:"timeout,omitempty"`

	// Cwd is the working directory; defaults to /work.
	Cwd string `json:"cwd,omitempty"`
}

// ShellResponse reports one command execution.
type ShellResponse struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

// ReadResponse returns a file's content.
type ReadResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// WriteRequest writes content to a path under /work.
type WriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteResponse reports a completed write.
type WriteResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Error   string `json:"error,omitempty"`
}

// FileInfo is one directory entry in a listing.
type FileInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "file" or "directory"
	Size     int64  `json:"size"`
	Modified string `json:"modified"` // RFC 3339
}

// ListResponse returns a directory listing.
type ListResponse struct {
	Success bool       `json:"success"`
	Path    string     `json:"path"`
	Files   []FileInfo `json:"files"`
	Error   string     `json:"error,omitempty"`
}

// DeleteRequest removes a file or empty directory.
type DeleteRequest struct {
	Path string `json:"path"`
}

// DeleteResponse reports a completed delete.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// Browser actions understood by the browser service.
const (
	BrowserActionOpen         = "open"
	BrowserActionRead         = "read"
	BrowserActionScreenshot   = "screenshot"
	BrowserActionExtractTable = "extract_table"
	BrowserActionClick        = "click"
	BrowserActionFillForm     = "fill_form"
)

// BrowserRequest drives the in-sandbox headless browser.
type BrowserRequest struct {
	// Action is one of the BrowserAction constants.
	Action string `json:"action"`

	// URL to navigate to before acting. Empty reuses the current page.
	URL string `json:"url,omitempty"`

	// Selector targets an element for read, extract_table, and click.
	Selector string `json:"selector,omitempty"`

	// Instructions carries action-specific payload; for fill_form it
	// is a JSON object mapping selectors to values.
	Instructions string `json:"instructions,omitempty"`

	// Timeout in seconds. Zero means the service default.
	Timeout float64 `json:"timeout,omitempty"`
}

// BrowserResponse is the superset of all browser action results; each
// action fills the fields it produces.
type BrowserResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`

	// Content is extracted page or element text for read.
	Content string `json:"content,omitempty"`

	// Screenshot is a base64-encoded PNG for screenshot.
	Screenshot string `json:"screenshot,omitempty"`

	// Table holds extract_table rows, header row first.
	Table [][]string `json:"table,omitempty"`

	Error string `json:"error,omitempty"`
}

// HealthResponse is returned by every service's /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// Service names used as keys of the sandbox port map. Values are the
// container-internal listen ports; the host side is discovered from
// the runtime at create time.
const (
	ServiceShell   = "shell"
	ServiceFile    = "file"
	ServiceBrowser = "browser"
)

// ContainerPorts maps each service to its fixed container-internal
// port.
var ContainerPorts = map[string]int{
	ServiceShell:   3001,
	ServiceBrowser: 3002,
	ServiceFile:    3003,
}
