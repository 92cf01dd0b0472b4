package sandboxd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/policy"
	"github.com/golemhq/golem/internal/sandbox"
)

// BrowserOptions configures the browser service.
type BrowserOptions struct {
	// Headless runs Chrome without a display. Always true in-container;
	// the flag exists for local debugging.
	Headless bool

	// ChromePath overrides the Chrome binary discovery.
	ChromePath string

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration

	// MaxTimeout caps the per-action timeout a request may ask for.
	MaxTimeout time.Duration
}

// BrowserService drives a shared Chrome process over the DevTools
// protocol. One page serves the whole sandbox: actions run serialized
// and the page state persists between them, so open followed by click
// followed by read behaves like one browsing session.
type BrowserService struct {
	opts   BrowserOptions
	logger *observability.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc
}

// NewBrowserService creates the browser service. Chrome starts lazily
// on the first action, not at construction.
func NewBrowserService(opts BrowserOptions, logger *observability.Logger) *BrowserService {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &BrowserService{opts: opts, logger: logger}
}

// Handler returns the service's HTTP routes.
func (s *BrowserService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

// Close terminates the page and the Chrome process.
func (s *BrowserService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *BrowserService) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.BrowserResponse{Error: "method not allowed"})
		return
	}

	var req sandbox.BrowserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.BrowserResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := validateBrowserRequest(req); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.BrowserResponse{Action: req.Action, Error: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePage(); err != nil {
		s.logger.Error(r.Context(), "browser start failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, sandbox.BrowserResponse{
			Action: req.Action, Error: "browser unavailable: " + err.Error(),
		})
		return
	}

	timeout := s.timeout(req.Timeout)
	runCtx, cancel := context.WithTimeout(s.pageCtx, timeout)
	defer cancel()

	resp := s.perform(runCtx, req, timeout)
	if !resp.Success && s.pageCtx.Err() != nil {
		// Chrome died under us; restart on the next request.
		s.reset()
	}
	writeJSON(w, http.StatusOK, resp)
}

func validateBrowserRequest(req sandbox.BrowserRequest) error {
	switch req.Action {
	case sandbox.BrowserActionOpen:
		if req.URL == "" {
			return errors.New("url is required for open")
		}
	case sandbox.BrowserActionRead, sandbox.BrowserActionScreenshot, sandbox.BrowserActionExtractTable:
	case sandbox.BrowserActionClick:
		if req.Selector == "" {
			return errors.New("selector is required for click")
		}
	case sandbox.BrowserActionFillForm:
		if _, err := parseFormInstructions(req.Instructions); err != nil {
			return err
		}
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
	return nil
}

func (s *BrowserService) timeout(requested float64) time.Duration {
	if requested <= 0 {
		return s.opts.DefaultTimeout
	}
	timeout := time.Duration(requested * float64(time.Second))
	if timeout > s.opts.MaxTimeout {
		return s.opts.MaxTimeout
	}
	return timeout
}

// ensurePage lazily starts Chrome and a single page. Must be called
// with s.mu held. A dead page from a previous crash is replaced.
func (s *BrowserService) ensurePage() error {
	if s.pageCtx != nil && s.pageCtx.Err() == nil {
		return nil
	}
	s.reset()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !s.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.opts.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.opts.ChromePath))
	}

	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	s.pageCtx, s.pageCancel = chromedp.NewContext(s.allocCtx)

	if err := chromedp.Run(s.pageCtx, chromedp.Navigate("about:blank")); err != nil {
		s.reset()
		return err
	}
	return nil
}

// reset tears down the page and Chrome. Must be called with s.mu held.
func (s *BrowserService) reset() {
	if s.pageCancel != nil {
		s.pageCancel()
		s.pageCtx, s.pageCancel = nil, nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCtx, s.allocCancel = nil, nil
	}
}

func (s *BrowserService) perform(ctx context.Context, req sandbox.BrowserRequest, timeout time.Duration) sandbox.BrowserResponse {
	resp := sandbox.BrowserResponse{Action: req.Action}

	var tasks chromedp.Tasks
	if req.URL != "" {
		tasks = append(tasks,
			chromedp.Navigate(req.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}

	var content, title, location string
	var shot []byte
	var table [][]string

	switch req.Action {
	case sandbox.BrowserActionOpen:
		// Navigation appended above.
	case sandbox.BrowserActionRead:
		selector := req.Selector
		if selector == "" {
			selector = "body"
		}
		tasks = append(tasks, chromedp.Text(selector, &content, chromedp.ByQuery))
	case sandbox.BrowserActionScreenshot:
		tasks = append(tasks, chromedp.CaptureScreenshot(&shot))
	case sandbox.BrowserActionExtractTable:
		selector := req.Selector
		if selector == "" {
			selector = "table"
		}
		tasks = append(tasks, chromedp.Evaluate(tableScript(selector), &table))
	case sandbox.BrowserActionClick:
		tasks = append(tasks,
			chromedp.WaitVisible(req.Selector, chromedp.ByQuery),
			chromedp.Click(req.Selector, chromedp.NodeVisible),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	case sandbox.BrowserActionFillForm:
		fields, _ := parseFormInstructions(req.Instructions)
		for _, field := range fields {
			tasks = append(tasks,
				chromedp.WaitVisible(field.selector, chromedp.ByQuery),
				chromedp.Focus(field.selector, chromedp.ByQuery),
				chromedp.SetValue(field.selector, "", chromedp.ByQuery),
				chromedp.SendKeys(field.selector, field.value, chromedp.ByQuery),
			)
		}
	}
	tasks = append(tasks, chromedp.Location(&location), chromedp.Title(&title))

	start := time.Now()
	err := chromedp.Run(ctx, tasks)
	s.logger.Debug(ctx, "browser action finished",
		"action", req.Action,
		"duration_ms", time.Since(start).Milliseconds(),
		"failed", err != nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			resp.Error = fmt.Sprintf("action timed out after %s", timeout)
		} else {
			resp.Error = err.Error()
		}
		return resp
	}

	resp.Success = true
	resp.URL = location
	resp.Title = title
	switch req.Action {
	case sandbox.BrowserActionRead:
		resp.Content = policy.TruncateOutput(content)
	case sandbox.BrowserActionScreenshot:
		resp.Screenshot = base64.StdEncoding.EncodeToString(shot)
	case sandbox.BrowserActionExtractTable:
		if len(table) == 0 {
			resp.Success = false
			resp.Error = fmt.Sprintf("no table matched selector %q", req.Selector)
			return resp
		}
		resp.Table = table
	}
	return resp
}

type formField struct {
	selector string
	value    string
}

// parseFormInstructions parses the fill_form payload: a JSON object
// mapping CSS selectors to the values to type. Fields are filled in
// selector order so runs are deterministic.
func parseFormInstructions(raw string) ([]formField, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("instructions are required for fill_form")
	}
	var bySelector map[string]string
	if err := json.Unmarshal([]byte(raw), &bySelector); err != nil {
		return nil, fmt.Errorf("instructions must be a JSON object mapping selectors to values: %v", err)
	}
	if len(bySelector) == 0 {
		return nil, errors.New("instructions name no fields")
	}

	selectors := make([]string, 0, len(bySelector))
	for selector := range bySelector {
		selectors = append(selectors, selector)
	}
	sort.Strings(selectors)

	fields := make([]formField, 0, len(selectors))
	for _, selector := range selectors {
		fields = append(fields, formField{selector: selector, value: bySelector[selector]})
	}
	return fields, nil
}

// tableScript builds the in-page expression that flattens the first
// table matching the selector into rows of trimmed cell text.
func tableScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const table = document.querySelector(%s);
	if (!table) return null;
	return Array.from(table.querySelectorAll("tr")).map(row =>
		Array.from(row.querySelectorAll("th,td")).map(cell => cell.innerText.trim()));
})()`, quoted)
}
