package sandboxd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golemhq/golem/internal/sandbox"
)

func TestValidateBrowserRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     sandbox.BrowserRequest
		wantErr string
	}{
		{"open", sandbox.BrowserRequest{Action: sandbox.BrowserActionOpen, URL: "https://example.com"}, ""},
		{"open without url", sandbox.BrowserRequest{Action: sandbox.BrowserActionOpen}, "url is required"},
		{"read current page", sandbox.BrowserRequest{Action: sandbox.BrowserActionRead}, ""},
		{"screenshot", sandbox.BrowserRequest{Action: sandbox.BrowserActionScreenshot}, ""},
		{"extract table", sandbox.BrowserRequest{Action: sandbox.BrowserActionExtractTable, Selector: "#prices"}, ""},
		{"click", sandbox.BrowserRequest{Action: sandbox.BrowserActionClick, Selector: "#submit"}, ""},
		{"click without selector", sandbox.BrowserRequest{Action: sandbox.BrowserActionClick}, "selector is required"},
		{"fill form", sandbox.BrowserRequest{Action: sandbox.BrowserActionFillForm, Instructions: `{"#name":"Ada"}`}, ""},
		{"fill form without instructions", sandbox.BrowserRequest{Action: sandbox.BrowserActionFillForm}, "instructions are required"},
		{"fill form bad instructions", sandbox.BrowserRequest{Action: sandbox.BrowserActionFillForm, Instructions: "not json"}, "JSON object"},
		{"fill form empty instructions", sandbox.BrowserRequest{Action: sandbox.BrowserActionFillForm, Instructions: "{}"}, "no fields"},
		{"missing action", sandbox.BrowserRequest{}, "action is required"},
		{"unknown action", sandbox.BrowserRequest{Action: "teleport"}, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBrowserRequest(tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestBrowserHandlerRejectsBadRequests(t *testing.T) {
	handler := NewBrowserService(BrowserOptions{Headless: true}, nil).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/execute", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"action":"teleport"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestParseFormInstructions(t *testing.T) {
	fields, err := parseFormInstructions(`{"#z":"last","#a":"first"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("fields = %+v", fields)
	}
	if fields[0].selector != "#a" || fields[0].value != "first" {
		t.Errorf("fields not sorted by selector: %+v", fields)
	}
}

func TestTableScriptQuotesSelector(t *testing.T) {
	script := tableScript(`table[data-kind="prices"]`)
	if !strings.Contains(script, `"table[data-kind=\"prices\"]"`) {
		t.Errorf("selector not safely quoted:\n%s", script)
	}
	if !strings.Contains(script, "querySelectorAll") {
		t.Errorf("script missing row extraction:\n%s", script)
	}
}

func TestBrowserTimeoutClamp(t *testing.T) {
	s := NewBrowserService(BrowserOptions{DefaultTimeout: 30 * time.Second, MaxTimeout: 120 * time.Second}, nil)

	tests := []struct {
		requested float64
		want      time.Duration
	}{
		{0, 30 * time.Second},
		{10, 10 * time.Second},
		{600, 120 * time.Second},
	}
	for _, tt := range tests {
		if got := s.timeout(tt.requested); got != tt.want {
			t.Errorf("timeout(%v) = %v, want %v", tt.requested, got, tt.want)
		}
	}
}
