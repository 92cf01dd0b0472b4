package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/pkg/models"
)

// apiClient is the thin HTTP/websocket client behind the task
// subcommands.
type apiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// newAPIClientFromFlags resolves the server address from the --server
// flag or the local config file, and picks the API key up from
// GOLEM_API_KEY.
func newAPIClientFromFlags(serverAddr string) (*apiClient, error) {
	baseURL, err := resolveHTTPBaseURL(serverAddr)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv("GOLEM_API_KEY"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func resolveHTTPBaseURL(serverAddr string) (string, error) {
	addr := strings.TrimSpace(serverAddr)
	if addr == "" {
		configPath := resolveConfigPath(defaultConfigPath)
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = ""
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/"), nil
	}
	return "http://" + strings.TrimRight(addr, "/"), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(raw) > 0 {
			var apiErr struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
				return fmt.Errorf("request %s failed: %s (%s)", path, resp.Status, apiErr.Error)
			}
			return fmt.Errorf("request %s failed: %s (%s)", path, resp.Status, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("request %s failed: %s", path, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *apiClient) deleteJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// =============================================================================
// Event Streaming
// =============================================================================

// streamFrame mirrors the websocket wire envelope.
type streamFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// streamEvent is the payload of a task.event frame.
type streamEvent struct {
	TaskID    string           `json:"task_id"`
	Type      models.EventType `json:"type"`
	Data      map[string]any   `json:"data"`
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
}

// followTask prints a task's events until the task reaches a terminal
// status. History after afterSeq is replayed first, then the live feed
// takes over. The returned error reflects the task outcome so callers
// exit non-zero on failed tasks.
func followTask(cmd *cobra.Command, client *apiClient, taskID string, afterSeq int64) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	var task models.Task
	if err := client.getJSON(ctx, "/v1/tasks/"+taskID, &task); err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		var list struct {
			Events []models.Event `json:"events"`
		}
		path := fmt.Sprintf("/v1/tasks/%s/events?after_seq=%d", taskID, afterSeq)
		if err := client.getJSON(ctx, path, &list); err != nil {
			return err
		}
		for _, event := range list.Events {
			printEvent(out, event)
		}
		return reportOutcome(out, &task)
	}

	conn, err := client.dialEvents(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	subscribe := map[string]any{
		"type":   "req",
		"id":     "follow-1",
		"method": "subscribe",
		"params": map[string]any{"task_id": taskID, "after_seq": afterSeq},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			// The stream died; the store still has the answer.
			return finishFromStore(ctx, out, client, taskID)
		}
		switch {
		case frame.Type == "res" && frame.OK != nil && !*frame.OK:
			if frame.Error != nil {
				return fmt.Errorf("subscribe failed: %s", frame.Error.Message)
			}
			return fmt.Errorf("subscribe failed")
		case frame.Type != "event" || frame.Event != "task.event":
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(frame.Payload, &event); err != nil {
			continue
		}
		printEvent(out, models.Event{
			Seq:       event.Seq,
			Type:      event.Type,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		})

		switch event.Type {
		case models.EventTaskSucceeded, models.EventTaskCompletedWithFailures,
			models.EventTaskFailed:
			return finishFromStore(ctx, out, client, taskID)
		case models.EventSandboxDestroyed:
			// Teardown is the last thing a cancelled run writes; check
			// whether the task is done rather than waiting forever.
			var current models.Task
			if err := client.getJSON(ctx, "/v1/tasks/"+taskID, &current); err == nil && current.Status.IsTerminal() {
				return reportOutcome(out, &current)
			}
		}
	}
}

// finishFromStore fetches the task and reports its outcome. The status
// flip can trail the terminal event by a moment, so poll briefly.
func finishFromStore(ctx context.Context, out io.Writer, client *apiClient, taskID string) error {
	var task models.Task
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := client.getJSON(ctx, "/v1/tasks/"+taskID, &task); err != nil {
			return err
		}
		if task.Status.IsTerminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return reportOutcome(out, &task)
}

func reportOutcome(out io.Writer, task *models.Task) error {
	switch task.Status {
	case models.TaskStatusSucceeded:
		fmt.Fprintf(out, "Task %s succeeded\n", task.ID)
		return nil
	case models.TaskStatusFailed:
		return fmt.Errorf("task %s failed: %s", task.ID, task.Error)
	case models.TaskStatusCancelled:
		return fmt.Errorf("task %s cancelled", task.ID)
	default:
		fmt.Fprintf(out, "Task %s is %s\n", task.ID, task.Status)
		return nil
	}
}

// dialEvents opens the websocket event stream.
func (c *apiClient) dialEvents(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/events/ws"
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	return conn, nil
}

func printEvent(out io.Writer, event models.Event) {
	data := ""
	if len(event.Data) > 0 {
		if raw, err := json.Marshal(event.Data); err == nil {
			data = string(raw)
		}
	}
	fmt.Fprintf(out, "%5d  %s  %-28s %s\n",
		event.Seq, event.Timestamp.Format("15:04:05.000"), event.Type, data)
}
