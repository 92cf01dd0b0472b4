package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golemhq/golem/internal/engine"
)

// chatCompletionBody mirrors the fields of the chat completions wire
// format the tests need to assert on.
type chatCompletionBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func openAITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIOptions{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/v1",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return srv, client
}

func writeChatCompletion(w http.ResponseWriter, content string) {
	json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     42,
			"completion_tokens": 7,
			"total_tokens":      49,
		},
	})
}

func TestOpenAIComplete(t *testing.T) {
	var got chatCompletionBody
	_, client := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		writeChatCompletion(w, `[{"id":"step-1"}]`)
	})

	resp, err := client.Complete(context.Background(), &engine.CompletionRequest{
		Model:       "gpt-4o",
		System:      "you are a planner",
		Prompt:      "plan something",
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != `[{"id":"step-1"}]` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 42 || resp.Usage.CompletionTokens != 7 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 256 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOpenAICompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	_, client := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "upstream exploded", "type": "api_error"},
			})
			return
		}
		writeChatCompletion(w, "recovered")
	})

	resp, err := client.Complete(context.Background(), &engine.CompletionRequest{
		Model:  "gpt-4o",
		Prompt: "hello",
	})
	if err != nil {
		t.Fatalf("Complete after retries: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestOpenAICompleteFailsFastOnAuth(t *testing.T) {
	var calls atomic.Int32
	_, client := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error", "code": "invalid_api_key"},
		})
	})

	_, err := client.Complete(context.Background(), &engine.CompletionRequest{
		Model:  "gpt-4o",
		Prompt: "hello",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", n)
	}

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a provider error", err)
	}
	if pe.Reason != ReasonAuth {
		t.Errorf("Reason = %v, want %v", pe.Reason, ReasonAuth)
	}
}

func TestOpenAICompleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	_, client := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "down for maintenance", "type": "api_error"},
		})
	})

	_, err := client.Complete(context.Background(), &engine.CompletionRequest{
		Model:  "gpt-4o",
		Prompt: "hello",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestOpenAICompleteRequiresModel(t *testing.T) {
	_, client := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	})
	if _, err := client.Complete(context.Background(), &engine.CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIOptions{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
