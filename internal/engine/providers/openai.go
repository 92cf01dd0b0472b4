package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/golemhq/golem/internal/backoff"
	"github.com/golemhq/golem/internal/engine"
)

// OpenAIClient implements engine.CompletionClient over the OpenAI chat
// completions API. A BaseURL override points it at any compatible
// server (proxies, local inference), which is why it doubles as the
// default backend.
//
// Safe for concurrent use; the worker pool shares one instance.
type OpenAIClient struct {
	client     *openai.Client
	maxRetries int
	policy     backoff.Policy
}

// OpenAIOptions configures the OpenAI client.
type OpenAIOptions struct {
	// APIKey authenticates requests.
	APIKey string

	// BaseURL overrides the default endpoint when set.
	BaseURL string

	// MaxRetries bounds attempts per call, first try included.
	// Defaults to 3.
	MaxRetries int

	// RetryDelay is the backoff base between attempts. Defaults to
	// one second, doubling per attempt up to 30s.
	RetryDelay time.Duration

	// Timeout bounds a single HTTP round trip. Zero leaves the
	// transport unbounded; the caller's context still applies.
	Timeout time.Duration
}

// NewOpenAIClient creates an OpenAI-backed completion client.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		maxRetries: opts.MaxRetries,
		policy:     retryPolicy(opts.RetryDelay),
	}, nil
}

// Name returns "openai".
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends one chat completion request and returns the full
// response text. Retryable failures (throttling, 5xx, timeouts) are
// retried with exponential backoff up to the configured budget.
func (c *OpenAIClient) Complete(ctx context.Context, req *engine.CompletionRequest) (*engine.CompletionResponse, error) {
	if req.Model == "" {
		return nil, newError("openai", "", nil).WithMessage("model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := backoff.Retry(ctx, c.policy, c.maxRetries, func(int) (openai.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, backoff.Permanent(ctx.Err())
		}
		classified := c.wrapError(req.Model, err)
		if !IsRetryable(classified) {
			return resp, backoff.Permanent(classified)
		}
		return resp, classified
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, newError("openai", req.Model, nil).WithMessage("response contains no choices")
	}

	return &engine.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: engine.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// wrapError lifts SDK errors into the classified form. go-openai
// exposes the HTTP status on APIError; everything else classifies by
// message.
func (c *OpenAIClient) wrapError(model string, err error) *Error {
	pe := newError("openai", model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe = pe.WithStatus(apiErr.HTTPStatusCode).WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
	}
	return pe
}
