package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/golemhq/golem/internal/backoff"
	"github.com/golemhq/golem/internal/engine"
)

// anthropicMessages is the slice of the Anthropic SDK the client uses.
// *sdk.MessageService satisfies it; tests substitute a fake.
type anthropicMessages interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements engine.CompletionClient over the Anthropic
// Messages API. Requests are non-streaming: the engine consumes plans
// and evaluations as whole JSON documents.
//
// Safe for concurrent use.
type AnthropicClient struct {
	messages   anthropicMessages
	maxRetries int
	policy     backoff.Policy
}

// AnthropicOptions configures the Anthropic client.
type AnthropicOptions struct {
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

// NewAnthropicClient creates an Anthropic-backed completion client.
func NewAnthropicClient(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// The engine owns retry; the SDK's built-in retries would
		// multiply the budget.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	ac := sdk.NewClient(reqOpts...)
	return &AnthropicClient{
		messages:   &ac.Messages,
		maxRetries: opts.MaxRetries,
		policy:     retryPolicy(opts.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends one Messages request and returns the concatenated
// text blocks of the response. Retryable failures are retried with
// exponential backoff up to the configured budget.
func (c *AnthropicClient) Complete(ctx context.Context, req *engine.CompletionRequest) (*engine.CompletionResponse, error) {
	if req.Model == "" {
		return nil, newError("anthropic", "", nil).WithMessage("model is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := backoff.Retry(ctx, c.policy, c.maxRetries, func(int) (*sdk.Message, error) {
		msg, err := c.messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		classified := c.wrapError(req.Model, err)
		if !IsRetryable(classified) {
			return nil, backoff.Permanent(classified)
		}
		return nil, classified
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, newError("anthropic", req.Model, nil).WithMessage("response message is nil")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &engine.CompletionResponse{
		Content: text.String(),
		Model:   string(msg.Model),
		Usage: engine.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// wrapError lifts SDK errors into the classified form. The Anthropic
// SDK surfaces the HTTP status on its error type.
func (c *AnthropicClient) wrapError(model string, err error) *Error {
	pe := newError("anthropic", model, err)
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe = pe.WithStatus(apiErr.StatusCode)
	}
	return pe
}
