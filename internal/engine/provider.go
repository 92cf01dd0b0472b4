package engine

import "context"

// CompletionClient is the language-model surface the planner and critic
// consume. One call, one response; the engine never streams because
// plans and evaluations are only useful as complete JSON documents.
//
// Implementations must be safe for concurrent use: the worker pool runs
// several orchestrators against the same client.
type CompletionClient interface {
	// Complete sends a single prompt and blocks until the full
	// response is available or ctx is done.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name for logs and metrics.
	Name() string
}

// CompletionRequest contains the parameters for one completion call.
type CompletionRequest struct {
	// Model names the model to use. If empty, the provider's
	// configured default is used.
	Model string `json:"model"`

	// System sets the assistant's role. Handled separately from the
	// prompt in most provider APIs.
	System string `json:"system,omitempty"`

	// Prompt is the user-turn content.
	Prompt string `json:"prompt"`

	// Temperature controls sampling randomness. Planner and critic run
	// low-to-moderate so output stays parseable.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length. If 0, the provider default
	// applies.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse is the full text returned by a provider.
type CompletionResponse struct {
	// Content is the concatenated text of the response.
	Content string `json:"content"`

	// Model is the model that actually served the request.
	Model string `json:"model,omitempty"`

	// Usage reports token accounting when the provider exposes it.
	Usage Usage `json:"usage"`
}

// Usage is the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
