package providers

import (
	"fmt"
	"time"

	"github.com/golemhq/golem/internal/backoff"
	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/engine"
)

// New builds the completion client named by the configuration. The
// planner and critic share the returned client; only the model name
// differs between their calls.
func New(cfg config.LLMConfig) (engine.CompletionClient, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		})
	case "anthropic":
		return NewAnthropicClient(AnthropicOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// retryPolicy builds the backoff curve for provider calls: the given
// base (default one second) doubling up to the standard 30s cap.
func retryPolicy(base time.Duration) backoff.Policy {
	policy := backoff.Default()
	policy.Base = time.Second
	if base > 0 {
		policy.Base = base
	}
	return policy
}
