package config

import "time"

// LLMConfig configures the language model client shared by the planner
// and the critic.
type LLMConfig struct {
	// Provider selects the completion backend: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider's default endpoint. Useful for
	// proxies and OpenAI-compatible local servers.
	BaseURL string `yaml:"base_url"`

	APIKey string `yaml:"api_key"`

	// PlannerModel generates plans; CriticModel evaluates progress.
	// The critic typically runs on a cheaper model.
	PlannerModel string `yaml:"planner_model"`
	CriticModel  string `yaml:"critic_model"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// CriticConfig configures mid-run plan evaluation.
type CriticConfig struct {
	Enabled bool `yaml:"enabled"`

	// ConfidenceThreshold is the minimum critic confidence required
	// before an off-track verdict may produce corrective steps.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxCorrections caps how many corrective splices a single task
	// may receive, bounding runaway replanning loops.
	MaxCorrections int `yaml:"max_corrections"`
}
