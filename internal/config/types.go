package config

import (
	"fmt"
	"time"

	"github.com/lmandrelli/grape-coder/internal/logging"
)

// Duration is a time.Duration written as "30s" in config files.
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML writes the duration in time.ParseDuration form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalText accepts time.ParseDuration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// ProviderConfig defines a transport layer (CLI or HTTP endpoint).
// Providers are separate from agents: multiple agents can share one provider.
type ProviderConfig struct {
	Type      string  `koanf:"type" yaml:"type"`                                         // claude, codex, goose or openai
	Command   string  `koanf:"command" yaml:"command,omitempty"`                         // CLI binary; defaults to the type name
	Provider  string  `koanf:"provider" yaml:"provider,omitempty"`                       // Upstream provider for goose
	Model     string  `koanf:"model" yaml:"model,omitempty"`                             // Default model for agents on this provider
	BaseURL   string  `koanf:"base_url" yaml:"base_url,omitempty"`                       // openai-compatible endpoint
	APIKeyEnv string  `koanf:"api_key_env" yaml:"api_key_env,omitempty"`                 // Environment variable holding the API key
	RateLimit float64 `koanf:"requests_per_minute" yaml:"requests_per_minute,omitempty"` // Overrides rate_limit for this provider
}

// AgentConfig binds a role to a provider and model.
type AgentConfig struct {
	Provider     string `koanf:"provider" yaml:"provider"`                     // Key into Providers
	Model        string `koanf:"model" yaml:"model,omitempty"`                 // Overrides the provider model
	SystemPrompt string `koanf:"system_prompt" yaml:"system_prompt,omitempty"` // Role-specific system prompt
	MaxTurns     int    `koanf:"max_turns" yaml:"max_turns,omitempty"`         // Turn cap passed to CLI backends
}

// LoopConfig bounds the review-revise loop.
type LoopConfig struct {
	MaxIterations    int            `koanf:"max_iterations" yaml:"max_iterations"`
	ToolBudget       int            `koanf:"tool_budget" yaml:"tool_budget"`
	HandlerToolLimit int            `koanf:"handler_tool_limit" yaml:"handler_tool_limit"`
	HandlerTimeout   Duration       `koanf:"handler_timeout" yaml:"handler_timeout"`
	StageTimeout     Duration       `koanf:"stage_timeout" yaml:"stage_timeout"`
	XMLRetries       int            `koanf:"xml_retries" yaml:"xml_retries"`
	EntryPoint       string         `koanf:"entry_point" yaml:"entry_point"`
	Thresholds       map[string]int `koanf:"thresholds" yaml:"thresholds"`
}

// LintCommand is one external linter run by shell in the work directory.
type LintCommand struct {
	Tool    string   `koanf:"tool" yaml:"tool"`
	Command string   `koanf:"command" yaml:"command"`
	Timeout Duration `koanf:"timeout" yaml:"timeout,omitempty"`
}

// LintConfig selects the deterministic checks.
type LintConfig struct {
	Builtin  bool          `koanf:"builtin" yaml:"builtin"`
	Commands []LintCommand `koanf:"commands" yaml:"commands"`
}

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	InitialInterval     Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval         Duration `koanf:"max_interval" yaml:"max_interval"`
	MaxElapsedTime      Duration `koanf:"max_elapsed_time" yaml:"max_elapsed_time"`
	Multiplier          float64  `koanf:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64  `koanf:"randomization_factor" yaml:"randomization_factor"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `koanf:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         Duration `koanf:"open_timeout" yaml:"open_timeout"`
	HalfOpenRequests    uint32   `koanf:"half_open_requests" yaml:"half_open_requests"`
}

// RateLimitConfig is the default per-provider request rate. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute float64 `koanf:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `koanf:"burst" yaml:"burst"`
}

// StorageConfig controls the run audit store and revision snapshots.
type StorageConfig struct {
	Database     string `koanf:"database" yaml:"database"`           // sqlite file; empty disables the store
	GitSnapshots bool   `koanf:"git_snapshots" yaml:"git_snapshots"` // Commit every revision in the work directory
	AuthorName   string `koanf:"author_name" yaml:"author_name"`
	AuthorEmail  string `koanf:"author_email" yaml:"author_email"`
}

// MetricsConfig controls the status and metrics HTTP server.
type MetricsConfig struct {
	Listen string `koanf:"listen" yaml:"listen"` // host:port; empty disables the server
}

// Config is the top-level configuration.
type Config struct {
	Providers map[string]ProviderConfig `koanf:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `koanf:"agents" yaml:"agents"`
	Loop      LoopConfig                `koanf:"loop" yaml:"loop"`
	Lint      LintConfig                `koanf:"lint" yaml:"lint"`
	Retry     RetryConfig               `koanf:"retry" yaml:"retry"`
	Breaker   BreakerConfig             `koanf:"breaker" yaml:"breaker"`
	RateLimit RateLimitConfig           `koanf:"rate_limit" yaml:"rate_limit"`
	Storage   StorageConfig             `koanf:"storage" yaml:"storage"`
	Metrics   MetricsConfig             `koanf:"metrics" yaml:"metrics"`
	Log       logging.Config            `koanf:"log" yaml:"log"`
}
