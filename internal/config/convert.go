package config

import (
	"fmt"
	"os"

	"github.com/lmandrelli/grape-coder/internal/backend"
	"github.com/lmandrelli/grape-coder/internal/lint"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// Backend resolves a role to the backend configuration of its provider.
func (c *Config) Backend(role, workDir string) (backend.Config, error) {
	agent, ok := c.Agents[role]
	if !ok {
		return backend.Config{}, fmt.Errorf("no agent configured for role %q", role)
	}
	p, ok := c.Providers[agent.Provider]
	if !ok {
		return backend.Config{}, fmt.Errorf("agent %q references unknown provider %q", role, agent.Provider)
	}

	model := agent.Model
	if model == "" {
		model = p.Model
	}
	cfg := backend.Config{
		Type:         p.Type,
		WorkDir:      workDir,
		Model:        model,
		Provider:     p.Provider,
		SystemPrompt: agent.SystemPrompt,
		MaxTurns:     agent.MaxTurns,
		Binary:       p.Command,
		BaseURL:      p.BaseURL,
	}
	if p.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(p.APIKeyEnv)
	}
	return cfg, nil
}

// ProviderOf returns the provider name a role uses.
func (c *Config) ProviderOf(role string) string {
	return c.Agents[role].Provider
}

// RequestsPerMinute returns the rate limit of a provider.
func (c *Config) RequestsPerMinute(provider string) float64 {
	if p, ok := c.Providers[provider]; ok && p.RateLimit > 0 {
		return p.RateLimit
	}
	return c.RateLimit.RequestsPerMinute
}

// Gate returns the approval thresholds.
func (c *Config) Gate() orchestrator.Gate {
	g := orchestrator.DefaultGate()
	for name, v := range c.Loop.Thresholds {
		g.Thresholds[orchestrator.RubricCategory(name)] = v
	}
	return g
}

// LoopConfig returns the quality loop settings.
func (c *Config) LoopConfig() orchestrator.LoopConfig {
	return orchestrator.LoopConfig{
		MaxIterations:    c.Loop.MaxIterations,
		ToolBudget:       c.Loop.ToolBudget,
		HandlerToolLimit: c.Loop.HandlerToolLimit,
		Gate:             c.Gate(),
		StageTimeout:     c.Loop.StageTimeout.Std(),
	}
}

// RetryPolicy returns the backoff settings for provider calls.
func (c *Config) RetryPolicy() backend.RetryConfig {
	return backend.RetryConfig{
		InitialInterval:     c.Retry.InitialInterval.Std(),
		MaxInterval:         c.Retry.MaxInterval.Std(),
		MaxElapsedTime:      c.Retry.MaxElapsedTime.Std(),
		Multiplier:          c.Retry.Multiplier,
		RandomizationFactor: c.Retry.RandomizationFactor,
	}
}

// BreakerPolicy returns the circuit breaker settings.
func (c *Config) BreakerPolicy() backend.BreakerConfig {
	return backend.BreakerConfig{
		ConsecutiveFailures: c.Breaker.ConsecutiveFailures,
		OpenTimeout:         c.Breaker.OpenTimeout.Std(),
		HalfOpenRequests:    c.Breaker.HalfOpenRequests,
	}
}

// LintChecks returns the configured deterministic checks.
func (c *Config) LintChecks() []lint.Check {
	var checks []lint.Check
	if c.Lint.Builtin {
		checks = append(checks, lint.HTMLChecker{})
	}
	for _, cmd := range c.Lint.Commands {
		checks = append(checks, lint.Command{Tool: cmd.Tool, Line: cmd.Command, Timeout: cmd.Timeout.Std()})
	}
	return checks
}
