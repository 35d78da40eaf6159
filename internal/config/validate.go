package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

var providerTypes = []string{"claude", "codex", "goose", "openai"}

// Validate checks cross-references and limits. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error

	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		if !slices.Contains(providerTypes, p.Type) {
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", name, p.Type))
		}
		if p.Type == "openai" && p.BaseURL == "" && p.APIKeyEnv == "" {
			errs = append(errs, fmt.Errorf("provider %q: openai providers need base_url or api_key_env", name))
		}
	}

	for _, name := range sortedKeys(c.Agents) {
		a := c.Agents[name]
		if _, ok := c.Providers[a.Provider]; !ok {
			errs = append(errs, fmt.Errorf("agent %q references unknown provider %q", name, a.Provider))
		}
		if a.MaxTurns < 0 {
			errs = append(errs, fmt.Errorf("agent %q: max_turns must not be negative", name))
		}
	}

	if c.Loop.MaxIterations < 1 {
		errs = append(errs, errors.New("loop.max_iterations must be at least 1"))
	}
	if c.Loop.ToolBudget < 1 {
		errs = append(errs, errors.New("loop.tool_budget must be at least 1"))
	}
	if c.Loop.HandlerToolLimit < 0 {
		errs = append(errs, errors.New("loop.handler_tool_limit must not be negative"))
	}
	if c.Loop.XMLRetries < 0 {
		errs = append(errs, errors.New("loop.xml_retries must not be negative"))
	}
	for _, name := range sortedKeys(c.Loop.Thresholds) {
		v := c.Loop.Thresholds[name]
		if !slices.Contains(orchestrator.RubricCategories, orchestrator.RubricCategory(name)) {
			errs = append(errs, fmt.Errorf("loop.thresholds: unknown rubric category %q", name))
		}
		if v < 0 || v > orchestrator.MaxScore {
			errs = append(errs, fmt.Errorf("loop.thresholds.%s: %d is outside 0-%d", name, v, orchestrator.MaxScore))
		}
	}

	for i, cmd := range c.Lint.Commands {
		if cmd.Tool == "" || cmd.Command == "" {
			errs = append(errs, fmt.Errorf("lint.commands[%d]: tool and command are required", i))
		}
	}

	if c.Retry.Multiplier < 1 && c.Retry.Multiplier != 0 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must not be negative"))
	}

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
