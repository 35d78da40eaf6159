package config

import (
	"time"

	"github.com/lmandrelli/grape-coder/internal/lint"
	"github.com/lmandrelli/grape-coder/internal/logging"
)

// Role names of the agents the default configuration binds.
var defaultRoles = []struct {
	name   string
	prompt string
}{
	{"planner", "You break a website request into tasks for a team of specialised agents."},
	{"html", "You write semantic, accessible HTML."},
	{"js", "You write small, dependency-free JavaScript."},
	{"css", "You write responsive CSS and inline SVG."},
	{"text", "You write clear website copy."},
	{"assembler", "You integrate the team's work into one working site."},
	{"reviewer", "You review websites for correctness, accessibility and best practices."},
	{"scorer", "You grade website reviews against a fixed rubric and reply in XML."},
	{"task_generator", "You turn review feedback into concrete revision tasks and reply in XML."},
	{"reviser", "You apply revision tasks to an existing website."},
}

// DefaultConfig returns the built-in providers and agents with the standard
// loop limits.
func DefaultConfig() *Config {
	agents := make(map[string]AgentConfig, len(defaultRoles))
	for _, r := range defaultRoles {
		agents[r.name] = AgentConfig{Provider: "claude", SystemPrompt: r.prompt, MaxTurns: 50}
	}

	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {Type: "claude", Command: "claude"},
			"codex":  {Type: "codex", Command: "codex"},
			"goose":  {Type: "goose", Command: "goose"},
			"openai": {Type: "openai", BaseURL: "http://localhost:1234/v1", APIKeyEnv: "OPENAI_API_KEY"},
		},
		Agents: agents,
		Loop: LoopConfig{
			MaxIterations:    3,
			ToolBudget:       50,
			HandlerToolLimit: 50,
			HandlerTimeout:   Duration(10 * time.Minute),
			StageTimeout:     Duration(10 * time.Minute),
			XMLRetries:       3,
			EntryPoint:       "index.html",
			Thresholds: map[string]int{
				"code_validity":  17,
				"integration":    17,
				"responsiveness": 15,
				"best_practices": 15,
				"accessibility":  15,
			},
		},
		Lint: LintConfig{Builtin: true, Commands: defaultLintCommands()},
		Retry: RetryConfig{
			InitialInterval:     Duration(100 * time.Millisecond),
			MaxInterval:         Duration(10 * time.Second),
			MaxElapsedTime:      Duration(2 * time.Minute),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         Duration(30 * time.Second),
			HalfOpenRequests:    3,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 0, Burst: 1},
		Storage: StorageConfig{
			Database:     ".grape-coder/runs.db",
			GitSnapshots: true,
			AuthorName:   "grape-coder",
			AuthorEmail:  "grape-coder@localhost",
		},
		Log: logging.DefaultConfig(),
	}
}

func defaultLintCommands() []LintCommand {
	var out []LintCommand
	for _, c := range lint.DefaultCommands() {
		out = append(out, LintCommand{Tool: c.Tool, Command: c.Line, Timeout: Duration(lint.DefaultTimeout)})
	}
	return out
}
