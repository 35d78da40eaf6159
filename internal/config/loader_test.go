package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name           string
		global         string
		project        string
		expectAgents   int
		checkAgent     string
		expectProvider string
		expectModel    string
		expectPrompt   bool
	}{
		{
			name:           "No config files - returns defaults",
			expectAgents:   10,
			checkAgent:     "html",
			expectProvider: "claude",
			expectPrompt:   true,
		},
		{
			name:           "Global only - adds new agent",
			global:         "agents:\n  seo:\n    provider: goose\n    system_prompt: You write meta tags.\n",
			expectAgents:   11,
			checkAgent:     "seo",
			expectProvider: "goose",
			expectPrompt:   true,
		},
		{
			name:           "Project only - overrides provider, keeps default prompt",
			project:        "agents:\n  css:\n    provider: codex\n",
			expectAgents:   10,
			checkAgent:     "css",
			expectProvider: "codex",
			expectPrompt:   true,
		},
		{
			name:           "Project overrides global - project wins",
			global:         "agents:\n  reviewer:\n    provider: goose\n    model: model-x\n",
			project:        "agents:\n  reviewer:\n    provider: codex\n    model: model-y\n",
			expectAgents:   10,
			checkAgent:     "reviewer",
			expectProvider: "codex",
			expectModel:    "model-y",
			expectPrompt:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath, projectPath := "", ""
			if tt.global != "" {
				globalPath = writeFile(t, dir, "global.yaml", tt.global)
			}
			if tt.project != "" {
				projectPath = writeFile(t, dir, "project.yaml", tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(cfg.Providers) != 4 {
				t.Errorf("expected 4 providers, got %d", len(cfg.Providers))
			}
			if len(cfg.Agents) != tt.expectAgents {
				t.Errorf("expected %d agents, got %d", tt.expectAgents, len(cfg.Agents))
			}

			agent, ok := cfg.Agents[tt.checkAgent]
			if !ok {
				t.Fatalf("agent %q not found", tt.checkAgent)
			}
			if agent.Provider != tt.expectProvider {
				t.Errorf("expected provider %q, got %q", tt.expectProvider, agent.Provider)
			}
			if agent.Model != tt.expectModel {
				t.Errorf("expected model %q, got %q", tt.expectModel, agent.Model)
			}
			if tt.expectPrompt && agent.SystemPrompt == "" {
				t.Error("expected a system prompt")
			}
		})
	}
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "also-nope.yaml"))
	if err != nil {
		t.Fatalf("missing files should not be an error: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("expected defaults when no file exists")
	}
}

func TestLoadDurationsAndSections(t *testing.T) {
	dir := t.TempDir()
	project := writeFile(t, dir, "project.yaml", `
loop:
  max_iterations: 5
  handler_timeout: 45s
  thresholds:
    accessibility: 18
lint:
  builtin: false
  commands:
    - tool: stylelint
      command: npx --no-install stylelint "**/*.css"
      timeout: 30s
breaker:
  open_timeout: 1m
storage:
  git_snapshots: false
`)

	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loop.MaxIterations != 5 {
		t.Errorf("expected 5 iterations, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.HandlerTimeout.Std() != 45*time.Second {
		t.Errorf("expected 45s handler timeout, got %s", cfg.Loop.HandlerTimeout)
	}
	if cfg.Loop.ToolBudget != 50 {
		t.Errorf("expected the default tool budget to survive, got %d", cfg.Loop.ToolBudget)
	}
	if len(cfg.Lint.Commands) != 1 || cfg.Lint.Commands[0].Tool != "stylelint" || cfg.Lint.Commands[0].Timeout.Std() != 30*time.Second {
		t.Errorf("expected the command list to be replaced, got %+v", cfg.Lint.Commands)
	}
	if cfg.Breaker.OpenTimeout.Std() != time.Minute {
		t.Errorf("expected 1m open timeout, got %s", cfg.Breaker.OpenTimeout)
	}
	if cfg.Storage.GitSnapshots {
		t.Error("expected git snapshots to be disabled")
	}

	gate := cfg.Gate()
	if gate.Threshold(orchestrator.RubricAccessibility) != 18 {
		t.Errorf("expected accessibility threshold 18, got %d", gate.Threshold(orchestrator.RubricAccessibility))
	}
	if gate.Threshold(orchestrator.RubricValidity) != 17 {
		t.Errorf("expected validity threshold 17, got %d", gate.Threshold(orchestrator.RubricValidity))
	}
	if len(cfg.LintChecks()) != 1 {
		t.Errorf("expected only the configured command, got %d checks", len(cfg.LintChecks()))
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GRAPE_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("GRAPE_RATE_LIMIT_REQUESTS_PER_MINUTE", "30")
	t.Setenv("GRAPE_LOG_LEVEL", "debug")
	t.Setenv("GRAPE_METRICS_LISTEN", "127.0.0.1:9464")

	dir := t.TempDir()
	project := writeFile(t, dir, "project.yaml", "loop:\n  max_iterations: 2\n")

	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Errorf("expected the environment to win, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("expected 30 requests per minute, got %v", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug log level, got %q", cfg.Log.Level)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("expected metrics listen address, got %q", cfg.Metrics.Listen)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"GRAPE_LOOP_MAX_ITERATIONS": "loop.max_iterations",
		"GRAPE_RATE_LIMIT_BURST":    "rate_limit.burst",
		"GRAPE_STORAGE_DATABASE":    "storage.database",
		"GRAPE_LOG_FORMAT":          "log.format",
		"GRAPE_UNKNOWN_THING":       "",
		"GRAPE_LOOP":                "",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	project := writeFile(t, dir, "project.yaml", "agents: [unterminated\n")

	_, err := Load("", project)
	if err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "project config") {
		t.Errorf("expected the error to name the project config, got: %v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	project := writeFile(t, dir, "project.yaml", `
agents:
  html:
    provider: missing
loop:
  max_iterations: 0
  thresholds:
    speed: 10
    accessibility: 25
log:
  level: loud
`)

	_, err := Load("", project)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		`agent "html" references unknown provider "missing"`,
		"loop.max_iterations must be at least 1",
		`unknown rubric category "speed"`,
		"loop.thresholds.accessibility: 25 is outside 0-20",
		"log:",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to contain %q, got: %v", want, err)
		}
	}
}

func TestBackendResolution(t *testing.T) {
	t.Setenv("TEST_GRAPE_KEY", "secret")

	cfg := DefaultConfig()
	cfg.Providers["local"] = ProviderConfig{Type: "openai", BaseURL: "http://localhost:1234/v1", Model: "qwen", APIKeyEnv: "TEST_GRAPE_KEY", RateLimit: 20}
	cfg.Agents["css"] = AgentConfig{Provider: "local", SystemPrompt: "css only"}
	cfg.Agents["html"] = AgentConfig{Provider: "local", Model: "llama", MaxTurns: 8}

	css, err := cfg.Backend("css", "/work")
	if err != nil {
		t.Fatalf("Backend failed: %v", err)
	}
	if css.Type != "openai" || css.Model != "qwen" || css.APIKey != "secret" || css.WorkDir != "/work" || css.SystemPrompt != "css only" {
		t.Errorf("unexpected css backend config: %+v", css)
	}

	html, err := cfg.Backend("html", "/work")
	if err != nil {
		t.Fatalf("Backend failed: %v", err)
	}
	if html.Model != "llama" || html.MaxTurns != 8 {
		t.Errorf("expected the agent model and turn cap, got %+v", html)
	}

	if _, err := cfg.Backend("nobody", "/work"); err == nil {
		t.Error("expected an error for an unknown role")
	}

	if got := cfg.RequestsPerMinute("local"); got != 20 {
		t.Errorf("expected provider rate 20, got %v", got)
	}
	if got := cfg.RequestsPerMinute("claude"); got != 0 {
		t.Errorf("expected the default rate, got %v", got)
	}
}

func TestLoopConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	loop := cfg.LoopConfig()
	if loop.MaxIterations != 3 || loop.ToolBudget != 50 || loop.HandlerToolLimit != 50 {
		t.Errorf("unexpected loop config: %+v", loop)
	}
	if loop.StageTimeout != 10*time.Minute {
		t.Errorf("expected 10m stage timeout, got %s", loop.StageTimeout)
	}
	if !reflect.DeepEqual(loop.Gate, orchestrator.DefaultGate()) {
		t.Errorf("expected the default gate, got %+v", loop.Gate)
	}

	retry := cfg.RetryPolicy()
	if retry.InitialInterval != 100*time.Millisecond || retry.Multiplier != 2.0 {
		t.Errorf("unexpected retry policy: %+v", retry)
	}
	if cfg.BreakerPolicy().OpenTimeout != 30*time.Second {
		t.Errorf("unexpected breaker policy: %+v", cfg.BreakerPolicy())
	}
	if len(cfg.LintChecks()) != 5 {
		t.Errorf("expected builtin plus 4 commands, got %d", len(cfg.LintChecks()))
	}
}
