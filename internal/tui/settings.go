package tui

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/lmandrelli/grape-coder/internal/agents"
	"github.com/lmandrelli/grape-coder/internal/config"
)

// Roles edited together by the settings form.
var (
	generatorRoles = []agents.Role{
		agents.RolePlanner, agents.RoleHTML, agents.RoleJS, agents.RoleCSS,
		agents.RoleText, agents.RoleAssembler, agents.RoleReviser,
	}
	reviewRoles = []agents.Role{agents.RoleReviewer, agents.RoleScorer, agents.RoleTaskGenerator}
)

// Save targets offered by the form.
const (
	SaveGlobal  = "global"
	SaveProject = "project"
)

// Settings holds the values edited by the settings form. Numbers are
// strings because huh inputs bind to strings.
type Settings struct {
	SaveTarget        string
	GeneratorProvider string
	GeneratorModel    string
	ReviewProvider    string
	ReviewModel       string
	MaxIterations     string
	ClaudeCommand     string
	CodexCommand      string
	GooseCommand      string
	OpenAIBaseURL     string
}

// SettingsFrom reads the current values out of cfg.
func SettingsFrom(cfg *config.Config) Settings {
	gen := cfg.Agents[string(agents.RoleHTML)]
	rev := cfg.Agents[string(agents.RoleReviewer)]
	return Settings{
		SaveTarget:        SaveProject,
		GeneratorProvider: gen.Provider,
		GeneratorModel:    gen.Model,
		ReviewProvider:    rev.Provider,
		ReviewModel:       rev.Model,
		MaxIterations:     strconv.Itoa(cfg.Loop.MaxIterations),
		ClaudeCommand:     cfg.Providers["claude"].Command,
		CodexCommand:      cfg.Providers["codex"].Command,
		GooseCommand:      cfg.Providers["goose"].Command,
		OpenAIBaseURL:     cfg.Providers["openai"].BaseURL,
	}
}

// Apply copies the settings into cfg and validates the result.
func (s Settings) Apply(cfg *config.Config) error {
	n, err := strconv.Atoi(s.MaxIterations)
	if err != nil || n < 1 {
		return fmt.Errorf("max iterations must be a positive integer, got %q", s.MaxIterations)
	}
	cfg.Loop.MaxIterations = n

	setAgents(cfg, generatorRoles, s.GeneratorProvider, s.GeneratorModel)
	setAgents(cfg, reviewRoles, s.ReviewProvider, s.ReviewModel)

	setProvider(cfg, "claude", func(p *config.ProviderConfig) { p.Command = s.ClaudeCommand })
	setProvider(cfg, "codex", func(p *config.ProviderConfig) { p.Command = s.CodexCommand })
	setProvider(cfg, "goose", func(p *config.ProviderConfig) { p.Command = s.GooseCommand })
	setProvider(cfg, "openai", func(p *config.ProviderConfig) { p.BaseURL = s.OpenAIBaseURL })

	return cfg.Validate()
}

func setAgents(cfg *config.Config, roles []agents.Role, provider, model string) {
	for _, r := range roles {
		a := cfg.Agents[string(r)]
		a.Provider = provider
		a.Model = model
		cfg.Agents[string(r)] = a
	}
}

func setProvider(cfg *config.Config, name string, fn func(*config.ProviderConfig)) {
	if p, ok := cfg.Providers[name]; ok {
		fn(&p)
		cfg.Providers[name] = p
	}
}

// Path returns the file the settings should be saved to.
func (s Settings) Path(globalPath, projectPath string) string {
	if s.SaveTarget == SaveGlobal {
		return globalPath
	}
	return projectPath
}

// Form builds the huh form bound to s.
func (s *Settings) Form(cfg *config.Config, globalPath, projectPath string) *huh.Form {
	var providers []huh.Option[string]
	for _, name := range providerNames(cfg) {
		providers = append(providers, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+projectPath+")", SaveProject),
					huh.NewOption("Global ("+globalPath+")", SaveGlobal),
				).
				Value(&s.SaveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("generatorProvider").
				Title("Generator Provider").
				Description("Planner, html, js, css, text, assembler and reviser agents").
				Options(providers...).
				Value(&s.GeneratorProvider),

			huh.NewInput().
				Key("generatorModel").
				Title("Generator Model").
				Value(&s.GeneratorModel).
				Placeholder("provider default"),

			huh.NewSelect[string]().
				Key("reviewProvider").
				Title("Review Provider").
				Description("Reviewer, scorer and task generator agents").
				Options(providers...).
				Value(&s.ReviewProvider),

			huh.NewInput().
				Key("reviewModel").
				Title("Review Model").
				Value(&s.ReviewModel).
				Placeholder("provider default"),
		).Title("Agents"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxIterations").
				Title("Max Iterations").
				Value(&s.MaxIterations).
				Validate(func(v string) error {
					if n, err := strconv.Atoi(v); err != nil || n < 1 {
						return fmt.Errorf("enter a positive integer")
					}
					return nil
				}),
		).Title("Quality Gate"),

		huh.NewGroup(
			huh.NewInput().
				Key("claudeCommand").
				Title("Claude Command").
				Value(&s.ClaudeCommand).
				Placeholder("claude"),

			huh.NewInput().
				Key("codexCommand").
				Title("Codex Command").
				Value(&s.CodexCommand).
				Placeholder("codex"),

			huh.NewInput().
				Key("gooseCommand").
				Title("Goose Command").
				Value(&s.GooseCommand).
				Placeholder("goose"),

			huh.NewInput().
				Key("openaiBaseURL").
				Title("OpenAI-compatible Base URL").
				Value(&s.OpenAIBaseURL).
				Placeholder("http://localhost:1234/v1"),
		).Title("Providers"),
	)
}

// RunSettings shows the settings form, applies the answers to cfg and
// saves it. It returns the path written.
func RunSettings(cfg *config.Config, globalPath, projectPath string) (string, error) {
	s := SettingsFrom(cfg)
	if err := s.Form(cfg, globalPath, projectPath).Run(); err != nil {
		return "", err
	}
	if err := s.Apply(cfg); err != nil {
		return "", err
	}
	path := s.Path(globalPath, projectPath)
	if err := config.Save(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
