package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Generator is the handler for one content category.
type Generator struct {
	team     *Team
	role     Role
	category scheduler.Category
	files    []string
}

// Generator returns the handler for cat. files are the paths it owns.
// Categories without a generator role get the text role.
func (t *Team) Generator(cat scheduler.Category, files ...string) *Generator {
	role, ok := RoleFor(cat)
	if !ok {
		role = RoleText
	}
	return &Generator{team: t, role: role, category: cat, files: files}
}

func (g *Generator) ID() string { return string(g.role) }

// Invoke asks the role's backend to carry out every task of the category in
// one conversation turn.
func (g *Generator) Invoke(ctx context.Context, tasks []scheduler.Task, hc orchestrator.HandlerContext) (orchestrator.CategoryOutput, error) {
	prompt, err := render(generationPrompt, map[string]any{
		"Role":    g.role,
		"Focus":   focus[g.role],
		"Brief":   hc.Brief,
		"WorkDir": hc.WorkDir,
		"Files":   g.files,
		"Tasks":   tasks,
	})
	if err != nil {
		return orchestrator.CategoryOutput{}, err
	}

	s, err := g.team.open(g.role, hc)
	if err != nil {
		return orchestrator.CategoryOutput{}, err
	}
	defer s.close()

	resp, err := s.send(ctx, prompt)
	if err != nil {
		return orchestrator.CategoryOutput{}, err
	}

	out := orchestrator.CategoryOutput{Content: strings.TrimSpace(resp.Content)}
	if out.Content == "" {
		out.Issues = append(out.Issues, fmt.Sprintf("%s agent returned an empty reply", g.role))
	}
	return out, nil
}
