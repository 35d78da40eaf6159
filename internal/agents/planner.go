package agents

import (
	"context"
	"strings"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/planfile"
)

// Planner turns a free-form goal into a task distribution.
type Planner struct{ team *Team }

// Planner returns the team's planner.
func (t *Team) Planner() *Planner { return &Planner{team: t} }

// Plan asks the planner role for a <task_distribution> and parses it.
func (p *Planner) Plan(ctx context.Context, goal, workDir string) (planfile.Plan, error) {
	prompt, err := render(planPrompt, map[string]any{"Goal": goal})
	if err != nil {
		return planfile.Plan{}, err
	}

	s, err := p.team.open(RolePlanner, orchestrator.HandlerContext{WorkDir: workDir, HandlerID: string(RolePlanner)})
	if err != nil {
		return planfile.Plan{}, err
	}
	defer s.close()

	plan, err := askStructured(ctx, s, prompt, p.team.xmlRetries, "task_distribution", planfile.ParseDistribution)
	if err != nil {
		return planfile.Plan{}, err
	}
	plan.Brief.Goal = strings.TrimSpace(goal)
	return plan, nil
}
