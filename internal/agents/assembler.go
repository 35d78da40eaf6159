package agents

import (
	"context"
	"strings"
	"time"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Assembler merges the category outputs into the first revision.
type Assembler struct {
	team *Team
}

// Assembler returns the team's assembler.
func (t *Team) Assembler() *Assembler {
	return &Assembler{team: t}
}

// Assemble fails with ErrNoHandlerOutput only when every category failed;
// otherwise the model is told which parts are missing and fills the gaps.
func (a *Assembler) Assemble(ctx context.Context, outputs map[scheduler.Category]orchestrator.CategoryOutput, instructions []scheduler.Task, hc orchestrator.HandlerContext) (orchestrator.Artifact, error) {
	ordered := make([]orchestrator.CategoryOutput, 0, len(outputs))
	failed := 0
	for _, cat := range scheduler.Categories {
		out, ok := outputs[cat]
		if !ok {
			continue
		}
		if out.Failed() {
			failed++
		}
		ordered = append(ordered, out)
	}
	if len(ordered) > 0 && failed == len(ordered) {
		return orchestrator.Artifact{}, orchestrator.ErrNoHandlerOutput
	}

	prompt, err := render(assemblyPrompt, map[string]any{
		"EntryPoint":   a.team.entryPoint,
		"Brief":        hc.Brief,
		"WorkDir":      hc.WorkDir,
		"Outputs":      ordered,
		"Instructions": instructions,
	})
	if err != nil {
		return orchestrator.Artifact{}, err
	}

	s, err := a.team.open(RoleAssembler, hc)
	if err != nil {
		return orchestrator.Artifact{}, err
	}
	defer s.close()

	resp, err := s.send(ctx, prompt)
	if err != nil {
		return orchestrator.Artifact{}, err
	}

	return orchestrator.Artifact{
		Root:       hc.WorkDir,
		EntryPoint: a.team.entryPoint,
		Summary:    strings.TrimSpace(resp.Content),
		CreatedAt:  time.Now(),
	}, nil
}
