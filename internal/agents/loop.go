package agents

import (
	"context"
	"strings"
	"time"

	"github.com/lmandrelli/grape-coder/internal/lint"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/planfile"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Reviewer writes free-form feedback on a revision.
type Reviewer struct{ team *Team }

// Reviewer returns the team's reviewer.
func (t *Team) Reviewer() *Reviewer { return &Reviewer{team: t} }

func (r *Reviewer) Review(ctx context.Context, artifact orchestrator.Artifact, report orchestrator.LintReport, hc orchestrator.HandlerContext) (string, error) {
	prompt, err := render(reviewPrompt, map[string]any{
		"Artifact":    artifact,
		"Brief":       hc.Brief,
		"Lint":        report,
		"LintSummary": lint.Summary(report),
	})
	if err != nil {
		return "", err
	}

	s, err := r.team.open(RoleReviewer, hc)
	if err != nil {
		return "", err
	}
	defer s.close()

	resp, err := s.send(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Scorer rates feedback against the rubric as <review_scores> XML.
type Scorer struct{ team *Team }

// Scorer returns the team's scorer.
func (t *Team) Scorer() *Scorer { return &Scorer{team: t} }

func (sc *Scorer) Score(ctx context.Context, artifact orchestrator.Artifact, feedback string, hc orchestrator.HandlerContext) (orchestrator.Scores, error) {
	prompt, err := render(scorePrompt, map[string]any{"Feedback": feedback})
	if err != nil {
		return nil, err
	}

	s, err := sc.team.open(RoleScorer, hc)
	if err != nil {
		return nil, err
	}
	defer s.close()

	return askStructured(ctx, s, prompt, sc.team.xmlRetries, "review_scores", planfile.ParseScores)
}

// TaskGenerator turns feedback into a revision ledger via <review> XML.
type TaskGenerator struct {
	team *Team
	gate orchestrator.Gate
}

// TaskGenerator returns the team's task generator, showing the model the
// default thresholds until WithGate replaces them.
func (t *Team) TaskGenerator() *TaskGenerator {
	return &TaskGenerator{team: t, gate: orchestrator.DefaultGate()}
}

// WithGate sets the thresholds shown to the model. A gate without
// thresholds keeps the defaults.
func (g *TaskGenerator) WithGate(gate orchestrator.Gate) *TaskGenerator {
	if gate.Thresholds != nil {
		g.gate = gate
	}
	return g
}

type scoreLine struct {
	Name      string
	Value     int
	Threshold int
}

func (g *TaskGenerator) GenerateTasks(ctx context.Context, artifact orchestrator.Artifact, feedback string, scores orchestrator.Scores, hc orchestrator.HandlerContext) ([]scheduler.Task, error) {
	lines := make([]scoreLine, 0, len(orchestrator.RubricCategories))
	for _, c := range orchestrator.RubricCategories {
		lines = append(lines, scoreLine{Name: string(c), Value: scores[c], Threshold: g.gate.Threshold(c)})
	}
	var failing []string
	for _, c := range g.gate.Failing(scores) {
		failing = append(failing, string(c))
	}

	prompt, err := render(taskPrompt, map[string]any{
		"Feedback": feedback,
		"Scores":   lines,
		"Failing":  failing,
	})
	if err != nil {
		return nil, err
	}

	s, err := g.team.open(RoleTaskGenerator, hc)
	if err != nil {
		return nil, err
	}
	defer s.close()

	review, err := askStructured(ctx, s, prompt, g.team.xmlRetries, "review", planfile.ParseReview)
	if err != nil {
		return nil, err
	}
	if len(review.Tasks) == 0 {
		g.team.logger.Warn("task generator produced no tasks; revising from the summary")
		if review.Summary == "" {
			review.Summary = feedback
		}
		review.Tasks = []scheduler.Task{{
			ID:          "revision-1",
			Description: review.Summary,
			Priority:    scheduler.PriorityMedium,
		}}
	}
	return review.Tasks, nil
}

// Reviser applies a revision ledger in place.
type Reviser struct{ team *Team }

// Reviser returns the team's reviser.
func (t *Team) Reviser() *Reviser { return &Reviser{team: t} }

func (r *Reviser) Revise(ctx context.Context, artifact orchestrator.Artifact, ledger *scheduler.Ledger, hc orchestrator.HandlerContext) (orchestrator.Artifact, error) {
	prompt, err := render(revisionPrompt, map[string]any{
		"Artifact": artifact,
		"Brief":    hc.Brief,
		"Tasks":    scheduler.SortByPriority(ledger.Tasks()),
	})
	if err != nil {
		return orchestrator.Artifact{}, err
	}

	s, err := r.team.open(RoleReviser, hc)
	if err != nil {
		return orchestrator.Artifact{}, err
	}
	defer s.close()

	resp, err := s.send(ctx, prompt)
	if err != nil {
		return orchestrator.Artifact{}, err
	}

	next := artifact
	next.Summary = strings.TrimSpace(resp.Content)
	next.CreatedAt = time.Now()
	return next, nil
}
