package orchestrator

import (
	"context"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Handler generates content for the tasks of one category.
// Invoke receives only that category's tasks. An error, or an output with
// Status OutputFailed, is recorded as a failure for the category.
type Handler interface {
	ID() string
	Invoke(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error)
}

func (h HandlerFunc) ID() string { return h.Name }

func (h HandlerFunc) Invoke(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
	return h.Fn(ctx, tasks, hc)
}

// Assembler merges every category output into one artifact.
// instructions are the tasks classified as assembly work. The assembler
// decides whether failed outputs are tolerable; returning an error stops the
// run with an AssemblyError.
type Assembler interface {
	Assemble(ctx context.Context, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error)
}

// Linter runs deterministic checks on an artifact. Findings are advisory.
type Linter interface {
	Lint(ctx context.Context, artifact Artifact) (LintReport, error)
}

// Reviewer produces free-form feedback on an artifact.
type Reviewer interface {
	Review(ctx context.Context, artifact Artifact, lint LintReport, hc HandlerContext) (string, error)
}

// Scorer rates an artifact against the rubric.
type Scorer interface {
	Score(ctx context.Context, artifact Artifact, feedback string, hc HandlerContext) (Scores, error)
}

// TaskGenerator turns review feedback into revision tasks.
type TaskGenerator interface {
	GenerateTasks(ctx context.Context, artifact Artifact, feedback string, scores Scores, hc HandlerContext) ([]scheduler.Task, error)
}

// Reviser applies a revision ledger to an artifact and returns the result.
// The controller assigns the new revision number.
type Reviser interface {
	Revise(ctx context.Context, artifact Artifact, ledger *scheduler.Ledger, hc HandlerContext) (Artifact, error)
}

// Meter accepts tool-call consumption reports from handlers.
// Consume returns the pool remaining after the report, or ErrBudgetExceeded
// when the report does not fit.
type Meter interface {
	Consume(ctx context.Context, handlerID string, n int) (int, error)
}
