package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// OutputStatus is the outcome of a single handler invocation.
type OutputStatus int

const (
	OutputOK       OutputStatus = iota // Full success
	OutputDegraded                     // Content produced with non-fatal issues; joins as a success
	OutputFailed                       // Error, timeout, cancellation or budget overrun
)

func (s OutputStatus) String() string {
	switch s {
	case OutputOK:
		return "ok"
	case OutputDegraded:
		return "degraded"
	case OutputFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CategoryOutput is what one handler produced for one category.
// It is never modified after the dispatcher records it.
type CategoryOutput struct {
	Category  scheduler.Category
	Content   string
	HandlerID string
	Status    OutputStatus
	Issues    []string // Non-fatal problems reported alongside content
	Err       error    // Set when Status is OutputFailed
	Duration  time.Duration
}

// Failed reports whether the output represents a handler failure.
func (o CategoryOutput) Failed() bool {
	return o.Status == OutputFailed
}

// Artifact is one revision of the assembled deliverable on disk.
type Artifact struct {
	Revision   int    // Strictly increasing, starting at 1
	Root       string // Work directory holding the files
	EntryPoint string // Main file relative to Root, e.g. index.html
	Summary    string
	CreatedAt  time.Time
}

// RubricCategory names one scored dimension of an artifact.
type RubricCategory string

const (
	RubricValidity       RubricCategory = "code_validity"
	RubricIntegration    RubricCategory = "integration"
	RubricResponsiveness RubricCategory = "responsiveness"
	RubricBestPractices  RubricCategory = "best_practices"
	RubricAccessibility  RubricCategory = "accessibility"
)

// RubricCategories lists every scored dimension in report order.
var RubricCategories = []RubricCategory{
	RubricValidity,
	RubricIntegration,
	RubricResponsiveness,
	RubricBestPractices,
	RubricAccessibility,
}

// MaxScore is the top of every rubric scale.
const MaxScore = 20

// Scores maps each rubric category to a value in [0, MaxScore].
type Scores map[RubricCategory]int

// Total sums the scores over RubricCategories.
func (s Scores) Total() int {
	total := 0
	for _, c := range RubricCategories {
		total += s[c]
	}
	return total
}

// Strings converts scores to a plain map, for events and storage.
func (s Scores) Strings() map[string]int {
	out := make(map[string]int, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

// Verdict is the gate's decision on a score breakdown.
type Verdict int

const (
	VerdictNeedsRevision Verdict = iota
	VerdictApproved
)

func (v Verdict) String() string {
	if v == VerdictApproved {
		return "approved"
	}
	return "needs-revision"
}

// Lint severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// LintIssue is one finding from a deterministic checker.
type LintIssue struct {
	Tool     string
	Severity string
	Message  string
	Location string // file[:line]; empty when not applicable
}

// LintReport is the advisory output of the Lint stage.
type LintReport struct {
	Issues []LintIssue
}

// Count returns the number of issues with the given severity.
func (r LintReport) Count(severity string) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			n++
		}
	}
	return n
}

// ReviewReport records one pass through Lint, Review and Score.
type ReviewReport struct {
	Iteration int
	Feedback  string
	Scores    Scores
	Verdict   Verdict
	Lint      LintReport
}

// IterationState is the loop's position and remaining budget.
// It is passed by value; only the loop controller produces new states.
type IterationState struct {
	Iteration               int
	ToolCallBudgetRemaining int
	MaxIterations           int
}

// DesignBrief is the shared, read-only description of what is being built.
type DesignBrief struct {
	Goal    string // What the user asked for
	Context string // Shared planner context handed to every handler
	Style   string // Optional style guidance
}

// HandlerContext is the read-only context every collaborator call receives.
type HandlerContext struct {
	RunID     string
	Brief     DesignBrief
	WorkDir   string
	Iteration int    // 0 during the initial fan-out
	HandlerID string // Set by the caller for each invocation
	Meter     Meter  // Where tool-call consumption is reported; may be nil
}

// Consume reports n tool calls for this handler against the current budget.
// With no meter attached every call is allowed.
func (hc HandlerContext) Consume(ctx context.Context, n int) error {
	if hc.Meter == nil || n <= 0 {
		return nil
	}
	_, err := hc.Meter.Consume(ctx, hc.HandlerID, n)
	return err
}

// Result is the final outcome of a pipeline run.
type Result struct {
	RunID          string
	Artifact       Artifact // Last good artifact
	FinalScores    Scores
	IterationsUsed int
	Approved       bool
	Reports        []ReviewReport
	Outputs        map[scheduler.Category]CategoryOutput // Initial fan-out outputs
}

// sortedOutputCategories returns the categories present in outputs in the
// fixed scheduler order.
func sortedOutputCategories(outputs map[scheduler.Category]CategoryOutput) []scheduler.Category {
	cats := make([]scheduler.Category, 0, len(outputs))
	for cat := range outputs {
		cats = append(cats, cat)
	}
	order := make(map[scheduler.Category]int, len(scheduler.Categories))
	for i, cat := range scheduler.Categories {
		order[cat] = i
	}
	sort.Slice(cats, func(i, j int) bool { return order[cats[i]] < order[cats[j]] })
	return cats
}
