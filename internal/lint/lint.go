// Package lint runs deterministic checks over an assembled artifact. Every
// finding is advisory: a checker that cannot run reports an info issue
// instead of failing the loop.
package lint

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// Check is one deterministic checker.
type Check interface {
	Name() string
	Run(ctx context.Context, artifact orchestrator.Artifact) ([]orchestrator.LintIssue, error)
}

// Suite runs its checks concurrently and merges their findings.
type Suite struct {
	checks []Check
	logger *zap.Logger
}

// NewSuite creates a suite. A nil logger is replaced by a no-op.
func NewSuite(logger *zap.Logger, checks ...Check) *Suite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suite{checks: checks, logger: logger}
}

// Lint implements orchestrator.Linter. Issues are ordered by check, in the
// order the checks were given, and keep each check's own order.
func (s *Suite) Lint(ctx context.Context, artifact orchestrator.Artifact) (orchestrator.LintReport, error) {
	results := make([][]orchestrator.LintIssue, len(s.checks))

	// A broken checker never stops its siblings, so the group carries no
	// cancellation of its own.
	var g errgroup.Group
	for i, check := range s.checks {
		i, check := i, check
		g.Go(func() error {
			issues, err := check.Run(ctx, artifact)
			if err != nil {
				s.logger.Info("lint check could not run",
					zap.String("tool", check.Name()),
					zap.Error(err))
				issues = append(issues, orchestrator.LintIssue{
					Tool:     check.Name(),
					Severity: orchestrator.SeverityInfo,
					Message:  fmt.Sprintf("check did not run: %v", err),
				})
			}
			results[i] = issues
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return orchestrator.LintReport{}, err
	}

	var report orchestrator.LintReport
	for _, issues := range results {
		report.Issues = append(report.Issues, issues...)
	}
	return report, nil
}

// Summary counts issues per severity in a stable order, for logs and prompts.
func Summary(r orchestrator.LintReport) string {
	counts := map[string]int{}
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[k], k)
	}
	if out == "" {
		return "no issues"
	}
	return out
}
