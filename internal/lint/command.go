package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// DefaultTimeout bounds every external linter run.
const DefaultTimeout = 120 * time.Second

// maxLines caps the lines kept from one tool's output.
const maxLines = 40

// Command runs an external linter through the shell in the artifact root.
// Output lines become issues: warnings when the tool exits non-zero, info
// otherwise.
type Command struct {
	Tool    string
	Line    string
	Timeout time.Duration
}

// DefaultCommands are the web linters run when none are configured.
func DefaultCommands() []Command {
	return []Command{
		{Tool: "oxlint", Line: "npx --no-install oxlint ."},
		{Tool: "markuplint", Line: `npx --no-install markuplint "**/*.html"`},
		{Tool: "purgecss", Line: `npx --no-install purgecss --css "**/*.css" --content "**/*.html" --rejected`},
		{Tool: "linkinator", Line: `npx --no-install linkinator . --recurse --skip "^https?://"`},
	}
}

func (c Command) Name() string { return c.Tool }

func (c Command) Run(ctx context.Context, artifact orchestrator.Artifact) ([]orchestrator.LintIssue, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Line)
	cmd.Dir = artifact.Root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s timed out after %s", c.Tool, timeout)
	}

	severity := orchestrator.SeverityInfo
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", c.Tool, err)
		}
		// 127: the shell could not find the tool.
		if exitErr.ExitCode() == 127 {
			return nil, fmt.Errorf("%s is not installed", c.Tool)
		}
		severity = orchestrator.SeverityWarning
	}

	return outputIssues(c.Tool, severity, out.String()), nil
}

func outputIssues(tool, severity, output string) []orchestrator.LintIssue {
	var issues []orchestrator.LintIssue
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(issues) == maxLines {
			issues = append(issues, orchestrator.LintIssue{
				Tool:     tool,
				Severity: orchestrator.SeverityInfo,
				Message:  "output truncated",
			})
			break
		}
		issues = append(issues, orchestrator.LintIssue{Tool: tool, Severity: severity, Message: line})
	}
	return issues
}
