package agents

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmandrelli/grape-coder/internal/backend"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// fakeBackend replies from a queue and records every prompt.
type fakeBackend struct {
	mu      sync.Mutex
	replies []backend.Response
	err     error
	prompts []string
	closed  bool
}

func (b *fakeBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, msg.Content)
	if b.err != nil {
		return backend.Response{}, b.err
	}
	if len(b.replies) == 0 {
		return backend.Response{}, errors.New("no reply scripted")
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	return r, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) SessionID() string { return "fake" }

// fakeTeam hands out one fakeBackend per role.
type fakeTeam struct {
	mu       sync.Mutex
	backends map[Role]*fakeBackend
	workDirs map[Role]string
}

func newFakeTeam() *fakeTeam {
	return &fakeTeam{backends: make(map[Role]*fakeBackend), workDirs: make(map[Role]string)}
}

func (f *fakeTeam) script(role Role, replies ...string) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &fakeBackend{}
	for _, r := range replies {
		b.replies = append(b.replies, backend.Response{Content: r})
	}
	f.backends[role] = b
	return b
}

func (f *fakeTeam) factory(role Role, workDir string) (backend.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backends[role]
	if !ok {
		return nil, errors.New("no backend for " + string(role))
	}
	f.workDirs[role] = workDir
	return b, nil
}

type countingMeter struct {
	mu    sync.Mutex
	used  map[string]int
	limit int
}

func (m *countingMeter) Consume(ctx context.Context, handlerID string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used == nil {
		m.used = make(map[string]int)
	}
	if m.limit > 0 && m.used[handlerID]+n > m.limit {
		return 0, orchestrator.ErrBudgetExceeded
	}
	m.used[handlerID] += n
	return m.limit - m.used[handlerID], nil
}

const validScores = `Here you go:
<review_scores>
  <code_validity><score>18</score></code_validity>
  <integration><score>12</score></integration>
  <responsiveness><score>16</score></responsiveness>
  <best_practices><score>15</score></best_practices>
  <accessibility><score>9</score></accessibility>
</review_scores>`

func hc() orchestrator.HandlerContext {
	return orchestrator.HandlerContext{
		RunID:   "run-1",
		WorkDir: "/work/site",
		Brief:   orchestrator.DesignBrief{Goal: "a bakery landing page", Style: "warm colours"},
	}
}

func TestGenerator_Invoke(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleCSS, "  styled the hero section\n")
	team := NewTeam(ft.factory)

	g := team.Generator(scheduler.CategoryVisual, "styles/")
	assert.Equal(t, "css", g.ID())

	tasks := []scheduler.Task{
		{ID: "css-1", Description: "style the hero", Files: []string{"styles/hero.css"}},
		{ID: "css-2", Description: "add a dark theme"},
	}
	out, err := g.Invoke(context.Background(), tasks, hc())
	require.NoError(t, err)
	assert.Equal(t, "styled the hero section", out.Content)
	assert.Empty(t, out.Issues)
	assert.True(t, b.closed)
	assert.Equal(t, "/work/site", ft.workDirs[RoleCSS])

	require.Len(t, b.prompts, 1)
	prompt := b.prompts[0]
	assert.Contains(t, prompt, "a bakery landing page")
	assert.Contains(t, prompt, "warm colours")
	assert.Contains(t, prompt, "1. style the hero (files: styles/hero.css)")
	assert.Contains(t, prompt, "2. add a dark theme")
	assert.Contains(t, prompt, "styles/")
}

func TestGenerator_EmptyReplyIsAnIssue(t *testing.T) {
	ft := newFakeTeam()
	ft.script(RoleHTML, "   ")
	team := NewTeam(ft.factory)

	out, err := team.Generator(scheduler.CategoryStructural).Invoke(context.Background(), []scheduler.Task{{Description: "page"}}, hc())
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Contains(t, out.Issues[0], "empty reply")
}

func TestGenerator_ChargesTurns(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleJS)
	b.replies = []backend.Response{{Content: "done", Turns: 4}}
	team := NewTeam(ft.factory)

	meter := &countingMeter{}
	ctx := hc()
	ctx.Meter = meter
	ctx.HandlerID = "js"

	_, err := team.Generator(scheduler.CategoryBehavioral).Invoke(context.Background(), []scheduler.Task{{Description: "menu toggle"}}, ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, meter.used["js"])
}

func TestGenerator_BudgetExceeded(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleJS)
	b.replies = []backend.Response{{Content: "done", Turns: 9}}
	team := NewTeam(ft.factory)

	ctx := hc()
	ctx.Meter = &countingMeter{limit: 5}
	ctx.HandlerID = "js"

	_, err := team.Generator(scheduler.CategoryBehavioral).Invoke(context.Background(), []scheduler.Task{{Description: "menu toggle"}}, ctx)
	assert.ErrorIs(t, err, orchestrator.ErrBudgetExceeded)
}

func TestGenerator_BackendError(t *testing.T) {
	ft := newFakeTeam()
	ft.script(RoleText).err = errors.New("provider down")
	team := NewTeam(ft.factory)

	_, err := team.Generator(scheduler.CategoryTextual).Invoke(context.Background(), nil, hc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text agent")
	assert.Contains(t, err.Error(), "provider down")
}

func TestTeam_Register(t *testing.T) {
	team := NewTeam(newFakeTeam().factory)
	reg := orchestrator.NewRegistry()

	err := team.Register(reg, map[scheduler.Category][]string{
		scheduler.CategoryVisual:     {"styles/"},
		scheduler.CategoryBehavioral: {"scripts/"},
	})
	require.NoError(t, err)

	assert.Equal(t, []scheduler.Category{
		scheduler.CategoryStructural,
		scheduler.CategoryBehavioral,
		scheduler.CategoryVisual,
		scheduler.CategoryTextual,
	}, reg.Categories())
	assert.Equal(t, []string{"styles/"}, reg.OwnedPaths("css"))

	h, ok := reg.Lookup(scheduler.CategoryStructural)
	require.True(t, ok)
	assert.Equal(t, "html", h.ID())
}

func TestAssembler_RefusesWhenEverythingFailed(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleAssembler, "merged")
	team := NewTeam(ft.factory)

	outputs := map[scheduler.Category]orchestrator.CategoryOutput{
		scheduler.CategoryVisual:     {Category: scheduler.CategoryVisual, Status: orchestrator.OutputFailed, Err: errors.New("boom")},
		scheduler.CategoryBehavioral: {Category: scheduler.CategoryBehavioral, Status: orchestrator.OutputFailed, Err: errors.New("boom")},
	}
	_, err := team.Assembler().Assemble(context.Background(), outputs, nil, hc())
	assert.ErrorIs(t, err, orchestrator.ErrNoHandlerOutput)
	assert.Empty(t, b.prompts)
}

func TestAssembler_ToleratesPartialFailure(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleAssembler, "index.html wired up")
	team := NewTeam(ft.factory, WithEntryPoint("home.html"))

	outputs := map[scheduler.Category]orchestrator.CategoryOutput{
		scheduler.CategoryStructural: {Category: scheduler.CategoryStructural, HandlerID: "html", Content: "<main> skeleton"},
		scheduler.CategoryVisual:     {Category: scheduler.CategoryVisual, HandlerID: "css", Status: orchestrator.OutputFailed, Err: errors.New("timed out")},
	}
	instructions := []scheduler.Task{{Description: "link the stylesheet"}}

	art, err := team.Assembler().Assemble(context.Background(), outputs, instructions, hc())
	require.NoError(t, err)
	assert.Equal(t, "/work/site", art.Root)
	assert.Equal(t, "home.html", art.EntryPoint)
	assert.Equal(t, "index.html wired up", art.Summary)
	assert.False(t, art.CreatedAt.IsZero())

	require.Len(t, b.prompts, 1)
	prompt := b.prompts[0]
	assert.Contains(t, prompt, "home.html")
	assert.Contains(t, prompt, "<main> skeleton")
	assert.Contains(t, prompt, "timed out")
	assert.Contains(t, prompt, "1. link the stylesheet")
}

func TestReviewer_IncludesLint(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleReviewer, "The layout breaks on mobile.")
	team := NewTeam(ft.factory)

	report := orchestrator.LintReport{Issues: []orchestrator.LintIssue{
		{Tool: "html", Severity: orchestrator.SeverityError, Message: "img is missing alt text", Location: "index.html"},
	}}
	feedback, err := team.Reviewer().Review(context.Background(), orchestrator.Artifact{Revision: 2, Root: "/work/site", EntryPoint: "index.html"}, report, hc())
	require.NoError(t, err)
	assert.Equal(t, "The layout breaks on mobile.", feedback)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "revision 2")
	assert.Contains(t, prompt, "img is missing alt text")
	assert.Contains(t, prompt, "index.html:")
}

func TestScorer_RetriesMalformedReply(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleScorer, "I think it deserves a 15", validScores)
	team := NewTeam(ft.factory)

	scores, err := team.Scorer().Score(context.Background(), orchestrator.Artifact{}, "looks fine", hc())
	require.NoError(t, err)
	assert.Equal(t, 18, scores[orchestrator.RubricValidity])
	assert.Equal(t, 9, scores[orchestrator.RubricAccessibility])

	require.Len(t, b.prompts, 2)
	assert.Contains(t, b.prompts[0], "looks fine")
	assert.Contains(t, b.prompts[1], "<review_scores>")
	assert.Contains(t, b.prompts[1], "document not found")
}

func TestScorer_GivesUpAfterRetries(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleScorer, "no", "still no", "nope")
	team := NewTeam(ft.factory, WithXMLRetries(2))

	_, err := team.Scorer().Score(context.Background(), orchestrator.Artifact{}, "feedback", hc())
	require.ErrorIs(t, err, ErrMalformedReply)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, b.prompts, 3)
}

func TestScorer_OutOfRangeIsRetried(t *testing.T) {
	ft := newFakeTeam()
	bad := `<review_scores>
  <code_validity><score>25</score></code_validity>
  <integration><score>12</score></integration>
  <responsiveness><score>16</score></responsiveness>
  <best_practices><score>15</score></best_practices>
</review_scores>`
	b := ft.script(RoleScorer, bad, validScores)
	team := NewTeam(ft.factory)

	_, err := team.Scorer().Score(context.Background(), orchestrator.Artifact{}, "feedback", hc())
	require.NoError(t, err)
	require.Len(t, b.prompts, 2)
	assert.Contains(t, b.prompts[1], "code_validity score 25 is outside 0-20")
	assert.Contains(t, b.prompts[1], "accessibility is missing")
}

func TestTaskGenerator_ParsesReview(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleTaskGenerator, `<review>
  <summary>Accessibility needs work</summary>
  <tasks>
    <task><files>index.html</files><description>Add alt text to images</description><priority>HIGH</priority></task>
    <task><files>styles/main.css, styles/nav.css</files><description>Fix contrast</description></task>
    <task><description></description></task>
  </tasks>
</review>`)
	team := NewTeam(ft.factory)

	scores := orchestrator.Scores{
		orchestrator.RubricValidity:       18,
		orchestrator.RubricIntegration:    12,
		orchestrator.RubricResponsiveness: 16,
		orchestrator.RubricBestPractices:  15,
		orchestrator.RubricAccessibility:  9,
	}
	tasks, err := team.TaskGenerator().GenerateTasks(context.Background(), orchestrator.Artifact{}, "contrast is poor", scores, hc())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, scheduler.PriorityHigh, tasks[0].Priority)
	assert.Equal(t, []string{"styles/main.css", "styles/nav.css"}, tasks[1].Files)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "code_validity=18/17")
	assert.Contains(t, prompt, "accessibility=9/15")
	assert.Contains(t, prompt, "Below threshold: integration, accessibility")
}

func TestCollaborators_TaskGeneratorUsesLoopGate(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleTaskGenerator, `<review><summary>s</summary><tasks><task><description>raise everything</description></task></tasks></review>`)
	team := NewTeam(ft.factory)

	strict := orchestrator.Gate{Thresholds: map[orchestrator.RubricCategory]int{}}
	for _, c := range orchestrator.RubricCategories {
		strict.Thresholds[c] = 19
	}
	collab := team.Collaborators(nil, strict)

	scores := orchestrator.Scores{}
	for _, c := range orchestrator.RubricCategories {
		scores[c] = 18
	}
	_, err := collab.TaskGenerator.GenerateTasks(context.Background(), orchestrator.Artifact{}, "feedback", scores, hc())
	require.NoError(t, err)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "code_validity=18/19")
	assert.Contains(t, prompt, "accessibility=18/19")
	assert.NotContains(t, prompt, "18/17")
	assert.Contains(t, prompt, "Below threshold: code_validity, integration, responsiveness, best_practices, accessibility")
}

func TestTaskGenerator_WithEmptyGateKeepsDefaults(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleTaskGenerator, `<review><summary>s</summary><tasks><task><description>x</description></task></tasks></review>`)
	team := NewTeam(ft.factory)

	_, err := team.TaskGenerator().WithGate(orchestrator.Gate{}).GenerateTasks(context.Background(), orchestrator.Artifact{}, "feedback", orchestrator.Scores{orchestrator.RubricValidity: 18}, hc())
	require.NoError(t, err)
	assert.Contains(t, b.prompts[0], "code_validity=18/17")
}

func TestTaskGenerator_FallsBackToSummary(t *testing.T) {
	ft := newFakeTeam()
	ft.script(RoleTaskGenerator, `<review><summary>Tighten spacing</summary><tasks></tasks></review>`)
	team := NewTeam(ft.factory)

	tasks, err := team.TaskGenerator().GenerateTasks(context.Background(), orchestrator.Artifact{}, "feedback", orchestrator.Scores{}, hc())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Tighten spacing", tasks[0].Description)
}

func TestReviser_OrdersByPriority(t *testing.T) {
	ft := newFakeTeam()
	b := ft.script(RoleReviser, "applied both fixes")
	team := NewTeam(ft.factory)

	ledger, err := scheduler.NewLedger(
		scheduler.Task{ID: "revision-1", Description: "tweak footer", Priority: scheduler.PriorityLow},
		scheduler.Task{ID: "revision-2", Description: "fix broken link", Priority: scheduler.PriorityHigh},
	)
	require.NoError(t, err)

	prev := orchestrator.Artifact{Revision: 1, Root: "/work/site", EntryPoint: "index.html", Summary: "first"}
	next, err := team.Reviser().Revise(context.Background(), prev, ledger, hc())
	require.NoError(t, err)
	assert.Equal(t, "applied both fixes", next.Summary)
	assert.Equal(t, prev.Root, next.Root)
	assert.Equal(t, 1, next.Revision)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "1. [HIGH] fix broken link")
	assert.Contains(t, prompt, "2. [LOW] tweak footer")
}

func TestPlanner_Plan(t *testing.T) {
	ft := newFakeTeam()
	ft.script(RolePlanner, "```xml\n<task_distribution>\n<context>Small family bakery</context>\n<html_agent><task>Build the page skeleton</task></html_agent>\n<css_agent><task>Style the hero</task><task>Add a footer style</task></css_agent>\n</task_distribution>\n```")
	team := NewTeam(ft.factory)

	plan, err := team.Planner().Plan(context.Background(), " a bakery site ", "/work/site")
	require.NoError(t, err)
	assert.Equal(t, "a bakery site", plan.Brief.Goal)
	assert.Equal(t, "Small family bakery", plan.Brief.Context)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, "css_agent-2", plan.Tasks[2].ID)
	assert.Equal(t, "/work/site", ft.workDirs[RolePlanner])
}

func TestTeam_FactoryError(t *testing.T) {
	team := NewTeam(newFakeTeam().factory)
	_, err := team.Reviewer().Review(context.Background(), orchestrator.Artifact{}, orchestrator.LintReport{}, hc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create reviewer backend")
}
