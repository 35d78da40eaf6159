package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// contentHandler returns a handler that emits fixed content after an
// optional delay, honouring cancellation.
func contentHandler(id, content string, delay time.Duration) Handler {
	return HandlerFunc{Name: id, Fn: func(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return CategoryOutput{}, ctx.Err()
			}
		}
		return CategoryOutput{Content: content, Status: OutputOK}, nil
	}}
}

// countingHandler wraps a handler and records how often it ran and with
// which tasks.
type countingHandler struct {
	Handler
	calls atomic.Int32
	mu    sync.Mutex
	seen  []scheduler.Task
}

func (c *countingHandler) Invoke(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.seen = append(c.seen, tasks...)
	c.mu.Unlock()
	return c.Handler.Invoke(ctx, tasks, hc)
}

// recordingAssembler captures the outputs it was given.
type recordingAssembler struct {
	mu           sync.Mutex
	outputs      map[scheduler.Category]CategoryOutput
	instructions []scheduler.Task
	err          error
}

func (a *recordingAssembler) Assemble(ctx context.Context, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputs = outputs
	a.instructions = instructions
	if a.err != nil {
		return Artifact{}, a.err
	}
	var parts []string
	for _, cat := range sortedOutputCategories(outputs) {
		parts = append(parts, outputs[cat].Content)
	}
	return Artifact{Root: hc.WorkDir, EntryPoint: "index.html", Summary: strings.Join(parts, "|")}, nil
}

type staticLinter struct {
	report LintReport
	err    error
}

func (l staticLinter) Lint(ctx context.Context, artifact Artifact) (LintReport, error) {
	return l.report, l.err
}

type fakeReviewer struct {
	calls atomic.Int32
	err   error
}

func (r *fakeReviewer) Review(ctx context.Context, artifact Artifact, lint LintReport, hc HandlerContext) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return "review of revision " + string(rune('0'+artifact.Revision)), nil
}

// scriptedScorer returns scores[i] on call i, repeating the last entry.
type scriptedScorer struct {
	mu     sync.Mutex
	calls  int
	scores []Scores
	err    error
}

func (s *scriptedScorer) Score(ctx context.Context, artifact Artifact, feedback string, hc HandlerContext) (Scores, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.scores) {
		i = len(s.scores) - 1
	}
	s.calls++
	return s.scores[i], nil
}

func uniformScores(v int) Scores {
	out := Scores{}
	for _, c := range RubricCategories {
		out[c] = v
	}
	return out
}

type fakeTaskGenerator struct {
	tasks []scheduler.Task
	err   error
}

func (g fakeTaskGenerator) GenerateTasks(ctx context.Context, artifact Artifact, feedback string, scores Scores, hc HandlerContext) ([]scheduler.Task, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make([]scheduler.Task, len(g.tasks))
	copy(out, g.tasks)
	return out, nil
}

// fakeReviser records every ledger it receives and optionally burns budget.
type fakeReviser struct {
	mu      sync.Mutex
	ledgers [][]scheduler.Task
	consume int
	errOn   map[int]error // call index -> error
	calls   int
}

func (r *fakeReviser) Revise(ctx context.Context, artifact Artifact, ledger *scheduler.Ledger, hc HandlerContext) (Artifact, error) {
	r.mu.Lock()
	call := r.calls
	r.calls++
	r.ledgers = append(r.ledgers, ledger.Tasks())
	r.mu.Unlock()

	if r.consume > 0 {
		if err := hc.Consume(ctx, r.consume); err != nil {
			return Artifact{}, err
		}
	}
	if err := r.errOn[call]; err != nil {
		return Artifact{}, err
	}
	return Artifact{Summary: "revised"}, nil
}

func (r *fakeReviser) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// stageRecorder is an Observer capturing every transition.
type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
	states []IterationState
}

func (s *stageRecorder) StageEntered(ctx context.Context, stage Stage, state IterationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	s.states = append(s.states, state)
}

func (s *stageRecorder) statesAt(stage Stage) []IterationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []IterationState
	for i, st := range s.stages {
		if st == stage {
			out = append(out, s.states[i])
		}
	}
	return out
}

// memoryCheckpointer keeps everything it is handed.
type memoryCheckpointer struct {
	NopCheckpointer
	mu        sync.Mutex
	revisions []Artifact
	reviews   []ReviewReport
	finished  bool
	runErr    error
}

func (m *memoryCheckpointer) SaveRevision(ctx context.Context, runID string, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions = append(m.revisions, a)
	return nil
}

func (m *memoryCheckpointer) SaveReview(ctx context.Context, runID string, r ReviewReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, r)
	return nil
}

func (m *memoryCheckpointer) FinishRun(ctx context.Context, runID string, res Result, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	m.runErr = runErr
	return nil
}
