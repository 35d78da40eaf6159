package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

func loopCollaborators(scores ...Scores) LoopCollaborators {
	f := newLoopFixture(scores...)
	return LoopCollaborators{
		Linter:        f.linter,
		Reviewer:      f.reviewer,
		Scorer:        f.scorer,
		TaskGenerator: f.taskGen,
		Reviser:       f.reviser,
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	structural := &countingHandler{Handler: contentHandler("html", "<body/>", 0)}
	visual := &countingHandler{Handler: contentHandler("css", "body{}", 0)}
	textual := &countingHandler{Handler: contentHandler("text", "Welcome", 0)}
	pass := &countingHandler{Handler: PassThrough{}}

	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, structural, "index.html"))
	require.NoError(t, reg.Register(scheduler.CategoryVisual, visual, "style.css"))
	require.NoError(t, reg.Register(scheduler.CategoryTextual, textual))
	require.NoError(t, reg.Register(scheduler.CategoryBehavioral, contentHandler("js", "", 0), "script.js"))
	reg.SetPassThrough(pass)

	ledger, err := scheduler.NewLedger(
		scheduler.Task{ID: "t1", Label: "structural", Description: "page skeleton"},
		scheduler.Task{ID: "t2", Label: "visual", Description: "palette"},
		scheduler.Task{ID: "t3", Label: "structural", Description: "nav"},
		scheduler.Task{ID: "t4", Label: "text_agent", Description: "hero copy"},
		scheduler.Task{ID: "t5", Label: "quantum", Description: "keep this verbatim"},
	)
	require.NoError(t, err)

	asm := &recordingAssembler{}
	cp := &memoryCheckpointer{}
	bus := events.NewEventBus()
	defer bus.Close()
	loopEvents := bus.Subscribe(events.TopicLoop, 64)

	p, err := NewPipeline(reg, asm, loopCollaborators(uniformScores(20)), PipelineConfig{
		Loop:         DefaultLoopConfig(),
		Bus:          bus,
		Checkpointer: cp,
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), ledger, DesignBrief{Goal: "landing page"}, "/work")
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.Equal(t, 1, res.IterationsUsed)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, int32(1), structural.calls.Load())
	assert.Equal(t, int32(1), visual.calls.Load())
	assert.Equal(t, int32(1), textual.calls.Load())
	assert.Equal(t, int32(1), pass.calls.Load())
	assert.Len(t, structural.seen, 2)

	require.Len(t, asm.outputs, 4)
	assert.Equal(t, "keep this verbatim", asm.outputs[scheduler.CategoryUnclassified].Content)
	assert.Len(t, res.Outputs, 4)

	assert.Equal(t, 1, res.Artifact.Revision)
	assert.Equal(t, "/work", res.Artifact.Root)
	assert.Equal(t, "<body/>|body{}|Welcome|keep this verbatim", res.Artifact.Summary)

	for _, task := range ledger.Tasks() {
		assert.Equal(t, scheduler.TaskDone, task.Status, "task %s", task.ID)
	}

	assert.True(t, cp.finished)
	assert.NoError(t, cp.runErr)

	var finished *events.RunFinishedEvent
	for finished == nil {
		select {
		case ev := <-loopEvents:
			if f, ok := ev.(events.RunFinishedEvent); ok {
				finished = &f
			}
		case <-time.After(time.Second):
			t.Fatal("no run finished event")
		}
	}
	assert.True(t, finished.Approved)
	assert.Equal(t, res.RunID, finished.RunID)
}

func TestPipeline_AssemblerSeesDelayedOutput(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, contentHandler("html", "fast", 0)))
	require.NoError(t, reg.Register(scheduler.CategoryVisual, contentHandler("css", "slow-but-real", 200*time.Millisecond)))

	ledger, err := scheduler.NewLedger(
		scheduler.Task{Label: "structural"},
		scheduler.Task{Label: "visual"},
	)
	require.NoError(t, err)

	asm := &recordingAssembler{}
	p, err := NewPipeline(reg, asm, loopCollaborators(uniformScores(20)), PipelineConfig{Loop: DefaultLoopConfig()})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), ledger, DesignBrief{}, t.TempDir())
	require.NoError(t, err)

	require.Contains(t, asm.outputs, scheduler.CategoryVisual)
	assert.Equal(t, "slow-but-real", asm.outputs[scheduler.CategoryVisual].Content)
	assert.Equal(t, OutputOK, asm.outputs[scheduler.CategoryVisual].Status)
}

func TestPipeline_FailedHandlerMarksLedger(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, contentHandler("html", "ok", 0)))
	require.NoError(t, reg.Register(scheduler.CategoryVisual, HandlerFunc{Name: "css", Fn: func(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
		return CategoryOutput{}, errors.New("rate limited")
	}}))

	ledger, err := scheduler.NewLedger(
		scheduler.Task{ID: "a", Label: "structural"},
		scheduler.Task{ID: "b", Label: "visual"},
		scheduler.Task{ID: "c", Label: "behavioral"}, // no handler registered
		scheduler.Task{ID: "d", Label: "assembly", Description: "inline the css"},
	)
	require.NoError(t, err)

	asm := &recordingAssembler{}
	p, err := NewPipeline(reg, asm, loopCollaborators(uniformScores(20)), PipelineConfig{Loop: DefaultLoopConfig()})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), ledger, DesignBrief{}, "/work")
	require.NoError(t, err)
	assert.True(t, res.Approved)

	status := func(id string) scheduler.TaskStatus {
		task, ok := ledger.Get(id)
		require.True(t, ok)
		return task.Status
	}
	assert.Equal(t, scheduler.TaskDone, status("a"))
	assert.Equal(t, scheduler.TaskFailed, status("b"))
	assert.Equal(t, scheduler.TaskPending, status("c"), "unmatched categories stay in the ledger untouched")
	assert.Equal(t, scheduler.TaskDone, status("d"))

	assert.True(t, asm.outputs[scheduler.CategoryVisual].Failed())
	require.Len(t, asm.instructions, 1)
	assert.Equal(t, "inline the css", asm.instructions[0].Description)
}

func TestPipeline_AssemblyFailureIsFatal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, contentHandler("html", "ok", 0)))

	ledger, err := scheduler.NewLedger(scheduler.Task{Label: "structural"})
	require.NoError(t, err)

	collab := loopCollaborators(uniformScores(20))
	reviewer := collab.Reviewer.(*fakeReviewer)
	asm := &recordingAssembler{err: ErrNoHandlerOutput}
	cp := &memoryCheckpointer{}

	p, err := NewPipeline(reg, asm, collab, PipelineConfig{Loop: DefaultLoopConfig(), Checkpointer: cp})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), ledger, DesignBrief{}, "/work")
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, ErrNoHandlerOutput)
	assert.Zero(t, res.Artifact.Revision)
	assert.Zero(t, reviewer.calls.Load(), "no looping after assembly failure")
	assert.ErrorIs(t, cp.runErr, ErrNoHandlerOutput)
}

func TestPipeline_RejectsCyclicLedger(t *testing.T) {
	ledger, err := scheduler.NewLedger(
		scheduler.Task{ID: "a", Label: "visual", DependsOn: []string{"b"}},
		scheduler.Task{ID: "b", Label: "visual", DependsOn: []string{"a"}},
	)
	require.NoError(t, err)

	p, err := NewPipeline(NewRegistry(), &recordingAssembler{}, loopCollaborators(uniformScores(20)), PipelineConfig{Loop: DefaultLoopConfig()})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), ledger, DesignBrief{}, "/work")
	assert.Error(t, err)
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(nil, &recordingAssembler{}, loopCollaborators(uniformScores(20)), PipelineConfig{Loop: DefaultLoopConfig()})
	assert.Error(t, err)

	_, err = NewPipeline(NewRegistry(), &recordingAssembler{}, LoopCollaborators{}, PipelineConfig{Loop: DefaultLoopConfig()})
	assert.Error(t, err)
}

// assemblerFunc adapts a function to Assembler.
type assemblerFunc func(ctx context.Context, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error)

func (f assemblerFunc) Assemble(ctx context.Context, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error) {
	return f(ctx, outputs, instructions, hc)
}

func TestPipeline_AssemblyWaitsForAbandonedWriter(t *testing.T) {
	var writerDone atomic.Bool
	stubborn := HandlerFunc{Name: "css", Fn: func(ctx context.Context, tasks []scheduler.Task, hc HandlerContext) (CategoryOutput, error) {
		// Ignores ctx, like a backend stuck in a write.
		time.Sleep(300 * time.Millisecond)
		writerDone.Store(true)
		return CategoryOutput{Content: "late", Status: OutputOK}, nil
	}}

	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, contentHandler("html", "page", 0), "index.html"))
	require.NoError(t, reg.Register(scheduler.CategoryVisual, stubborn, "styles"))

	ledger, err := scheduler.NewLedger(
		scheduler.Task{Label: "structural"},
		scheduler.Task{Label: "visual"},
	)
	require.NoError(t, err)

	var (
		sawWriterDone bool
		visualStatus  OutputStatus
	)
	asm := assemblerFunc(func(ctx context.Context, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error) {
		sawWriterDone = writerDone.Load()
		visualStatus = outputs[scheduler.CategoryVisual].Status
		return Artifact{EntryPoint: "index.html"}, nil
	})

	p, err := NewPipeline(reg, asm, loopCollaborators(uniformScores(20)), PipelineConfig{
		Loop:           DefaultLoopConfig(),
		HandlerTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), ledger, DesignBrief{}, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, OutputFailed, visualStatus, "the timed-out handler is reported failed")
	assert.True(t, sawWriterDone, "assembly must not start while the abandoned handler holds its paths")
}

func TestPipeline_AssemblyGivesUpWhenCancelled(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(scheduler.CategoryStructural, contentHandler("html", "page", 0), "index.html"))
	require.NoError(t, reg.Register(scheduler.CategoryBehavioral, contentHandler("js", "", 0), "scripts"))

	// A writer outside this run holds the scripts for longer than the run lives.
	reg.Paths().Lock("scripts")
	defer reg.Paths().Unlock("scripts")

	ledger, err := scheduler.NewLedger(scheduler.Task{Label: "structural"})
	require.NoError(t, err)

	asm := &recordingAssembler{}
	p, err := NewPipeline(reg, asm, loopCollaborators(uniformScores(20)), PipelineConfig{Loop: DefaultLoopConfig()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx, ledger, DesignBrief{}, t.TempDir())

	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, asm.outputs, "the assembler never ran")
}
