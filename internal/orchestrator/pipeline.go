package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/logging"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// PipelineConfig wires the pipeline's optional infrastructure.
type PipelineConfig struct {
	HandlerTimeout time.Duration
	Loop           LoopConfig
	Logger         *zap.Logger
	Bus            *events.EventBus
	Checkpointer   Checkpointer
	Observer       Observer
}

// Pipeline runs classification, fan-out, assembly and the quality gate loop
// for one ledger.
type Pipeline struct {
	registry     *Registry
	dispatcher   *Dispatcher
	assembler    Assembler
	controller   *Controller
	logger       *zap.Logger
	bus          *events.EventBus
	checkpointer Checkpointer
}

// NewPipeline assembles a pipeline from its collaborators.
func NewPipeline(registry *Registry, assembler Assembler, collab LoopCollaborators, cfg PipelineConfig) (*Pipeline, error) {
	if registry == nil || assembler == nil {
		return nil, errors.New("registry and assembler are required")
	}
	logger := logging.OrNop(cfg.Logger)
	var cp Checkpointer = NopCheckpointer{}
	if cfg.Checkpointer != nil {
		cp = cfg.Checkpointer
	}

	controller, err := NewController(cfg.Loop, collab,
		WithLogger(logger.Named("loop")),
		WithBus(cfg.Bus),
		WithCheckpointer(cp),
		WithObserver(cfg.Observer),
		WithPathLocks(registry.Paths()))
	if err != nil {
		return nil, fmt.Errorf("failed to create loop controller: %w", err)
	}

	return &Pipeline{
		registry: registry,
		dispatcher: NewDispatcher(registry, DispatcherConfig{
			HandlerTimeout: cfg.HandlerTimeout,
			Logger:         logger.Named("dispatch"),
			Bus:            cfg.Bus,
		}),
		assembler:    assembler,
		controller:   controller,
		logger:       logger,
		bus:          cfg.Bus,
		checkpointer: cp,
	}, nil
}

// Run executes the whole pipeline. Ledger task statuses are updated in
// place as handlers report.
func (p *Pipeline) Run(ctx context.Context, ledger *scheduler.Ledger, brief DesignBrief, workDir string) (res Result, err error) {
	runID := uuid.NewString()
	log := p.logger.With(logging.RunID(runID))
	res.RunID = runID

	defer func() {
		p.finish(ctx, log, res, err)
	}()

	if err := ledger.Validate(); err != nil {
		return res, fmt.Errorf("invalid ledger: %w", err)
	}
	p.checkpoint(log, "run", p.checkpointer.BeginRun(ctx, runID, brief, workDir))
	p.checkpoint(log, "ledger", p.checkpointer.SaveLedger(ctx, runID, 0, ledger.Tasks()))

	// Classify
	classification := scheduler.Classify(ledger.Tasks())
	for _, a := range classification.Anomalies {
		ClassificationAnomalies.Inc()
		log.Warn("unrecognized task category, routed to pass-through",
			zap.String("task_id", a.TaskID),
			zap.String("label", a.Label))
	}

	// Fan out
	hc := HandlerContext{RunID: runID, Brief: brief, WorkDir: workDir}
	outputs, err := p.fanOut(ctx, ledger, classification, hc)
	res.Outputs = outputs
	p.checkpoint(log, "outputs", p.checkpointer.SaveOutputs(ctx, runID, 0, outputs))
	if err != nil {
		return res, err
	}

	// Assemble
	instructions := classification.Tasks(scheduler.CategoryAssembly)
	artifact, err := p.assemble(ctx, ledger, outputs, instructions, hc)
	if err != nil {
		log.Error("assembly failed", logging.Category(scheduler.CategoryAssembly.String()), zap.Error(err))
		return res, err
	}
	res.Artifact = artifact
	log.Info("artifact assembled", logging.Revision(artifact.Revision), zap.String("entry_point", artifact.EntryPoint))
	p.checkpoint(log, "revision", p.checkpointer.SaveRevision(ctx, runID, artifact))
	p.bus.Emit(events.RevisionEvent{
		RunID:      runID,
		Revision:   artifact.Revision,
		EntryPoint: artifact.EntryPoint,
		Timestamp:  time.Now(),
	})

	// Quality gate loop
	loopRes, err := p.controller.Run(ctx, artifact, hc)
	loopRes.RunID = runID
	loopRes.Outputs = outputs
	return loopRes, err
}

// fanOut dispatches the classified tasks under a fresh budget and records
// each task's status from its category's output.
func (p *Pipeline) fanOut(ctx context.Context, ledger *scheduler.Ledger, c scheduler.Classification, hc HandlerContext) (map[scheduler.Category]CategoryOutput, error) {
	plan := p.dispatcher.Plan(c)

	// Every dispatched handler gets its own full allowance.
	limit := p.controller.Config().HandlerToolLimit
	if limit <= 0 {
		limit = p.controller.Config().ToolBudget
	}
	budget := NewBudgetManager(limit*max(len(plan), 1), limit)
	bctx, cancel := context.WithCancel(ctx)
	budget.Start(bctx)
	defer func() {
		cancel()
		budget.Stop()
	}()
	hc.Meter = budget

	for _, cat := range plan {
		for _, t := range c.Tasks(cat) {
			_ = ledger.MarkDispatched(t.ID)
		}
	}

	outputs, err := p.dispatcher.Dispatch(ctx, c, hc)

	for _, cat := range plan {
		out, ok := outputs[cat]
		for _, t := range c.Tasks(cat) {
			switch {
			case !ok:
				_ = ledger.MarkFailed(t.ID, errors.New("no output recorded"))
			case out.Failed():
				_ = ledger.MarkFailed(t.ID, out.Err)
			default:
				_ = ledger.MarkDone(t.ID)
			}
		}
	}
	return outputs, err
}

// assemble builds revision 1 from the fan-out outputs.
func (p *Pipeline) assemble(ctx context.Context, ledger *scheduler.Ledger, outputs map[scheduler.Category]CategoryOutput, instructions []scheduler.Task, hc HandlerContext) (Artifact, error) {
	for _, t := range instructions {
		_ = ledger.MarkDispatched(t.ID)
	}

	// A handler abandoned at its deadline may still be writing its files.
	paths := p.registry.Paths().Claimed()
	artifact, err := func() (Artifact, error) {
		if err := p.registry.Paths().LockAllContext(ctx, paths); err != nil {
			return Artifact{}, fmt.Errorf("failed to acquire handler paths: %w", err)
		}
		defer p.registry.Paths().UnlockAll(paths)
		return p.assembler.Assemble(ctx, outputs, instructions, withHandler(hc, "assembler"))
	}()
	if err != nil {
		aerr := &AssemblyError{Iteration: hc.Iteration, Err: err}
		for _, t := range instructions {
			_ = ledger.MarkFailed(t.ID, aerr)
		}
		return Artifact{}, aerr
	}
	for _, t := range instructions {
		_ = ledger.MarkDone(t.ID)
	}

	artifact.Revision = 1
	if artifact.Root == "" {
		artifact.Root = hc.WorkDir
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	return artifact, nil
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, res Result, err error) {
	outcome := "exhausted"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Approved:
		outcome = "approved"
	}
	RunsTotal.WithLabelValues(outcome).Inc()

	// Record the outcome even when the run was cancelled.
	p.checkpoint(log, "run result", p.checkpointer.FinishRun(context.WithoutCancel(ctx), res.RunID, res, err))
	p.bus.Emit(events.RunFinishedEvent{
		RunID:          res.RunID,
		Approved:       res.Approved,
		IterationsUsed: res.IterationsUsed,
		Revision:       res.Artifact.Revision,
		Err:            err,
		Timestamp:      time.Now(),
	})

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("iterations_used", res.IterationsUsed),
		logging.Revision(res.Artifact.Revision),
	}
	if err != nil {
		log.Error("run finished", append(fields, zap.Error(err))...)
		return
	}
	log.Info("run finished", fields...)
}

func (p *Pipeline) checkpoint(log *zap.Logger, what string, err error) {
	if err != nil {
		log.Warn("failed to checkpoint "+what, zap.Error(err))
	}
}
