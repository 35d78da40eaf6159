package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/logging"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Stage is a state of the quality gate loop.
type Stage string

const (
	StageLint          Stage = "lint"
	StageReview        Stage = "review"
	StageScore         Stage = "score"
	StageDecide        Stage = "decide"
	StageGenerateTasks Stage = "generate_tasks"
	StageRevise        Stage = "revise"
	StageResetBudget   Stage = "reset_budget"
	StageTerminate     Stage = "terminate"
)

// Observer is notified on every state transition, with the state as it
// stands on entry.
type Observer interface {
	StageEntered(ctx context.Context, stage Stage, state IterationState)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, stage Stage, state IterationState)

func (f ObserverFunc) StageEntered(ctx context.Context, stage Stage, state IterationState) {
	f(ctx, stage, state)
}

// LoopConfig configures the quality gate loop.
type LoopConfig struct {
	MaxIterations    int           // Review passes before giving up (default 3)
	ToolBudget       int           // Tool calls per iteration (default 50)
	HandlerToolLimit int           // Tool calls any one handler may use per iteration; 0 disables
	Gate             Gate          // Approval thresholds
	StageTimeout     time.Duration // Deadline for each collaborator call; zero means none
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:    3,
		ToolBudget:       DefaultToolBudget,
		HandlerToolLimit: DefaultToolBudget,
		Gate:             DefaultGate(),
	}
}

// LoopCollaborators are the external stages the controller drives.
// Linter may be nil, in which case every lint report is empty.
type LoopCollaborators struct {
	Linter        Linter
	Reviewer      Reviewer
	Scorer        Scorer
	TaskGenerator TaskGenerator
	Reviser       Reviser
}

// Controller runs Lint → Review → Score → Decide and, while the gate rejects
// and iterations remain, GenerateTasks → Revise → ResetBudget.
type Controller struct {
	cfg          LoopConfig
	collab       LoopCollaborators
	logger       *zap.Logger
	bus          *events.EventBus
	checkpointer Checkpointer
	observer     Observer
	paths        *scheduler.PathLocks
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithBus publishes loop events on bus.
func WithBus(bus *events.EventBus) ControllerOption {
	return func(c *Controller) { c.bus = bus }
}

// WithCheckpointer records reviews, ledgers and revisions.
func WithCheckpointer(cp Checkpointer) ControllerOption {
	return func(c *Controller) {
		if cp != nil {
			c.checkpointer = cp
		}
	}
}

// WithObserver registers a stage observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

// WithPathLocks makes the reviser wait for every claimed path before it
// writes.
func WithPathLocks(locks *scheduler.PathLocks) ControllerOption {
	return func(c *Controller) { c.paths = locks }
}

// NewController validates the configuration and collaborators.
func NewController(cfg LoopConfig, collab LoopCollaborators, opts ...ControllerOption) (*Controller, error) {
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = DefaultToolBudget
	}
	if cfg.Gate.Thresholds == nil {
		cfg.Gate = DefaultGate()
	}
	if collab.Reviewer == nil || collab.Scorer == nil || collab.TaskGenerator == nil || collab.Reviser == nil {
		return nil, errors.New("reviewer, scorer, task generator and reviser are required")
	}

	c := &Controller{
		cfg:          cfg,
		collab:       collab,
		logger:       zap.NewNop(),
		checkpointer: NopCheckpointer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective loop configuration.
func (c *Controller) Config() LoopConfig {
	return c.cfg
}

// Run drives artifact through the loop until the gate approves it or the
// iteration ceiling is reached. Exhaustion is not an error: the result has
// Approved false. A fatal stage failure returns a *StageError together with
// a result holding the last good artifact.
func (c *Controller) Run(ctx context.Context, artifact Artifact, hc HandlerContext) (Result, error) {
	budget := NewBudgetManager(c.cfg.ToolBudget, c.cfg.HandlerToolLimit)
	bctx, cancel := context.WithCancel(ctx)
	budget.Start(bctx)
	defer func() {
		cancel()
		budget.Stop()
	}()
	hc.Meter = budget

	state := IterationState{
		Iteration:               1,
		ToolCallBudgetRemaining: budget.Ceiling(),
		MaxIterations:           c.cfg.MaxIterations,
	}
	res := Result{RunID: hc.RunID, Artifact: artifact}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		LoopIterations.Inc()
		hc.Iteration = state.Iteration
		log := c.logger.With(logging.RunID(hc.RunID), logging.Iteration(state.Iteration))

		// Lint
		state = c.enter(ctx, StageLint, state, budget, hc.RunID)
		report := c.lint(ctx, res.Artifact, log)

		// Review
		state = c.enter(ctx, StageReview, state, budget, hc.RunID)
		feedback, err := callStage(ctx, c.cfg.StageTimeout, func(sctx context.Context) (string, error) {
			return c.collab.Reviewer.Review(sctx, res.Artifact, report, withHandler(hc, "reviewer"))
		})
		if err != nil {
			return res, c.fatal(StageReview, state, "reviewer", err, log)
		}

		// Score
		state = c.enter(ctx, StageScore, state, budget, hc.RunID)
		raw, err := callStage(ctx, c.cfg.StageTimeout, func(sctx context.Context) (Scores, error) {
			return c.collab.Scorer.Score(sctx, res.Artifact, feedback, withHandler(hc, "scorer"))
		})
		if err != nil {
			return res, c.fatal(StageScore, state, "scorer", err, log)
		}
		verdict, scores := c.cfg.Gate.Evaluate(raw)

		rr := ReviewReport{
			Iteration: state.Iteration,
			Feedback:  feedback,
			Scores:    scores,
			Verdict:   verdict,
			Lint:      report,
		}
		res.Reports = append(res.Reports, rr)
		res.FinalScores = scores
		res.IterationsUsed = state.Iteration
		c.checkpoint(log, "review", c.checkpointer.SaveReview(ctx, hc.RunID, rr))
		recordScores(scores)
		c.bus.Emit(events.ScoredEvent{
			RunID:     hc.RunID,
			Iteration: state.Iteration,
			Scores:    scores.Strings(),
			Approved:  verdict == VerdictApproved,
			Timestamp: time.Now(),
		})
		log.Info("artifact scored",
			zap.Stringer("verdict", verdict),
			zap.Int("total", scores.Total()),
			zap.Any("failing", c.cfg.Gate.Failing(scores)))

		// Decide
		state = c.enter(ctx, StageDecide, state, budget, hc.RunID)
		switch Decide(verdict, state) {
		case DecisionApproved:
			res.Approved = true
			c.enter(ctx, StageTerminate, state, budget, hc.RunID)
			return res, nil
		case DecisionExhausted:
			log.Warn("iteration ceiling reached without approval", zap.Int("max_iterations", state.MaxIterations))
			c.enter(ctx, StageTerminate, state, budget, hc.RunID)
			return res, nil
		}

		// GenerateTasks
		state = c.enter(ctx, StageGenerateTasks, state, budget, hc.RunID)
		tasks, err := callStage(ctx, c.cfg.StageTimeout, func(sctx context.Context) ([]scheduler.Task, error) {
			return c.collab.TaskGenerator.GenerateTasks(sctx, res.Artifact, feedback, scores, withHandler(hc, "task-generator"))
		})
		if err != nil {
			return res, c.fatal(StageGenerateTasks, state, "task-generator", err, log)
		}
		ledger, err := scheduler.NewLedger(scheduler.SortByPriority(tasks)...)
		if err != nil {
			return res, c.fatal(StageGenerateTasks, state, "task-generator", err, log)
		}
		c.checkpoint(log, "ledger", c.checkpointer.SaveLedger(ctx, hc.RunID, state.Iteration, ledger.Tasks()))

		// Revise
		state = c.enter(ctx, StageRevise, state, budget, hc.RunID)
		if revised, err := c.revise(ctx, res.Artifact, ledger, hc, log); err == nil {
			res.Artifact = revised
		}

		// ResetBudget
		state = c.enter(ctx, StageResetBudget, state, budget, hc.RunID)
		remaining, err := budget.Reset(ctx)
		if err != nil {
			return res, err
		}
		state = IterationState{
			Iteration:               state.Iteration + 1,
			ToolCallBudgetRemaining: remaining,
			MaxIterations:           state.MaxIterations,
		}
	}
}

// enter refreshes the budget snapshot in state and notifies observers.
func (c *Controller) enter(ctx context.Context, stage Stage, state IterationState, budget *BudgetManager, runID string) IterationState {
	if remaining, err := budget.Remaining(ctx); err == nil {
		state.ToolCallBudgetRemaining = remaining
	}
	BudgetRemaining.Set(float64(state.ToolCallBudgetRemaining))

	c.logger.Debug("stage entered",
		logging.RunID(runID),
		logging.Stage(string(stage)),
		logging.Iteration(state.Iteration),
		zap.Int("budget_remaining", state.ToolCallBudgetRemaining))
	c.bus.Emit(events.StageEnteredEvent{
		RunID:           runID,
		Stage:           string(stage),
		Iteration:       state.Iteration,
		MaxIterations:   state.MaxIterations,
		BudgetRemaining: state.ToolCallBudgetRemaining,
		Timestamp:       time.Now(),
	})
	if c.observer != nil {
		c.observer.StageEntered(ctx, stage, state)
	}
	return state
}

// lint runs the linter; its failure becomes an issue in the report.
func (c *Controller) lint(ctx context.Context, artifact Artifact, log *zap.Logger) LintReport {
	if c.collab.Linter == nil {
		return LintReport{}
	}
	report, err := callStage(ctx, c.cfg.StageTimeout, func(sctx context.Context) (LintReport, error) {
		return c.collab.Linter.Lint(sctx, artifact)
	})
	if err != nil {
		log.Warn("linter failed", zap.Error(err))
		report.Issues = append(report.Issues, LintIssue{
			Tool:     "linter",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("linter failed: %v", err),
		})
	}
	return report
}

// revise applies the ledger. Failure leaves the artifact at its last good
// revision and the loop carries on.
func (c *Controller) revise(ctx context.Context, artifact Artifact, ledger *scheduler.Ledger, hc HandlerContext, log *zap.Logger) (Artifact, error) {
	tasks := ledger.Tasks()
	for _, t := range tasks {
		_ = ledger.MarkDispatched(t.ID)
	}

	revised, err := callStage(ctx, c.cfg.StageTimeout, func(sctx context.Context) (Artifact, error) {
		if c.paths != nil {
			claimed := c.paths.Claimed()
			if err := c.paths.LockAllContext(sctx, claimed); err != nil {
				return Artifact{}, fmt.Errorf("failed to acquire handler paths: %w", err)
			}
			defer c.paths.UnlockAll(claimed)
		}
		return c.collab.Reviser.Revise(sctx, artifact, ledger, withHandler(hc, "reviser"))
	})
	if err != nil {
		herr := &HandlerError{
			Category:  scheduler.CategoryAssembly,
			HandlerID: "reviser",
			Iteration: hc.Iteration,
			Err:       err,
		}
		for _, t := range tasks {
			_ = ledger.MarkFailed(t.ID, herr)
		}
		log.Error("revision failed, keeping last good artifact",
			logging.Handler("reviser"),
			logging.Category(scheduler.CategoryAssembly.String()),
			logging.Revision(artifact.Revision),
			zap.Bool("budget_exceeded", errors.Is(err, ErrBudgetExceeded)),
			zap.Error(err))
		HandlerFailures.WithLabelValues(scheduler.CategoryAssembly.String()).Inc()
		c.checkpoint(log, "ledger", c.checkpointer.SaveLedger(ctx, hc.RunID, hc.Iteration, ledger.Tasks()))
		return artifact, herr
	}

	for _, t := range tasks {
		_ = ledger.MarkDone(t.ID)
	}
	revised = nextRevision(artifact, revised)

	log.Info("artifact revised", logging.Revision(revised.Revision), zap.Int("tasks", len(tasks)))
	c.checkpoint(log, "ledger", c.checkpointer.SaveLedger(ctx, hc.RunID, hc.Iteration, ledger.Tasks()))
	c.checkpoint(log, "revision", c.checkpointer.SaveRevision(ctx, hc.RunID, revised))
	c.bus.Emit(events.RevisionEvent{
		RunID:      hc.RunID,
		Revision:   revised.Revision,
		EntryPoint: revised.EntryPoint,
		Timestamp:  time.Now(),
	})
	return revised, nil
}

// nextRevision numbers a new artifact after prev, inheriting location fields
// the producer left empty.
func nextRevision(prev, next Artifact) Artifact {
	next.Revision = prev.Revision + 1
	if next.Root == "" {
		next.Root = prev.Root
	}
	if next.EntryPoint == "" {
		next.EntryPoint = prev.EntryPoint
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now()
	}
	return next
}

func (c *Controller) fatal(stage Stage, state IterationState, handlerID string, err error, log *zap.Logger) error {
	serr := &StageError{Stage: stage, Iteration: state.Iteration, HandlerID: handlerID, Err: err}
	log.Error("loop stage failed", logging.Stage(string(stage)), logging.Handler(handlerID), zap.Error(err))
	return serr
}

func (c *Controller) checkpoint(log *zap.Logger, what string, err error) {
	if err != nil {
		log.Warn("failed to checkpoint "+what, zap.Error(err))
	}
}

func withHandler(hc HandlerContext, id string) HandlerContext {
	hc.HandlerID = id
	return hc
}

// callStage runs fn under an optional deadline.
func callStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}
