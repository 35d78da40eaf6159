package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmandrelli/grape-coder/internal/httpapi"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/planfile"
	"github.com/lmandrelli/grape-coder/internal/tui"
)

var (
	planPath  string
	savePlan  string
	noTUI     bool
	planOut   string
	briefGoal string
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Plan, generate and review a website",
	Long: `Run the whole pipeline: the planner turns the goal into a task
distribution (or --plan loads one), the category agents generate the site
in parallel, the assembler integrates it and the quality gate loop reviews
and revises it.

Examples:
  # Plan and build from a goal
  grape-coder run "a landing page for a bakery" -C ./bakery

  # Build from a saved plan without the terminal UI
  grape-coder run --plan plan.yaml --no-tui`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Ask the planner for a task distribution and save it",
	Long: `Ask the planner agent to split a goal into category tasks and write the
plan as YAML, to --out or stdout. Edit it and pass it to "run --plan".`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review and revise an existing site",
	Long: `Run only the quality gate loop on the site already in the work
directory: lint, review, score and revise until approved or out of
iterations.`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func init() {
	runCmd.Flags().StringVar(&planPath, "plan", "", "plan file (YAML or task_distribution XML) to run instead of planning")
	runCmd.Flags().StringVar(&savePlan, "save-plan", "", "write the generated plan to this file")
	runCmd.Flags().BoolVar(&noTUI, "no-tui", false, "log progress instead of showing the terminal UI")

	planCmd.Flags().StringVarP(&planOut, "out", "o", "", "plan file to write (default stdout)")

	reviewCmd.Flags().StringVar(&briefGoal, "goal", "", "what the site is meant to be, given to the reviewer")
	reviewCmd.Flags().BoolVar(&noTUI, "no-tui", false, "log progress instead of showing the terminal UI")
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && planPath == "" {
		return errors.New("either a goal or --plan is required")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{logToFile: !noTUI, storage: true})
	if err != nil {
		return err
	}
	defer a.Close()
	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	if planPath == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Planning...")
	}
	plan, err := loadOrPlan(ctx, a, args)
	if err != nil {
		return err
	}
	ledger, err := plan.Ledger()
	if err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}

	res, err := execute(ctx, a, func(ctx context.Context) (orchestrator.Result, error) {
		return p.Run(ctx, ledger, plan.Brief, a.dir)
	})
	printResult(cmd.OutOrStdout(), a, res, err)
	return err
}

// loadOrPlan reads --plan, or asks the planner for a plan for the goal.
func loadOrPlan(ctx context.Context, a *app, args []string) (planfile.Plan, error) {
	if planPath != "" {
		plan, err := planfile.Load(planPath)
		if err != nil {
			return planfile.Plan{}, fmt.Errorf("failed to load plan: %w", err)
		}
		if len(args) > 0 {
			plan.Brief.Goal = args[0]
		}
		return plan, nil
	}

	a.logger.Info("planning", zap.String("goal", args[0]))
	plan, err := a.team.Planner().Plan(ctx, args[0], a.dir)
	if err != nil {
		return planfile.Plan{}, fmt.Errorf("planning failed: %w", err)
	}
	if savePlan != "" {
		if err := planfile.Save(savePlan, plan); err != nil {
			return planfile.Plan{}, err
		}
		a.logger.Info("plan saved", zap.String("path", savePlan), zap.Int("tasks", len(plan.Tasks)))
	}
	return plan, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	plan, err := a.team.Planner().Plan(ctx, args[0], a.dir)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if planOut != "" {
		if err := planfile.Save(planOut, plan); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d tasks to %s\n", len(plan.Tasks), planOut)
		return nil
	}
	data, err := planfile.Marshal(plan)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appOptions{logToFile: !noTUI, storage: true})
	if err != nil {
		return err
	}
	defer a.Close()

	entry := filepath.Join(a.dir, a.cfg.Loop.EntryPoint)
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("nothing to review: %w", err)
	}

	cp := a.checkpointer()
	controller, err := orchestrator.NewController(a.cfg.LoopConfig(), a.team.Collaborators(a.linter(), a.cfg.Gate()),
		orchestrator.WithLogger(a.logger.Named("loop")),
		orchestrator.WithBus(a.bus),
		orchestrator.WithCheckpointer(cp))
	if err != nil {
		return err
	}

	res, err := execute(ctx, a, func(ctx context.Context) (orchestrator.Result, error) {
		return reviewExisting(ctx, a, controller, cp)
	})
	printResult(cmd.OutOrStdout(), a, res, err)
	return err
}

// reviewExisting records the current site as revision 1 of a new run and
// drives it through the loop.
func reviewExisting(ctx context.Context, a *app, controller *orchestrator.Controller, cp orchestrator.Checkpointer) (orchestrator.Result, error) {
	runID := uuid.NewString()
	brief := orchestrator.DesignBrief{Goal: briefGoal}
	artifact := orchestrator.Artifact{
		Revision:   1,
		Root:       a.dir,
		EntryPoint: a.cfg.Loop.EntryPoint,
		Summary:    "existing site",
		CreatedAt:  time.Now(),
	}
	log := a.logger.With(zap.String("run_id", runID))
	warn := func(what string, err error) {
		if err != nil {
			log.Warn("checkpoint failed", zap.String("checkpoint", what), zap.Error(err))
		}
	}

	warn("run", cp.BeginRun(ctx, runID, brief, a.dir))
	warn("revision", cp.SaveRevision(ctx, runID, artifact))

	res, err := controller.Run(ctx, artifact, orchestrator.HandlerContext{RunID: runID, Brief: brief, WorkDir: a.dir})
	res.RunID = runID
	warn("finish", cp.FinishRun(context.WithoutCancel(ctx), runID, res, err))
	return res, err
}

// execute runs fn under the terminal UI, or directly when --no-tui is set.
// Quitting the UI cancels a run still in progress. The status server runs
// alongside when metrics.listen is configured.
func execute(ctx context.Context, a *app, fn func(context.Context) (orchestrator.Result, error)) (orchestrator.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-runCtx.Done()
		a.shutdown()
	}()

	stopServer := startStatusServer(runCtx, a)
	defer stopServer()

	if noTUI {
		return fn(runCtx)
	}

	type outcome struct {
		res orchestrator.Result
		err error
	}
	done := make(chan outcome, 1)
	model := tui.New(a.bus, a.cfg.Gate())
	go func() {
		res, err := fn(runCtx)
		done <- outcome{res, err}
	}()

	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.logger.Error("terminal UI failed", zap.Error(err))
	}
	cancel()

	out := <-done
	return out.res, out.err
}

// startStatusServer serves /status, /runs and /metrics until the returned
// function is called. It does nothing when no listen address is set.
func startStatusServer(ctx context.Context, a *app) func() {
	if a.cfg.Metrics.Listen == "" {
		return func() {}
	}

	tracker := httpapi.NewTracker()
	go tracker.Run(ctx, a.bus.SubscribeAll(256))

	srv, err := httpapi.NewServer(a.cfg.Metrics.Listen, tracker, a.runStore(), a.logger.Named("http"))
	if err != nil {
		a.logger.Error("failed to create status server", zap.Error(err))
		return func() {}
	}
	go func() {
		if err := srv.Start(); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to stop status server", zap.Error(err))
		}
	}
}

// printResult writes a human summary of a finished run.
func printResult(w io.Writer, a *app, res orchestrator.Result, err error) {
	if res.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", res.RunID)
	}
	switch {
	case err != nil:
		fmt.Fprintf(w, "Failed: %v\n", err)
	case res.Approved:
		fmt.Fprintf(w, "Approved after %d iteration(s)\n", res.IterationsUsed)
	default:
		fmt.Fprintf(w, "Not approved after %d iteration(s); keeping the best revision\n", res.IterationsUsed)
	}

	if res.Artifact.Revision > 0 {
		fmt.Fprintf(w, "Revision %d: %s\n", res.Artifact.Revision, filepath.Join(res.Artifact.Root, res.Artifact.EntryPoint))
	}
	if res.FinalScores != nil {
		gate := a.cfg.Gate()
		for _, c := range orchestrator.RubricCategories {
			mark := "ok"
			if res.FinalScores[c] < gate.Threshold(c) {
				mark = "below"
			}
			fmt.Fprintf(w, "  %-15s %2d/%d (>=%d, %s)\n", c, res.FinalScores[c], orchestrator.MaxScore, gate.Threshold(c), mark)
		}
		fmt.Fprintf(w, "  %-15s %d\n", "total", res.FinalScores.Total())
	}
	if !noTUI && a.logFile != "" {
		fmt.Fprintf(w, "Log: %s\n", a.logFile)
	}
}
