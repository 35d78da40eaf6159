package orchestrator

import (
	"context"
	"errors"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Checkpointer receives durable copies of run state. Failures are logged by
// the caller and never stop a run.
type Checkpointer interface {
	BeginRun(ctx context.Context, runID string, brief DesignBrief, workDir string) error
	SaveLedger(ctx context.Context, runID string, iteration int, tasks []scheduler.Task) error
	SaveOutputs(ctx context.Context, runID string, iteration int, outputs map[scheduler.Category]CategoryOutput) error
	SaveRevision(ctx context.Context, runID string, artifact Artifact) error
	SaveReview(ctx context.Context, runID string, report ReviewReport) error
	FinishRun(ctx context.Context, runID string, result Result, runErr error) error
}

// NopCheckpointer ignores everything. Embed it to implement a subset.
type NopCheckpointer struct{}

func (NopCheckpointer) BeginRun(context.Context, string, DesignBrief, string) error {
	return nil
}

func (NopCheckpointer) SaveLedger(context.Context, string, int, []scheduler.Task) error {
	return nil
}

func (NopCheckpointer) SaveOutputs(context.Context, string, int, map[scheduler.Category]CategoryOutput) error {
	return nil
}

func (NopCheckpointer) SaveRevision(context.Context, string, Artifact) error {
	return nil
}

func (NopCheckpointer) SaveReview(context.Context, string, ReviewReport) error {
	return nil
}

func (NopCheckpointer) FinishRun(context.Context, string, Result, error) error {
	return nil
}

// Checkpoints fans each call out to every sink and joins their errors.
type Checkpoints []Checkpointer

func (cs Checkpoints) each(fn func(Checkpointer) error) error {
	var errs []error
	for _, c := range cs {
		if c == nil {
			continue
		}
		if err := fn(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (cs Checkpoints) BeginRun(ctx context.Context, runID string, brief DesignBrief, workDir string) error {
	return cs.each(func(c Checkpointer) error { return c.BeginRun(ctx, runID, brief, workDir) })
}

func (cs Checkpoints) SaveLedger(ctx context.Context, runID string, iteration int, tasks []scheduler.Task) error {
	return cs.each(func(c Checkpointer) error { return c.SaveLedger(ctx, runID, iteration, tasks) })
}

func (cs Checkpoints) SaveOutputs(ctx context.Context, runID string, iteration int, outputs map[scheduler.Category]CategoryOutput) error {
	return cs.each(func(c Checkpointer) error { return c.SaveOutputs(ctx, runID, iteration, outputs) })
}

func (cs Checkpoints) SaveRevision(ctx context.Context, runID string, artifact Artifact) error {
	return cs.each(func(c Checkpointer) error { return c.SaveRevision(ctx, runID, artifact) })
}

func (cs Checkpoints) SaveReview(ctx context.Context, runID string, report ReviewReport) error {
	return cs.each(func(c Checkpointer) error { return c.SaveReview(ctx, runID, report) })
}

func (cs Checkpoints) FinishRun(ctx context.Context, runID string, result Result, runErr error) error {
	return cs.each(func(c Checkpointer) error { return c.FinishRun(ctx, runID, result, runErr) })
}
