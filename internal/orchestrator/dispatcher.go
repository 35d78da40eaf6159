package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/logging"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// DispatcherConfig configures the fan-out dispatcher.
type DispatcherConfig struct {
	HandlerTimeout time.Duration    // Per-handler deadline; zero means none
	Logger         *zap.Logger      // Optional
	Bus            *events.EventBus // Optional
}

// Dispatcher invokes category handlers concurrently and joins on all of them.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
	bus      *events.EventBus
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  cfg.HandlerTimeout,
		logger:   logging.OrNop(cfg.Logger),
		bus:      cfg.Bus,
	}
}

// Plan returns the categories Dispatch would invoke for a classification:
// every non-empty category with a registered handler, plus the unclassified
// bucket when it has tasks. Assembly tasks are never dispatched.
func (d *Dispatcher) Plan(c scheduler.Classification) []scheduler.Category {
	var out []scheduler.Category
	for _, cat := range c.NonEmpty() {
		if cat == scheduler.CategoryAssembly {
			continue
		}
		if _, ok := d.registry.Lookup(cat); ok {
			out = append(out, cat)
		}
	}
	return out
}

// Dispatch runs every planned handler concurrently, each with only its own
// category's tasks, and returns once all of them have reported.
//
// A failing handler never cancels its siblings; it contributes an output
// with Status OutputFailed. If ctx ends, handlers still running are
// abandoned with a failed output and Dispatch returns ctx.Err() alongside
// the complete output map.
func (d *Dispatcher) Dispatch(ctx context.Context, c scheduler.Classification, hc HandlerContext) (map[scheduler.Category]CategoryOutput, error) {
	plan := d.Plan(c)

	for _, cat := range c.NonEmpty() {
		if cat == scheduler.CategoryAssembly {
			continue
		}
		if _, ok := d.registry.Lookup(cat); !ok {
			d.logger.Warn("no handler registered, tasks left pending",
				logging.Category(cat.String()),
				zap.Int("tasks", len(c.Tasks(cat))))
		}
	}

	var (
		mu      sync.Mutex
		outputs = make(map[scheduler.Category]CategoryOutput, len(plan))
	)

	// A plain group: no handler's failure may cancel its siblings.
	var g errgroup.Group
	for _, cat := range plan {
		cat := cat
		h, _ := d.registry.Lookup(cat)
		tasks := c.Tasks(cat)

		g.Go(func() error {
			out := d.invoke(ctx, cat, h, tasks, hc)

			mu.Lock()
			outputs[cat] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed, degraded := 0, 0
	for _, out := range outputs {
		switch out.Status {
		case OutputFailed:
			failed++
		case OutputDegraded:
			degraded++
		}
	}
	d.bus.Emit(events.FanOutJoinedEvent{
		RunID:     hc.RunID,
		Total:     len(outputs),
		Failed:    failed,
		Degraded:  degraded,
		Timestamp: time.Now(),
	})

	if err := ctx.Err(); err != nil {
		return outputs, err
	}
	return outputs, nil
}

type invokeResult struct {
	out CategoryOutput
	err error
}

// invoke runs one handler under its deadline and normalizes the result.
func (d *Dispatcher) invoke(ctx context.Context, cat scheduler.Category, h Handler, tasks []scheduler.Task, hc HandlerContext) CategoryOutput {
	start := time.Now()
	hc.HandlerID = h.ID()

	if err := ctx.Err(); err != nil {
		return d.finish(cat, h, hc, start, CategoryOutput{}, fmt.Errorf("cancelled before start: %w", err))
	}

	hctx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.bus.Emit(events.HandlerStartedEvent{
		Category:  cat.String(),
		HandlerID: h.ID(),
		Tasks:     len(tasks),
		Timestamp: start,
	})

	// Held until the handler returns, even when it is abandoned, so later
	// writers of the same paths wait for it.
	owned := d.registry.OwnedPaths(h.ID())
	if err := d.registry.Paths().LockAllContext(hctx, owned); err != nil {
		return d.finish(cat, h, hc, start, CategoryOutput{}, fmt.Errorf("failed to acquire owned paths: %w", err))
	}

	// Buffered so an abandoned handler can still deliver and exit.
	resultCh := make(chan invokeResult, 1)
	go func() {
		defer d.registry.Paths().UnlockAll(owned)

		defer func() {
			if r := recover(); r != nil {
				resultCh <- invokeResult{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()

		out, err := h.Invoke(hctx, tasks, hc)
		resultCh <- invokeResult{out: out, err: err}
	}()

	select {
	case res := <-resultCh:
		return d.finish(cat, h, hc, start, res.out, res.err)
	case <-hctx.Done():
		return d.finish(cat, h, hc, start, CategoryOutput{}, hctx.Err())
	}
}

// finish stamps identity and timing on an output and records the outcome.
func (d *Dispatcher) finish(cat scheduler.Category, h Handler, hc HandlerContext, start time.Time, out CategoryOutput, err error) CategoryOutput {
	out.Category = cat
	out.HandlerID = h.ID()
	out.Duration = time.Since(start)

	if err == nil && out.Status == OutputFailed {
		err = out.Err
		if err == nil {
			err = errors.New("handler reported failure")
		}
	}
	if err == nil && out.Status == OutputOK && len(out.Issues) > 0 {
		out.Status = OutputDegraded
	}

	if err != nil {
		out.Status = OutputFailed
		out.Err = &HandlerError{Category: cat, HandlerID: h.ID(), Iteration: hc.Iteration, Err: err}

		d.logger.Error("handler failed",
			logging.RunID(hc.RunID),
			logging.Category(cat.String()),
			logging.Handler(h.ID()),
			logging.Iteration(hc.Iteration),
			zap.Duration("duration", out.Duration),
			zap.Error(err))
		HandlerFailures.WithLabelValues(cat.String()).Inc()
		d.bus.Emit(events.HandlerFailedEvent{
			Category:  cat.String(),
			HandlerID: h.ID(),
			Err:       out.Err,
			Duration:  out.Duration,
			Timestamp: time.Now(),
		})
	} else {
		d.logger.Info("handler completed",
			logging.RunID(hc.RunID),
			logging.Category(cat.String()),
			logging.Handler(h.ID()),
			zap.Stringer("status", out.Status),
			zap.Duration("duration", out.Duration))
		d.bus.Emit(events.HandlerCompletedEvent{
			Category:  cat.String(),
			HandlerID: h.ID(),
			Degraded:  out.Status == OutputDegraded,
			Issues:    out.Issues,
			Duration:  out.Duration,
			Timestamp: time.Now(),
		})
	}

	HandlerDuration.WithLabelValues(cat.String(), out.Status.String()).Observe(out.Duration.Seconds())
	return out
}
