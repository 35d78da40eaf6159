package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// DefaultToolBudget is the per-iteration tool-call ceiling used when none is
// configured.
const DefaultToolBudget = 50

// errBudgetStopped is returned to callers once the manager has shut down.
var errBudgetStopped = errors.New("budget manager stopped")

type budgetOp int

const (
	opConsume budgetOp = iota
	opReset
	opSnapshot
)

// budgetRequest is one message to the budget goroutine.
type budgetRequest struct {
	op         budgetOp
	handlerID  string
	n          int
	responseCh chan budgetReply
}

// budgetReply carries the state after a request was applied.
type budgetReply struct {
	remaining int
	usage     map[string]int
	err       error
}

// BudgetManager owns the tool-call budget of one run.
//
// All state lives in a single goroutine started by Start; handlers and the
// loop controller talk to it through request/response messages, so nothing
// outside that goroutine ever mutates the counters.
type BudgetManager struct {
	ceiling      int
	handlerLimit int // Per-handler cap within one iteration; 0 disables
	requestCh    chan budgetRequest
	done         chan struct{}

	// Owned by the serve goroutine.
	remaining int
	usage     map[string]int
}

// NewBudgetManager creates a manager with a pool of ceiling tool calls per
// iteration. handlerLimit additionally caps any single handler; 0 disables
// the per-handler cap.
func NewBudgetManager(ceiling, handlerLimit int) *BudgetManager {
	if ceiling <= 0 {
		ceiling = DefaultToolBudget
	}
	return &BudgetManager{
		ceiling:      ceiling,
		handlerLimit: handlerLimit,
		requestCh:    make(chan budgetRequest, 16),
		done:         make(chan struct{}),
		remaining:    ceiling,
		usage:        make(map[string]int),
	}
}

// Ceiling returns the configured per-iteration pool size.
func (b *BudgetManager) Ceiling() int {
	return b.ceiling
}

// Start launches the goroutine serving budget requests until ctx is done.
// Start must be called exactly once.
func (b *BudgetManager) Start(ctx context.Context) {
	go b.serve(ctx)
}

// Stop blocks until the serving goroutine has exited.
func (b *BudgetManager) Stop() {
	<-b.done
}

func (b *BudgetManager) serve(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.requestCh:
			req.responseCh <- b.apply(req)
		}
	}
}

func (b *BudgetManager) apply(req budgetRequest) budgetReply {
	var err error

	switch req.op {
	case opConsume:
		switch {
		case req.n > b.remaining:
			err = fmt.Errorf("%w: %s requested %d, %d remaining", ErrBudgetExceeded, req.handlerID, req.n, b.remaining)
		case b.handlerLimit > 0 && b.usage[req.handlerID]+req.n > b.handlerLimit:
			err = fmt.Errorf("%w: %s would use %d of its %d calls", ErrBudgetExceeded, req.handlerID, b.usage[req.handlerID]+req.n, b.handlerLimit)
		default:
			b.remaining -= req.n
			b.usage[req.handlerID] += req.n
		}
	case opReset:
		b.remaining = b.ceiling
		b.usage = make(map[string]int)
	}

	usage := make(map[string]int, len(b.usage))
	for k, v := range b.usage {
		usage[k] = v
	}
	return budgetReply{remaining: b.remaining, usage: usage, err: err}
}

// do sends a request and waits for its reply, respecting ctx at both ends.
func (b *BudgetManager) do(ctx context.Context, req budgetRequest) (budgetReply, error) {
	req.responseCh = make(chan budgetReply, 1)

	select {
	case b.requestCh <- req:
	case <-b.done:
		return budgetReply{}, errBudgetStopped
	case <-ctx.Done():
		return budgetReply{}, ctx.Err()
	}

	select {
	case reply := <-req.responseCh:
		return reply, reply.err
	case <-b.done:
		return budgetReply{}, errBudgetStopped
	case <-ctx.Done():
		return budgetReply{}, ctx.Err()
	}
}

// Consume reports n tool calls made by handlerID. It returns the pool
// remaining afterwards, or an error wrapping ErrBudgetExceeded when the
// report does not fit. A rejected report consumes nothing.
func (b *BudgetManager) Consume(ctx context.Context, handlerID string, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative tool call count %d", n)
	}
	reply, err := b.do(ctx, budgetRequest{op: opConsume, handlerID: handlerID, n: n})
	return reply.remaining, err
}

// Reset restores the pool to its ceiling and clears per-handler usage.
func (b *BudgetManager) Reset(ctx context.Context) (int, error) {
	reply, err := b.do(ctx, budgetRequest{op: opReset})
	return reply.remaining, err
}

// Remaining returns the tool calls left in the current iteration.
func (b *BudgetManager) Remaining(ctx context.Context) (int, error) {
	reply, err := b.do(ctx, budgetRequest{op: opSnapshot})
	return reply.remaining, err
}

// Usage returns a copy of the per-handler counters for the current iteration.
func (b *BudgetManager) Usage(ctx context.Context) (map[string]int, error) {
	reply, err := b.do(ctx, budgetRequest{op: opSnapshot})
	return reply.usage, err
}
