package orchestrator

import (
	"errors"
	"fmt"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// ErrBudgetExceeded is returned when a handler reports more tool calls than
// remain in the current iteration's budget. The offending call fails.
var ErrBudgetExceeded = errors.New("tool call budget exceeded")

// ErrNoHandlerOutput is wrapped when every dispatched handler failed and the
// assembler has nothing to work with.
var ErrNoHandlerOutput = errors.New("no successful handler output")

// HandlerError is a failure of one fan-out handler or revision call.
type HandlerError struct {
	Category  scheduler.Category
	HandlerID string
	Iteration int
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q (category %s, iteration %d) failed: %v", e.HandlerID, e.Category, e.Iteration, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// AssemblyError means the assembler could not produce an artifact.
// It stops the run.
type AssemblyError struct {
	Iteration int
	Err       error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// StageError is a fatal failure of a loop stage.
type StageError struct {
	Stage     Stage
	Iteration int
	HandlerID string
	Err       error
}

func (e *StageError) Error() string {
	if e.HandlerID != "" {
		return fmt.Sprintf("stage %s failed at iteration %d (handler %q): %v", e.Stage, e.Iteration, e.HandlerID, e.Err)
	}
	return fmt.Sprintf("stage %s failed at iteration %d: %v", e.Stage, e.Iteration, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
