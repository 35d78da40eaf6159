package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	// Key identifies the subject of the event: a category for handler
	// events, a run ID for loop events.
	Key() string
}

// Topic constants
const (
	TopicHandler = "handler"
	TopicLoop    = "loop"
)

// Event type constants
const (
	EventTypeHandlerStarted   = "handler.started"
	EventTypeHandlerCompleted = "handler.completed"
	EventTypeHandlerFailed    = "handler.failed"
	EventTypeFanOutJoined     = "handler.joined"
	EventTypeStageEntered     = "loop.stage"
	EventTypeScored           = "loop.scored"
	EventTypeRevision         = "loop.revision"
	EventTypeRunFinished      = "loop.finished"
)

// HandlerStartedEvent is published when a category handler is invoked.
type HandlerStartedEvent struct {
	Category  string
	HandlerID string
	Tasks     int
	Timestamp time.Time
}

func (e HandlerStartedEvent) EventType() string { return EventTypeHandlerStarted }
func (e HandlerStartedEvent) Topic() string     { return TopicHandler }
func (e HandlerStartedEvent) Key() string       { return e.Category }

// HandlerCompletedEvent is published when a handler returns an output.
// Degraded is true when the output carries non-fatal issues.
type HandlerCompletedEvent struct {
	Category  string
	HandlerID string
	Degraded  bool
	Issues    []string
	Duration  time.Duration
	Timestamp time.Time
}

func (e HandlerCompletedEvent) EventType() string { return EventTypeHandlerCompleted }
func (e HandlerCompletedEvent) Topic() string     { return TopicHandler }
func (e HandlerCompletedEvent) Key() string       { return e.Category }

// HandlerFailedEvent is published when a handler errors, times out or is cancelled.
type HandlerFailedEvent struct {
	Category  string
	HandlerID string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e HandlerFailedEvent) EventType() string { return EventTypeHandlerFailed }
func (e HandlerFailedEvent) Topic() string     { return TopicHandler }
func (e HandlerFailedEvent) Key() string       { return e.Category }

// FanOutJoinedEvent is published once every dispatched handler has reported.
type FanOutJoinedEvent struct {
	RunID     string
	Total     int
	Failed    int
	Degraded  int
	Timestamp time.Time
}

func (e FanOutJoinedEvent) EventType() string { return EventTypeFanOutJoined }
func (e FanOutJoinedEvent) Topic() string     { return TopicHandler }
func (e FanOutJoinedEvent) Key() string       { return e.RunID }

// StageEnteredEvent is published each time the loop controller changes state.
type StageEnteredEvent struct {
	RunID           string
	Stage           string
	Iteration       int
	MaxIterations   int
	BudgetRemaining int
	Timestamp       time.Time
}

func (e StageEnteredEvent) EventType() string { return EventTypeStageEntered }
func (e StageEnteredEvent) Topic() string     { return TopicLoop }
func (e StageEnteredEvent) Key() string       { return e.RunID }

// ScoredEvent is published after the gate evaluates a score breakdown.
type ScoredEvent struct {
	RunID     string
	Iteration int
	Scores    map[string]int
	Approved  bool
	Timestamp time.Time
}

func (e ScoredEvent) EventType() string { return EventTypeScored }
func (e ScoredEvent) Topic() string     { return TopicLoop }
func (e ScoredEvent) Key() string       { return e.RunID }

// RevisionEvent is published when a new artifact revision exists.
type RevisionEvent struct {
	RunID      string
	Revision   int
	EntryPoint string
	Timestamp  time.Time
}

func (e RevisionEvent) EventType() string { return EventTypeRevision }
func (e RevisionEvent) Topic() string     { return TopicLoop }
func (e RevisionEvent) Key() string       { return e.RunID }

// RunFinishedEvent is published when the pipeline returns.
type RunFinishedEvent struct {
	RunID          string
	Approved       bool
	IterationsUsed int
	Revision       int
	Err            error
	Timestamp      time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicLoop }
func (e RunFinishedEvent) Key() string       { return e.RunID }
