package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lmandrelli/grape-coder/internal/events"
)

// Handler states reported in a Snapshot.
const (
	HandlerRunning   = "running"
	HandlerCompleted = "completed"
	HandlerDegraded  = "degraded"
	HandlerFailed    = "failed"
)

// HandlerStatus is the last known state of one category handler.
type HandlerStatus struct {
	Category  string        `json:"category"`
	HandlerID string        `json:"handler_id"`
	State     string        `json:"state"`
	Tasks     int           `json:"tasks,omitempty"`
	Issues    []string      `json:"issues,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// Snapshot is the latest view of the current run, built from bus events.
type Snapshot struct {
	RunID           string          `json:"run_id,omitempty"`
	Stage           string          `json:"stage,omitempty"`
	Iteration       int             `json:"iteration"`
	MaxIterations   int             `json:"max_iterations"`
	BudgetRemaining int             `json:"budget_remaining"`
	Revision        int             `json:"revision"`
	EntryPoint      string          `json:"entry_point,omitempty"`
	Scores          map[string]int  `json:"scores,omitempty"`
	Approved        bool            `json:"approved"`
	Finished        bool            `json:"finished"`
	Error           string          `json:"error,omitempty"`
	Handlers        []HandlerStatus `json:"handlers"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Tracker folds bus events into a Snapshot. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	handlers map[string]HandlerStatus
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{handlers: make(map[string]HandlerStatus)}
}

// Run applies events from sub until it is closed or ctx is done.
func (t *Tracker) Run(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			t.Apply(ev)
		}
	}
}

// Apply updates the snapshot with one event. Unknown events are ignored.
func (t *Tracker) Apply(ev events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := ev.(type) {
	case events.HandlerStartedEvent:
		if t.snap.Finished {
			t.snap = Snapshot{}
			t.handlers = make(map[string]HandlerStatus)
		}
		t.handlers[e.Category] = HandlerStatus{Category: e.Category, HandlerID: e.HandlerID, State: HandlerRunning, Tasks: e.Tasks}
		t.snap.UpdatedAt = e.Timestamp
	case events.HandlerCompletedEvent:
		h := t.handlers[e.Category]
		h.Category, h.HandlerID, h.Duration = e.Category, e.HandlerID, e.Duration
		h.State = HandlerCompleted
		if e.Degraded {
			h.State = HandlerDegraded
		}
		h.Issues = e.Issues
		t.handlers[e.Category] = h
		t.snap.UpdatedAt = e.Timestamp
	case events.HandlerFailedEvent:
		h := t.handlers[e.Category]
		h.Category, h.HandlerID, h.Duration = e.Category, e.HandlerID, e.Duration
		h.State = HandlerFailed
		if e.Err != nil {
			h.Error = e.Err.Error()
		}
		t.handlers[e.Category] = h
		t.snap.UpdatedAt = e.Timestamp
	case events.StageEnteredEvent:
		if e.RunID != t.snap.RunID {
			t.reset(e.RunID)
		}
		t.snap.Stage = e.Stage
		t.snap.Iteration = e.Iteration
		t.snap.MaxIterations = e.MaxIterations
		t.snap.BudgetRemaining = e.BudgetRemaining
		t.snap.UpdatedAt = e.Timestamp
	case events.ScoredEvent:
		t.snap.Scores = e.Scores
		t.snap.Approved = e.Approved
		t.snap.UpdatedAt = e.Timestamp
	case events.RevisionEvent:
		if e.RunID != t.snap.RunID && t.snap.Finished {
			t.reset(e.RunID)
		}
		t.snap.RunID = e.RunID
		t.snap.Revision = e.Revision
		t.snap.EntryPoint = e.EntryPoint
		t.snap.UpdatedAt = e.Timestamp
	case events.RunFinishedEvent:
		t.snap.RunID = e.RunID
		t.snap.Finished = true
		t.snap.Approved = e.Approved
		t.snap.Iteration = e.IterationsUsed
		if e.Revision > 0 {
			t.snap.Revision = e.Revision
		}
		if e.Err != nil {
			t.snap.Error = e.Err.Error()
		}
		t.snap.UpdatedAt = e.Timestamp
	}
}

// reset starts a fresh snapshot for a new run. Handler states are kept
// because the fan-out of a run happens before its first loop stage.
func (t *Tracker) reset(runID string) {
	t.snap = Snapshot{RunID: runID}
}

// Snapshot returns a copy of the current state with handlers sorted by
// category.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.snap
	if t.snap.Scores != nil {
		snap.Scores = make(map[string]int, len(t.snap.Scores))
		for k, v := range t.snap.Scores {
			snap.Scores[k] = v
		}
	}
	snap.Handlers = make([]HandlerStatus, 0, len(t.handlers))
	for _, h := range t.handlers {
		snap.Handlers = append(snap.Handlers, h)
	}
	sort.Slice(snap.Handlers, func(i, j int) bool { return snap.Handlers[i].Category < snap.Handlers[j].Category })
	return snap
}
