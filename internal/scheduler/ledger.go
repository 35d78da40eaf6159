package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
)

// Ledger is the ordered, audit-retaining sequence of tasks driving one stage
// of work. Tasks are never removed; only their status changes.
type Ledger struct {
	mu    sync.RWMutex
	tasks []*Task        // Insertion order
	index map[string]int // Task ID -> position in tasks
}

// NewLedger creates a ledger holding the given tasks in order.
// Tasks without an ID are assigned one.
func NewLedger(tasks ...Task) (*Ledger, error) {
	l := &Ledger{index: make(map[string]int)}
	for _, t := range tasks {
		if err := l.Add(t); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add appends a task. Returns error if the task ID already exists.
func (l *Ledger) Add(task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := l.index[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	cp := cloneTask(task)
	l.index[cp.ID] = len(l.tasks)
	l.tasks = append(l.tasks, &cp)
	return nil
}

// Len returns the number of tasks in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tasks)
}

// Tasks returns copies of all tasks in insertion order.
func (l *Ledger) Tasks() []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Task, 0, len(l.tasks))
	for _, t := range l.tasks {
		out = append(out, cloneTask(*t))
	}
	return out
}

// Get returns a task by ID.
func (l *Ledger) Get(taskID string) (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[taskID]
	if !ok {
		return Task{}, false
	}
	return cloneTask(*l.tasks[i]), true
}

// ByStatus returns the tasks currently in the given status, in order.
func (l *Ledger) ByStatus(status TaskStatus) []Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Task
	for _, t := range l.tasks {
		if t.Status == status {
			out = append(out, cloneTask(*t))
		}
	}
	return out
}

// MarkDispatched sets task status to TaskDispatched.
func (l *Ledger) MarkDispatched(taskID string) error {
	return l.setStatus(taskID, TaskDispatched, "")
}

// MarkDone sets task status to TaskDone.
func (l *Ledger) MarkDone(taskID string) error {
	return l.setStatus(taskID, TaskDone, "")
}

// MarkFailed sets task status to TaskFailed and stores the error text.
func (l *Ledger) MarkFailed(taskID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return l.setStatus(taskID, TaskFailed, msg)
}

func (l *Ledger) setStatus(taskID string, status TaskStatus, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[taskID]
	if !ok {
		return fmt.Errorf("task %q not found", taskID)
	}
	l.tasks[i].Status = status
	l.tasks[i].Error = errMsg
	return nil
}

// Validate checks that every DependsOn reference exists and that the
// dependency graph is acyclic.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var edges []toposort.Edge
	for _, task := range l.tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.DependsOn {
			if _, exists := l.index[depID]; !exists {
				return fmt.Errorf("task %q depends on non-existent task %q", task.ID, depID)
			}
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("ledger contains dependency cycle: %w", err)
	}

	seen := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		if id != nil {
			seen[id.(string)] = true
		}
	}
	if len(seen) != len(l.tasks) {
		var missing []string
		for _, task := range l.tasks {
			if !seen[task.ID] {
				missing = append(missing, task.ID)
			}
		}
		return fmt.Errorf("dependency sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}

// SortByPriority returns a copy of tasks ordered most urgent first.
// Tasks of equal priority keep their relative order.
func SortByPriority(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = cloneTask(t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
