package scheduler

import (
	"strings"
)

// Category is the closed set of task categories a ledger can route.
type Category int

const (
	CategoryUnclassified Category = iota // Pass-through bucket for unknown labels
	CategoryStructural                   // Page structure / markup
	CategoryBehavioral                   // Scripts and interaction
	CategoryVisual                       // Styles, classes, graphics
	CategoryTextual                      // Copy and content
	CategoryAssembly                     // Instructions for the assembler
)

// Categories lists every category in dispatch order.
var Categories = []Category{
	CategoryStructural,
	CategoryBehavioral,
	CategoryVisual,
	CategoryTextual,
	CategoryAssembly,
	CategoryUnclassified,
}

var categoryNames = map[Category]string{
	CategoryUnclassified: "unclassified",
	CategoryStructural:   "structural",
	CategoryBehavioral:   "behavioral",
	CategoryVisual:       "visual",
	CategoryTextual:      "textual",
	CategoryAssembly:     "assembly",
}

// categoryAliases maps planner agent tags onto categories.
var categoryAliases = map[string]Category{
	"structural":      CategoryStructural,
	"structure":       CategoryStructural,
	"html_agent":      CategoryStructural,
	"structure_agent": CategoryStructural,
	"behavioral":      CategoryBehavioral,
	"behavior":        CategoryBehavioral,
	"js_agent":        CategoryBehavioral,
	"script_agent":    CategoryBehavioral,
	"visual":          CategoryVisual,
	"style":           CategoryVisual,
	"class_agent":     CategoryVisual,
	"css_agent":       CategoryVisual,
	"svg_agent":       CategoryVisual,
	"textual":         CategoryTextual,
	"text":            CategoryTextual,
	"text_agent":      CategoryTextual,
	"assembly":        CategoryAssembly,
	"code_agent":      CategoryAssembly,
	"coder_agent":     CategoryAssembly,
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryUnclassified]
}

// ParseCategory maps a raw label onto a Category.
// The second return value is false when the label was not recognized and the
// task fell back to CategoryUnclassified.
func ParseCategory(label string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.ReplaceAll(key, "-", "_")
	if key == "" {
		return CategoryUnclassified, false
	}
	if key == "unclassified" {
		return CategoryUnclassified, true
	}
	if c, ok := categoryAliases[key]; ok {
		return c, true
	}
	return CategoryUnclassified, false
}

// MarshalText renders the category name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name, never failing.
func (c *Category) UnmarshalText(text []byte) error {
	*c, _ = ParseCategory(string(text))
	return nil
}

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending    TaskStatus = iota // Not yet handed to a handler
	TaskDispatched                   // Handed to a handler, awaiting completion
	TaskDone                         // Completed successfully
	TaskFailed                       // Handler reported failure
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskDispatched:
		return "dispatched"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Priority orders revision work. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// ParsePriority reads a priority label. Unknown labels are MEDIUM.
func ParsePriority(label string) Priority {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CRITICAL":
		return PriorityCritical
	case "HIGH":
		return PriorityHigh
	case "LOW":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Task is a unit of generation or revision work.
type Task struct {
	ID          string     // Unique identifier
	Category    Category   // Resolved category, set by the classifier
	Label       string     // Raw category label as supplied by the planner
	Description string     // What the handler should do
	Priority    Priority   // Revision urgency
	Status      TaskStatus // Lifecycle state
	Files       []string   // Files the task is expected to touch
	DependsOn   []string   // Optional ordering constraints within a ledger
	Error       string     // Failure detail when Status is TaskFailed
}

func cloneTask(task Task) Task {
	cp := task
	if task.Files != nil {
		cp.Files = append([]string(nil), task.Files...)
	}
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	return cp
}
