package planfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// Plan is the input of a run: what to build and the tasks to build it.
type Plan struct {
	Brief orchestrator.DesignBrief
	Tasks []scheduler.Task
}

// Ledger builds a validated ledger from the plan's tasks.
func (p Plan) Ledger() (*scheduler.Ledger, error) {
	l, err := scheduler.NewLedger(p.Tasks...)
	if err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

type planYAML struct {
	Goal    string     `yaml:"goal"`
	Context string     `yaml:"context,omitempty"`
	Style   string     `yaml:"style,omitempty"`
	Tasks   []taskYAML `yaml:"tasks"`
}

type taskYAML struct {
	ID          string   `yaml:"id,omitempty"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Priority    string   `yaml:"priority,omitempty"`
	Files       []string `yaml:"files,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// Parse reads a plan in either format: a document containing
// <task_distribution> is read as XML, anything else as YAML.
func Parse(data []byte) (Plan, error) {
	if bytes.Contains(data, []byte("<task_distribution>")) {
		return ParseDistribution(string(data))
	}

	var doc planYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan YAML: %w", err)
	}

	plan := Plan{Brief: orchestrator.DesignBrief{
		Goal:    strings.TrimSpace(doc.Goal),
		Context: strings.TrimSpace(doc.Context),
		Style:   strings.TrimSpace(doc.Style),
	}}
	for i, t := range doc.Tasks {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			return Plan{}, fmt.Errorf("task %d has no description", i+1)
		}
		plan.Tasks = append(plan.Tasks, scheduler.Task{
			ID:          t.ID,
			Label:       t.Category,
			Description: desc,
			Priority:    scheduler.ParsePriority(t.Priority),
			Files:       t.Files,
			DependsOn:   t.DependsOn,
		})
	}
	if len(plan.Tasks) == 0 {
		return Plan{}, ErrNoTasks
	}
	return plan, nil
}

// Load reads and parses a plan file.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Marshal renders a plan as YAML. Task labels are written as given so that
// unrecognized labels survive a round trip.
func Marshal(p Plan) ([]byte, error) {
	doc := planYAML{
		Goal:    p.Brief.Goal,
		Context: p.Brief.Context,
		Style:   p.Brief.Style,
	}
	for _, t := range p.Tasks {
		label := t.Label
		if label == "" {
			label = t.Category.String()
		}
		doc.Tasks = append(doc.Tasks, taskYAML{
			ID:          t.ID,
			Category:    label,
			Description: t.Description,
			Priority:    t.Priority.String(),
			Files:       t.Files,
			DependsOn:   t.DependsOn,
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes a plan as YAML.
func Save(path string, p Plan) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
