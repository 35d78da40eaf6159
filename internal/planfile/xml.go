// Package planfile reads the planner, reviewer and scorer documents that
// drive a run: XML task distributions, review task lists, rubric scores and
// YAML plan files.
package planfile

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

var (
	// ErrNoDocument is returned when the expected root element is absent.
	ErrNoDocument = errors.New("document not found")
	// ErrNoTasks is returned when a distribution names no work at all.
	ErrNoTasks = errors.New("distribution contains no tasks")
)

// Extract returns the outermost <root>...</root> span of text. Models wrap
// their XML in prose and code fences; everything around the span is dropped.
func Extract(text, root string) (string, bool) {
	open, closing := "<"+root+">", "</"+root+">"
	start := strings.Index(text, open)
	end := strings.LastIndex(text, closing)
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return text[start : end+len(closing)], true
}

func decode(text, root string, v any) error {
	doc, ok := Extract(text, root)
	if !ok {
		return fmt.Errorf("%w: <%s>", ErrNoDocument, root)
	}
	if err := xml.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("invalid <%s> XML: %w", root, err)
	}
	return nil
}

type distributionXML struct {
	XMLName  xml.Name     `xml:"task_distribution"`
	Context  string       `xml:"context"`
	Sections []sectionXML `xml:",any"`
}

type sectionXML struct {
	XMLName xml.Name
	Tasks   []string `xml:"task"`
}

// ParseDistribution reads a <task_distribution> document. Each child element
// is an agent section whose name becomes the label of its tasks; labels are
// classified later, so unknown sections are kept.
func ParseDistribution(text string) (Plan, error) {
	var doc distributionXML
	if err := decode(text, "task_distribution", &doc); err != nil {
		return Plan{}, err
	}

	plan := Plan{Brief: orchestrator.DesignBrief{Context: strings.TrimSpace(doc.Context)}}
	for _, section := range doc.Sections {
		label := section.XMLName.Local
		n := 0
		for _, raw := range section.Tasks {
			desc := strings.TrimSpace(raw)
			if desc == "" {
				continue
			}
			n++
			plan.Tasks = append(plan.Tasks, scheduler.Task{
				ID:          fmt.Sprintf("%s-%d", label, n),
				Label:       label,
				Description: desc,
				Priority:    scheduler.PriorityMedium,
			})
		}
	}
	if len(plan.Tasks) == 0 {
		return Plan{}, ErrNoTasks
	}
	return plan, nil
}

type reviewXML struct {
	XMLName xml.Name        `xml:"review"`
	Summary string          `xml:"summary"`
	Tasks   []reviewTaskXML `xml:"tasks>task"`
}

type reviewTaskXML struct {
	Files       string `xml:"files"`
	Description string `xml:"description"`
	Priority    string `xml:"priority"`
}

// Review is a parsed <review> document.
type Review struct {
	Summary string
	Tasks   []scheduler.Task
}

// ParseReview reads a <review> document. Tasks without a description are
// dropped and a missing priority reads as MEDIUM.
func ParseReview(text string) (Review, error) {
	var doc reviewXML
	if err := decode(text, "review", &doc); err != nil {
		return Review{}, err
	}

	review := Review{Summary: strings.TrimSpace(doc.Summary)}
	for _, t := range doc.Tasks {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			continue
		}
		review.Tasks = append(review.Tasks, scheduler.Task{
			ID:          fmt.Sprintf("revision-%d", len(review.Tasks)+1),
			Description: desc,
			Priority:    scheduler.ParsePriority(t.Priority),
			Files:       splitFiles(t.Files),
		})
	}
	return review, nil
}

func splitFiles(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

type scoreXML struct {
	Score string `xml:"score"`
}

type scoresXML struct {
	XMLName       xml.Name  `xml:"review_scores"`
	Validity      *scoreXML `xml:"code_validity"`
	Integration   *scoreXML `xml:"integration"`
	Responsive    *scoreXML `xml:"responsiveness"`
	BestPractices *scoreXML `xml:"best_practices"`
	Accessibility *scoreXML `xml:"accessibility"`
}

// ParseScores reads a <review_scores> document. Every rubric category must
// be present with an integer score in [0, MaxScore]; the error lists every
// problem so it can be fed back to the model.
func ParseScores(text string) (orchestrator.Scores, error) {
	var doc scoresXML
	if err := decode(text, "review_scores", &doc); err != nil {
		return nil, err
	}

	fields := map[orchestrator.RubricCategory]*scoreXML{
		orchestrator.RubricValidity:       doc.Validity,
		orchestrator.RubricIntegration:    doc.Integration,
		orchestrator.RubricResponsiveness: doc.Responsive,
		orchestrator.RubricBestPractices:  doc.BestPractices,
		orchestrator.RubricAccessibility:  doc.Accessibility,
	}

	scores := make(orchestrator.Scores, len(fields))
	var problems []string
	for _, cat := range orchestrator.RubricCategories {
		f := fields[cat]
		if f == nil {
			problems = append(problems, fmt.Sprintf("%s is missing", cat))
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(f.Score))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s score %q is not an integer", cat, f.Score))
			continue
		}
		if v < 0 || v > orchestrator.MaxScore {
			problems = append(problems, fmt.Sprintf("%s score %d is outside 0-%d", cat, v, orchestrator.MaxScore))
			continue
		}
		scores[cat] = v
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid review_scores: %s", strings.Join(problems, "; "))
	}
	return scores, nil
}
