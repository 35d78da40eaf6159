package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// LoopPaneModel shows the quality gate loop: stage, budget and the latest
// rubric scores against their thresholds.
type LoopPaneModel struct {
	gate orchestrator.Gate

	runID           string
	stage           string
	iteration       int
	maxIterations   int
	budgetRemaining int
	revision        int
	scores          map[string]int
	approved        bool
	handlersTotal   int
	handlersFailed  int
	finished        bool
	err             error

	width   int
	height  int
	focused bool
}

// NewLoopPaneModel creates a loop pane that judges scores with gate.
func NewLoopPaneModel(gate orchestrator.Gate) LoopPaneModel {
	return LoopPaneModel{gate: gate}
}

// Update handles loop events.
func (m LoopPaneModel) Update(msg tea.Msg) (LoopPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.FanOutJoinedEvent:
		m.runID = msg.RunID
		m.handlersTotal = msg.Total
		m.handlersFailed = msg.Failed
	case events.StageEnteredEvent:
		m.runID = msg.RunID
		m.stage = msg.Stage
		m.iteration = msg.Iteration
		m.maxIterations = msg.MaxIterations
		m.budgetRemaining = msg.BudgetRemaining
	case events.ScoredEvent:
		m.scores = msg.Scores
		m.approved = msg.Approved
	case events.RevisionEvent:
		m.revision = msg.Revision
	case events.RunFinishedEvent:
		m.finished = true
		m.approved = msg.Approved
		m.err = msg.Err
		if msg.Revision > 0 {
			m.revision = msg.Revision
		}
	}
	return m, nil
}

// View renders the loop pane.
func (m LoopPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Quality Gate")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.runID != "" {
		b.WriteString(fmt.Sprintf("Run:       %s\n", m.runID))
	}
	if m.handlersTotal > 0 {
		b.WriteString(fmt.Sprintf("Handlers:  %d (%s)\n", m.handlersTotal, StyleStatusFailed.Render(fmt.Sprintf("%d failed", m.handlersFailed))))
	}
	b.WriteString(fmt.Sprintf("Stage:     %s\n", StyleStatusRunning.Render(valueOr(m.stage, "dispatch"))))
	b.WriteString(fmt.Sprintf("Iteration: %d/%d\n", m.iteration, m.maxIterations))
	b.WriteString(fmt.Sprintf("Budget:    %d tool calls left\n", m.budgetRemaining))
	b.WriteString(fmt.Sprintf("Revision:  %d\n", m.revision))
	b.WriteString("\n")

	if m.scores != nil {
		barWidth := min(m.width-36, 20)
		for _, c := range orchestrator.RubricCategories {
			b.WriteString(m.scoreLine(c, barWidth))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString(m.outcome())
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// scoreLine renders "name [====....] 14/20 (>=15)" coloured by whether
// the category passes its threshold.
func (m LoopPaneModel) scoreLine(c orchestrator.RubricCategory, barWidth int) string {
	score := m.scores[string(c)]
	threshold := m.gate.Threshold(c)

	style := StyleStatusComplete
	if score < threshold {
		style = StyleStatusFailed
	}

	var bar string
	if barWidth > 0 {
		filled := score * barWidth / orchestrator.MaxScore
		bar = "[" + style.Render(strings.Repeat("=", filled)) + StyleStatusPending.Render(strings.Repeat(".", barWidth-filled)) + "] "
	}
	return fmt.Sprintf("%-15s %s%s (>=%d)", c, bar, style.Render(fmt.Sprintf("%2d/%d", score, orchestrator.MaxScore)), threshold)
}

func (m LoopPaneModel) outcome() string {
	switch {
	case m.err != nil:
		return StyleStatusFailed.Render(fmt.Sprintf("Run failed: %v", m.err))
	case m.approved:
		return StyleStatusComplete.Render(fmt.Sprintf("Approved at revision %d", m.revision))
	default:
		return StyleStatusDegraded.Render(fmt.Sprintf("Iterations exhausted, kept revision %d", m.revision))
	}
}

// Finished reports whether the run has ended.
func (m LoopPaneModel) Finished() bool {
	return m.finished
}

// SetSize updates the pane dimensions.
func (m *LoopPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *LoopPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
