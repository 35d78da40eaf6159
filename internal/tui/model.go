// Package tui renders a live view of an orchestration run from the event
// bus: the fan-out handlers on the left, the quality gate on the right.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lmandrelli/grape-coder/internal/events"
	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneHandlers PaneID = iota
	PaneLoop
	paneCount
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	handlerPane HandlerPaneModel
	loopPane    LoopPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
}

// New creates a TUI model subscribed to every topic of bus. gate is used
// to colour scores against their thresholds.
func New(bus *events.EventBus, gate orchestrator.Gate) Model {
	m := Model{
		handlerPane: NewHandlerPaneModel(),
		loopPane:    NewLoopPaneModel(gate),
		focusedPane: PaneHandlers,
		eventSub:    bus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// Init starts listening for bus events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once when the event bus is closed.
type busClosedMsg struct{}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()
		case KeyPane1:
			m.focusedPane = PaneHandlers
			m.updateFocusStates()
		case KeyPane2:
			m.focusedPane = PaneLoop
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneHandlers {
				var cmd tea.Cmd
				m.handlerPane, cmd = m.handlerPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.HandlerStartedEvent, events.HandlerCompletedEvent, events.HandlerFailedEvent:
		var cmd tea.Cmd
		m.handlerPane, cmd = m.handlerPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.FanOutJoinedEvent, events.StageEnteredEvent, events.ScoredEvent,
		events.RevisionEvent, events.RunFinishedEvent:
		var cmd tea.Cmd
		m.loopPane, cmd = m.loopPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		// Nothing more will arrive; keep the final view up until q.
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	content := lipgloss.JoinHorizontal(lipgloss.Top, m.handlerPane.View(), m.loopPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, content, HelpView(m.loopPane.Finished()))
}

// computeLayout splits the screen 55/45 between the two panes.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	availableHeight := m.height - 1 // help bar

	m.handlerPane.SetSize(leftWidth, availableHeight)
	m.loopPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.handlerPane.SetFocused(m.focusedPane == PaneHandlers)
	m.loopPane.SetFocused(m.focusedPane == PaneLoop)
}
