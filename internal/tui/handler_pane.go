package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lmandrelli/grape-coder/internal/events"
)

// Handler states shown in the list.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
)

// HandlerState is the display state of one category handler.
type HandlerState struct {
	Category  string
	HandlerID string
	Status    string
	Log       []string
	StartTime time.Time
	Duration  time.Duration
}

// HandlerPaneModel lists the fan-out handlers and shows the log of the
// selected one.
type HandlerPaneModel struct {
	handlers    map[string]*HandlerState // category -> state
	order       []string                 // first-seen order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewHandlerPaneModel creates an empty handler pane.
func NewHandlerPaneModel() HandlerPaneModel {
	return HandlerPaneModel{
		handlers: make(map[string]*HandlerState),
		viewport: viewport.New(0, 0),
	}
}

// Update handles key presses and handler events.
func (m HandlerPaneModel) Update(msg tea.Msg) (HandlerPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.HandlerStartedEvent:
		h, ok := m.handlers[msg.Category]
		if !ok {
			h = &HandlerState{Category: msg.Category}
			m.handlers[msg.Category] = h
			m.order = append(m.order, msg.Category)
		}
		h.HandlerID = msg.HandlerID
		h.Status = StatusRunning
		h.StartTime = msg.Timestamp
		h.Log = append(h.Log, fmt.Sprintf("[%s] started with %d task(s)", msg.HandlerID, msg.Tasks))
		m.refresh(msg.Category)

	case events.HandlerCompletedEvent:
		if h, ok := m.handlers[msg.Category]; ok {
			h.Status = StatusCompleted
			if msg.Degraded {
				h.Status = StatusDegraded
			}
			h.Duration = msg.Duration
			for _, issue := range msg.Issues {
				h.Log = append(h.Log, "  ! "+issue)
			}
			h.Log = append(h.Log, fmt.Sprintf("[Completed in %v]", msg.Duration.Round(time.Millisecond)))
			m.refresh(msg.Category)
		}

	case events.HandlerFailedEvent:
		if h, ok := m.handlers[msg.Category]; ok {
			h.Status = StatusFailed
			h.Duration = msg.Duration
			h.Log = append(h.Log, fmt.Sprintf("[Failed: %v]", msg.Err))
			m.refresh(msg.Category)
		}
	}

	return m, cmd
}

// refresh redraws the viewport when category is the selected handler.
func (m *HandlerPaneModel) refresh(category string) {
	if len(m.order) == 1 || m.selectedCategory() == category {
		m.updateViewportContent()
	}
}

// View renders the handler pane.
func (m HandlerPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 22
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m HandlerPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Handlers")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, cat := range m.order {
		h := m.handlers[cat]
		name := h.Category
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(h.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusDegraded:
		return StyleStatusDegraded.Render("~")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m HandlerPaneModel) selectedCategory() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected handler, or nil.
func (m HandlerPaneModel) Selected() *HandlerState {
	return m.handlers[m.selectedCategory()]
}

func (m *HandlerPaneModel) updateViewportContent() {
	h := m.Selected()
	if h == nil {
		m.viewport.SetContent("Waiting for handlers...")
		return
	}
	m.viewport.SetContent(strings.Join(h.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *HandlerPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-22-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *HandlerPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *HandlerPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
