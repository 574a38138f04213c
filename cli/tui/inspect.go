package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/lumen/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_session":
		content = m.renderInspectSession()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectSession() string {
	data, ok := m.data.(*reader.InspectSessionResponse)
	if !ok {
		return "Invalid data type for inspect_session"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Details"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Session ID", data.SessionID},
		{"Product", data.Product},
		{"Application", data.Application},
		{"App Version", data.AppVersion},
		{"Agent Version", data.AgentVersion},
		{"Host", data.Host},
		{"User", data.User},
		{"OS", data.OS},
		{"Status", data.Status},
		{"Started At", data.StartedAt.Format("2006-01-02 15:04:05")},
		{"Ended At", data.EndedAt.Format("2006-01-02 15:04:05")},
		{"Duration", data.Duration.String()},
		{"Messages", fmt.Sprintf("%d", data.MessageCount)},
		{"Errors", fmt.Sprintf("%d", data.ErrorCount)},
		{"Warnings", fmt.Sprintf("%d", data.WarningCount)},
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "Status" {
			value = StateStyle(data.Status).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if len(data.Fragments) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Fragments"))
		b.WriteString("\n")
		for _, fm := range data.Fragments {
			location := ""
			if fm.Archived {
				location = " (archived)"
			}
			b.WriteString(fmt.Sprintf("  • %s\n", ValueStyle.Render(
				fmt.Sprintf("#%d %s — %s, %d bytes%s", fm.FileSequence, fm.FragmentID, fm.Status, fm.SizeBytes, location))))
		}
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
