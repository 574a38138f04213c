package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/lumen/cli/reader"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_sessions":
		content = m.renderStatsSessions()
	case "stats_session":
		content = m.renderStatsSession()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsSessions() string {
	data, ok := m.data.(*reader.StatsSessionsResponse)
	if !ok {
		return "Invalid data type for stats_sessions"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Statistics"))
	b.WriteString("\n\n")

	// Create stat boxes
	boxes := []string{
		m.renderStatBox("Total", data.Total, lipgloss.Color("#3B82F6")),
		m.renderStatBox("Running", data.Running, warningColor),
		m.renderStatBox("Normal", data.Normal, successColor),
		m.renderStatBox("Crashed", data.Crashed, errorColor),
	}

	// Join boxes horizontally
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Fragments:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.TotalFragments))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Messages:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.TotalMessages))))
	b.WriteString(fmt.Sprintf("%s %s / %s\n",
		LabelStyle.Render("Errors/Warn:"),
		ErrorStyle.Render(fmt.Sprintf("%d", data.TotalErrors)),
		WarningStyle.Render(fmt.Sprintf("%d", data.TotalWarnings))))

	return b.String()
}

func (m StatsModel) renderStatsSession() string {
	data, ok := m.data.(*reader.StatsSessionResponse)
	if !ok {
		return "Invalid data type for stats_session"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Session %s", data.SessionID)))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Messages", int(data.MessageCount), lipgloss.Color("#3B82F6")),
		m.renderStatBox("Errors", int(data.ErrorCount), errorColor),
		m.renderStatBox("Warnings", int(data.WarningCount), warningColor),
		m.renderStatBox("Lost", data.PacketsLost, mutedColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))

	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Status:"),
		StateStyle(data.Status).Render(data.Status)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Duration:"),
		ValueStyle.Render(data.Duration.String())))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Fragments:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.FragmentCount))))
	if data.HasCorruptData {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Corruption:"),
			ErrorStyle.Render("fragment data was lost to corruption")))
	}

	if len(data.PacketsByKind) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Packets by Kind"))
		b.WriteString("\n")
		kinds := make([]string, 0, len(data.PacketsByKind))
		for kind := range data.PacketsByKind {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(kind+":"),
				ValueStyle.Render(fmt.Sprintf("%d", data.PacketsByKind[kind]))))
		}
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
