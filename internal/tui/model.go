// Package tui implements the interactive event monitor behind
// hyserialctl's monitor subcommand.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hyserial/internal/telemetry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	readStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	writeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	borderStyle = lipgloss.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// TickMsg requests a redraw against the latest stats/event snapshot.
type TickMsg struct{}

// Model is a bubbletea model that live-tails a device's traffic.
type Model struct {
	device string
	stats  *telemetry.Stats
	recent *telemetry.Recent
	width  int
	height int
}

// New builds a monitor model over a running engine's stats and event ring.
func New(device string, stats *telemetry.Stats, recent *telemetry.Recent) Model {
	return Model{device: device, stats: stats, recent: recent}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg { return TickMsg{} })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case TickMsg:
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	snap := m.stats.Snapshot()
	header := titleStyle.Render(fmt.Sprintf(" hyserial monitor — %s ", m.device))
	stats := statsStyle.Render(fmt.Sprintf(
		"sent %d msgs / %d bytes    received %d msgs / %d bytes",
		snap.MessagesSent, snap.BytesSent, snap.MessagesReceived, snap.BytesReceived))

	var lines []string
	for _, ev := range m.recent.Snapshot() {
		lines = append(lines, formatEvent(ev))
	}
	body := borderStyle.Width(max(m.width-2, 20)).Render(strings.Join(lines, "\n"))

	footer := statsStyle.Render("q to quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, stats, body, footer)
}

func formatEvent(ev telemetry.Event) string {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Kind {
	case "read":
		return readStyle.Render(fmt.Sprintf("%s  read   %d bytes", ts, ev.Bytes))
	case "write":
		return writeStyle.Render(fmt.Sprintf("%s  write  %d bytes", ts, ev.Bytes))
	case "error":
		return errorStyle.Render(fmt.Sprintf("%s  error  errno=%d", ts, ev.Errno))
	default:
		return fmt.Sprintf("%s  %s", ts, ev.Kind)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
