package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/syncclient"
)

const barWidth = 24

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type changedMsg struct{}

type tickMsg time.Time

type stoppedMsg struct {
	err error
}

type model struct {
	ctrl    *syncclient.Controller
	server  string
	records []*domain.JobRecord
	spin    spinner.Model
	width   int
	err     error
}

func newModel(ctrl *syncclient.Controller, server string) model {
	return model{
		ctrl:   ctrl,
		server: server,
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func waitForChange(ctrl *syncclient.Controller) tea.Cmd {
	return func() tea.Msg {
		<-ctrl.Changed()
		return changedMsg{}
	}
}

// tick re-renders once a second so finished records leave after their grace period.
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.ctrl), tick(), m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case changedMsg:
		m.records = m.ctrl.Visible()
		return m, waitForChange(m.ctrl)
	case tickMsg:
		m.records = m.ctrl.Visible()
		return m, tick()
	case stoppedMsg:
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	attaches, _ := m.ctrl.Stats()
	header := titleStyle.Render("inkqueue") + mutedStyle.Render(fmt.Sprintf("  %s  (connections: %d)", m.server, attaches))

	var rows []string
	if len(m.records) == 0 {
		rows = append(rows, mutedStyle.Render("Nothing running."))
	}
	for _, r := range m.records {
		rows = append(rows, m.row(r))
	}

	panel := panelStyle.Render(strings.Join(rows, "\n"))
	footer := mutedStyle.Render("q: quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, panel, footer)
}

func (m model) row(r *domain.JobRecord) string {
	var state string
	switch r.Status {
	case domain.StatusInProgress:
		state = m.spin.View() + " running"
	case domain.StatusQueued:
		state = mutedStyle.Render("  queued")
	case domain.StatusPaused:
		state = pausedStyle.Render("  paused")
	case domain.StatusCompleted:
		state = okStyle.Render("✓ done")
	case domain.StatusFailed:
		state = errorStyle.Render("✗ failed")
	}

	line := fmt.Sprintf("%-24s %-10s %s %5.1f%%", truncate(label(r), 24), state, bar(r.Progress), r.Progress)
	if r.Message != "" {
		line += "  " + mutedStyle.Render(r.Message)
	}
	if m.width > 0 && lipgloss.Width(line) > m.width-4 {
		line = truncate(line, m.width-4)
	}
	return line
}

func bar(progress float64) string {
	filled := int(progress / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return barStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", barWidth-filled))
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func label(r *domain.JobRecord) string {
	if name := r.Metadata.Get(domain.MetaName); name != "" {
		return name
	}
	if title := r.Metadata.Get(domain.MetaChapterTitle); title != "" {
		return title
	}
	return string(r.Kind) + "/" + r.ID
}
