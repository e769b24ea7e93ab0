// ABOUTME: Bubbletea model for the coordinator dashboard
// ABOUTME: Shows the coordinator clock, connected clients, and the latest round
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/berkeley-go/internal/coordinator"
	"github.com/harperreed/berkeley-go/internal/version"
)

// Status is a full dashboard refresh
type Status struct {
	Name    string
	Addr    string
	Offset  float64
	Now     float64
	Clients []coordinator.PeerInfo
	Last    *coordinator.Summary
	Rounds  int
}

type tickMsg time.Time
type statusMsg Status

// Model is the dashboard state
type Model struct {
	status    Status
	startTime time.Time
	showPeers bool
	quitting  bool
	quitChan  chan struct{}

	width  int
	height int
}

// NewModel creates a dashboard model. quitChan, if not nil, is signalled
// when the user quits.
func NewModel(status Status, quitChan chan struct{}) Model {
	return Model{
		status:    status,
		startTime: time.Now(),
		quitChan:  quitChan,
	}
}

func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = Status(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.quitChan != nil {
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "p":
		m.showPeers = !m.showPeers
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down coordinator...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	labelStyle := headStyle
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Berkeley Coordinator"))
	b.WriteString("\n\n")

	field := func(label, value string) {
		b.WriteString(labelStyle.Render(label + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Name", m.status.Name)
	field("Listening", m.status.Addr)
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	field("Clock", fmt.Sprintf("%s (offset %s)", FormatTime(m.status.Now), FormatDelta(m.status.Offset)))
	field("Rounds", fmt.Sprintf("%d", m.status.Rounds))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n")
	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else if m.showPeers {
		for _, c := range m.status.Clients {
			b.WriteString(fmt.Sprintf("  • %s", displayName(c)))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s)", c.Addr, c.Codec)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Last Round"))
	b.WriteString("\n")
	if m.status.Last == nil {
		b.WriteString(valueStyle.Render("  Waiting for the first round"))
		b.WriteString("\n")
	} else {
		last := *m.status.Last
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %d/%d responded, average %s, max skew %.6fs",
			last.Responded, last.Expected, FormatTime(last.Average), last.MaxSkew())))
		b.WriteString("\n")
		b.WriteString(SummaryTable(last).String())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("p: toggle clients  q: quit  %s", version.String())))

	return b.String()
}

func displayName(c coordinator.PeerInfo) string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.ID[:min(8, len(c.ID))]
}
