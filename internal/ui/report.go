// ABOUTME: Plain-text rendering of synchronization rounds
// ABOUTME: Formats clock readings and lays out per-round tables with lipgloss
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/harperreed/berkeley-go/internal/clock"
	"github.com/harperreed/berkeley-go/internal/coordinator"
)

const timeLayout = "15:04:05.000"

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// FormatTime renders seconds since the epoch as local HH:MM:SS.mmm
func FormatTime(sec float64) string {
	return clock.FromSeconds(sec).Round(time.Millisecond).Local().Format(timeLayout)
}

// FormatDelta renders a signed number of seconds
func FormatDelta(sec float64) string {
	return fmt.Sprintf("%+.2fs", sec)
}

// SummaryTable lays out one round: the coordinator first, then each
// responding client
func SummaryTable(s coordinator.Summary) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("Node", "Before", "Diff from avg", "Adjustment", "After").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	t.Row(
		"Coordinator",
		FormatTime(s.CoordinatorBefore),
		FormatDelta(s.CoordinatorBefore-s.Average),
		FormatDelta(s.CoordinatorAdjustment),
		FormatTime(s.CoordinatorBefore+s.CoordinatorAdjustment),
	)
	for _, c := range s.Clients {
		after := FormatTime(c.Projected)
		if c.DeliveryErr != nil {
			after = "not delivered"
		}
		t.Row(c.ClientID, FormatTime(c.Reported), FormatDelta(c.Difference), FormatDelta(c.Adjustment), after)
	}
	return t
}

// RenderSummary is the full round report logged after every round
func RenderSummary(s coordinator.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Round %s: %d/%d clients responded in %s\n",
		shortID(s.ID), s.Responded, s.Expected, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Average time: %s\n", FormatTime(s.Average))
	b.WriteString(SummaryTable(s).String())
	b.WriteString("\n")

	for _, ex := range s.Excluded {
		fmt.Fprintf(&b, "%s %s: %v\n", errStyle.Render("excluded"), ex.Addr, ex.Reason)
	}

	skew := s.MaxSkew()
	verdict := okStyle.Render("< 1s: OK")
	if !s.Synchronized() {
		verdict = errStyle.Render(">= 1s: ERROR")
	}
	fmt.Fprintf(&b, "Max difference after sync: %.6fs (%s)\n", skew, verdict)

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
