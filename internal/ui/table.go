package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/rkflash/internal/partition"
)

// RenderPartitionTable renders entries as an aligned table in a rounded
// box
func RenderPartitionTable(entries []partition.Entry, width int) string {
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	rows := []string{
		TableHeaderStyle.Render(fmt.Sprintf("%-14s %-12s %-12s %10s  %s", "NAME", "START", "SECTORS", "SIZE", "FLAGS")),
	}
	for _, e := range entries {
		line := fmt.Sprintf("%-14s 0x%08X   0x%08X   %10s", e.Name, e.StartLBA, e.Sectors, FormatBytes(e.Bytes()))
		if len(e.Flags) > 0 {
			line += "  " + TableFlagStyle.Render(strings.Join(e.Flags, ","))
		}
		rows = append(rows, ResultValueStyle.Render(line))
	}
	if len(entries) == 0 {
		rows = append(rows, StepPendingStyle.Render("(no partitions)"))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width-2).
		Padding(0, 1).
		Render(strings.Join(rows, "\n"))
}
