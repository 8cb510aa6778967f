package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RawBox is a box for preformatted text such as parameter files and hex
// dumps.
type RawBox struct {
	Title    string   // e.g., "Parameter"
	Lines    []string // Content lines
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewRawBox creates a new raw output box
func NewRawBox(title, content string) *RawBox {
	return &RawBox{
		Title: title,
		Lines: strings.Split(strings.TrimRight(content, "\n"), "\n"),
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (b *RawBox) SetWidth(width int) *RawBox {
	b.Width = width
	return b
}

// SetMaxLines limits the number of lines displayed
func (b *RawBox) SetMaxLines(max int) *RawBox {
	b.MaxLines = max
	return b
}

// FilterPrefix keeps only lines starting with one of prefixes, e.g.
// "CMDLINE:" in a parameter file
func (b *RawBox) FilterPrefix(prefixes ...string) *RawBox {
	var filtered []string
	for _, line := range b.Lines {
		for _, prefix := range prefixes {
			if strings.HasPrefix(strings.TrimSpace(line), prefix) {
				filtered = append(filtered, line)
				break
			}
		}
	}
	b.Lines = filtered
	return b
}

// Render returns the styled box as a string
func (b *RawBox) Render() string {
	width := b.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := b.Lines
	if b.MaxLines > 0 && len(lines) > b.MaxLines {
		lines = append(lines[:b.MaxLines:b.MaxLines], "... (output truncated)")
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		RawBoxTitleStyle.Render(b.Title),
		"",
		RawBoxContentStyle.Render(strings.Join(lines, "\n")),
	)

	return RawBoxStyle(width).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (b *RawBox) String() string {
	return b.Render()
}
