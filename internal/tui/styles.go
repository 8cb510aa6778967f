package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/rkflash/internal/version"
)

// AppName is shown in the container header
const AppName = "RKFLASH MONITOR"

// Layout constants for responsive terminal width
const (
	MinTerminalWidth = 72  // Minimum supported terminal width
	MaxContentWidth  = 120 // Maximum content width before capping
)

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#7D56F4") // Purple
	SecondaryColor = lipgloss.Color("#43BF6D") // Green
	WarningColor   = lipgloss.Color("#FFA500") // Orange
	ErrorColor     = lipgloss.Color("#FF0000") // Red

	TextColor      = lipgloss.Color("#FFFFFF") // White
	SubtleColor    = lipgloss.Color("#626262") // Gray
	BorderColor    = lipgloss.Color("#7D56F4") // Purple (same as primary)
	HighlightColor = lipgloss.Color("#43BF6D") // Green (same as secondary)
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(1, 0).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Italic(true)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(HighlightColor).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	WarningTextStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	SuccessTextStyle = lipgloss.NewStyle().
				Foreground(SecondaryColor).
				Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true)

	NoteStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)
)

// RenderApplicationContainer wraps a screen in the bordered header/footer
// frame. Every screen renders through it.
func RenderApplicationContainer(content, footerText string, terminalWidth, terminalHeight int) string {
	if terminalWidth < MinTerminalWidth {
		terminalWidth = MinTerminalWidth
	}
	if terminalHeight < 10 {
		terminalHeight = 10
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		TitleStyle.UnsetPadding().UnsetMarginBottom().Render(AppName),
		NoteStyle.Render("  "+version.Version),
	)

	headerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Bottom: "─"}).
		BorderForeground(BorderColor).
		Width(terminalWidth-4).
		Padding(0, 1)

	footerStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.Border{Top: "─"}).
		BorderForeground(BorderColor).
		Width(terminalWidth-4).
		Padding(0, 1)

	contentStyle := lipgloss.NewStyle().
		Width(terminalWidth - 4)

	inner := lipgloss.JoinVertical(
		lipgloss.Left,
		headerStyle.Render(header),
		contentStyle.Render(content),
		footerStyle.Render(footerText),
	)

	bordered := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		Width(terminalWidth - 2).
		Height(terminalHeight - 2).
		AlignVertical(lipgloss.Top).
		Render(inner)

	return lipgloss.Place(terminalWidth, terminalHeight, lipgloss.Left, lipgloss.Top, bordered)
}

// contentWidth caps the usable width inside the container
func contentWidth(terminalWidth int) int {
	w := terminalWidth - 8
	if w > MaxContentWidth {
		w = MaxContentWidth
	}
	if w < MinTerminalWidth-8 {
		w = MinTerminalWidth - 8
	}
	return w
}
