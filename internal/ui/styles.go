package ui

import (
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette. Orange is reserved for anything that writes to the device.
var (
	PrimaryColor = lipgloss.Color("#5FAFD7")
	SuccessColor = lipgloss.Color("#5FD75F")
	ErrorColor   = lipgloss.Color("#FF5F5F")
	WarningColor = lipgloss.Color("#FFAF00")
	MutedColor   = lipgloss.Color("#808080")
	TextColor    = lipgloss.Color("#EEEEEE")
)

const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

// Header box
var (
	HeaderTitleStyle      = lipgloss.NewStyle().Foreground(TextColor).Bold(true).PaddingLeft(2)
	HeaderCommandStyle    = lipgloss.NewStyle().Foreground(MutedColor).PaddingLeft(2)
	HeaderParamKeyStyle   = lipgloss.NewStyle().Foreground(MutedColor).PaddingLeft(2)
	HeaderParamValueStyle = lipgloss.NewStyle().Foreground(TextColor)
)

// Progress view
var (
	ProgressLabelStyle = lipgloss.NewStyle().Foreground(TextColor).PaddingLeft(2)
	StepCompleteStyle  = lipgloss.NewStyle().Foreground(SuccessColor)
	StepRunningStyle   = lipgloss.NewStyle().Foreground(WarningColor)
	StepPendingStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	StepNoteStyle      = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
)

// Result boxes
var (
	ErrorTitleStyle           = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	ErrorMessageStyle         = lipgloss.NewStyle().Foreground(ErrorColor)
	ResultKeyStyle            = lipgloss.NewStyle().Foreground(MutedColor).Width(20)
	ResultValueStyle          = lipgloss.NewStyle().Foreground(TextColor)
	TroubleshootingTitleStyle = lipgloss.NewStyle().Foreground(MutedColor).Bold(true)
	TroubleshootingItemStyle  = lipgloss.NewStyle().Foreground(MutedColor)
)

// Raw output and the partition table
var (
	RawBoxTitleStyle   = lipgloss.NewStyle().Foreground(MutedColor).Bold(true)
	RawBoxContentStyle = lipgloss.NewStyle().Foreground(TextColor)
	TableHeaderStyle   = lipgloss.NewStyle().Foreground(PrimaryColor).Bold(true)
	TableFlagStyle     = lipgloss.NewStyle().Foreground(WarningColor)
)

const (
	StepMarkerComplete = "✓"
	StepMarkerRunning  = "●"
	StepMarkerPending  = "·"
	SuccessMarker      = "✓"
	FailureMarker      = "✗"
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// GetTerminalWidth returns the stdout width clamped to
// [MinTerminalWidth, MaxContentWidth]
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth
	}
	return min(max(width, MinTerminalWidth), MaxContentWidth)
}

// ErrorBoxStyle frames failure results
func ErrorBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ErrorColor).
		Width(width - 2)
}

// RawBoxStyle frames raw device output such as chip info dumps
func RawBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(width - 4).
		Padding(0, 1)
}

// TroubleshootingBoxStyle frames the tips inside a failure box
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(width - 8).
		Padding(0, 1)
}

// ProgressBarStyle indents the progress bar under its label
func ProgressBarStyle() lipgloss.Style {
	return lipgloss.NewStyle().PaddingLeft(2)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
