package ui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the box printed before a command touches the device: the
// operation, the command line that started it and the settings in effect.
type Header struct {
	Title   string            // e.g. "FLASH"
	Command string            // e.g. "rkflash flash boot boot.img"
	Params  map[string]string // e.g. {"Device": "001:004 2207:310b RK3188", "Verify": "on"}
	Width   int
}

// NewHeader creates a header sized to the terminal
func NewHeader(title, command string, params map[string]string) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth overrides the render width
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the boxed header. Parameter keys are sorted and padded to
// one column.
func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)
	inner := width - 6

	lines := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	}

	if len(h.Params) > 0 {
		keys := make([]string, 0, len(h.Params))
		pad := 0
		for k := range h.Params {
			keys = append(keys, k)
			pad = max(pad, lipgloss.Width(k))
		}
		slices.Sort(keys)

		lines = append(lines, lipgloss.NewStyle().Foreground(PrimaryColor).Render(strings.Repeat("─", max(inner, 10))))
		for _, k := range keys {
			label := HeaderParamKeyStyle.Render(k + ":" + strings.Repeat(" ", pad-lipgloss.Width(k)))
			lines = append(lines, label+" "+HeaderParamValueStyle.Render(h.Params[k]))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
