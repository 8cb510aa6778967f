package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/rkflash/internal/engine"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result represents a result box (success, failure, or warning)
type Result struct {
	Type            ResultType        // Success, failure, or warning
	Title           string            // e.g., "Flash complete"
	Details         map[string]string // Key-value details to display
	Error           error             // Error (for failure results)
	Troubleshooting []string          // Troubleshooting tips (for failure results)
	Width           int               // Terminal width
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details map[string]string) *Result {
	return &Result{
		Type:    ResultSuccess,
		Title:   title,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	return &Result{
		Type:            ResultFailure,
		Title:           title,
		Error:           err,
		Troubleshooting: troubleshooting,
		Width:           GetTerminalWidth(),
	}
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details map[string]string) *Result {
	return &Result{
		Type:    ResultWarning,
		Title:   title,
		Details: details,
		Width:   GetTerminalWidth(),
	}
}

// DetailsFor summarises one workflow result for a result box
func DetailsFor(res *engine.Result) map[string]string {
	d := map[string]string{
		"Partition": res.Partition,
		"Bytes":     fmt.Sprintf("%s of %s", FormatBytes(res.BytesDone), FormatBytes(res.TotalBytes)),
		"Sectors":   fmt.Sprintf("%d", res.SectorsDone),
		"Duration":  res.Elapsed.Round(time.Millisecond).String(),
	}
	if secs := res.Elapsed.Seconds(); secs > 0 && res.BytesDone > 0 {
		d["Throughput"] = FormatBytes(int64(float64(res.BytesDone)/secs)) + "/s"
	}
	if res.Mismatch {
		d["First difference"] = fmt.Sprintf("byte 0x%X", res.Offset)
	}
	if res.Partial {
		d["State"] = "partially written"
	}
	return d
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	switch r.Type {
	case ResultFailure:
		return r.renderFailure(width)
	case ResultWarning:
		return r.renderDetails(width, "⚠", "WARNING", WarningColor)
	default:
		return r.renderDetails(width, SuccessMarker, "SUCCESS", SuccessColor)
	}
}

// renderDetails renders a title line and the sorted details in a double
// border of color
func (r *Result) renderDetails(width int, marker, label string, color lipgloss.Color) string {
	lines := []string{
		"",
		lipgloss.NewStyle().Foreground(color).Bold(true).
			Render(fmt.Sprintf("   %s  %s  ─  %s", marker, label, r.Title)),
		"",
	}

	for _, key := range sortedKeys(r.Details) {
		keyStyled := ResultKeyStyle.Render(fmt.Sprintf("   %s:", key))
		valueStyled := ResultValueStyle.Render(r.Details[key])
		lines = append(lines, keyStyled+" "+valueStyled)
	}
	lines = append(lines, "")

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width - 2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// renderFailure renders a failure result box
func (r *Result) renderFailure(width int) string {
	lines := []string{
		"",
		ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, r.Title)),
		"",
	}

	if r.Error != nil {
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
	}

	if len(r.Troubleshooting) > 0 {
		lines = append(lines, r.renderTroubleshootingBox(width), "")
	}

	return ErrorBoxStyle(width).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// renderTroubleshootingBox renders the inner troubleshooting box
func (r *Result) renderTroubleshootingBox(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
	}

	innerWidth := width - 12 // Indent within outer box
	if innerWidth < 40 {
		innerWidth = 40
	}

	return TroubleshootingBoxStyle(innerWidth + 8).
		MarginLeft(3).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
