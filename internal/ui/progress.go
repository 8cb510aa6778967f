package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
)

// Step is one workflow in a command, such as "flash boot" or "verify boot"
type Step struct {
	Number  int        // Step number (1-based)
	Name    string     // Step description
	Status  StepStatus // Current status
	Message string     // Optional status message (e.g., "16.0 MiB in 2.1s")
}

// Progress represents a progress display with bar and step list. The bar
// tracks the bytes of the running step.
type Progress struct {
	Label     string  // e.g., "Flashing 2 partitions"
	Steps     []Step  // Steps seen so far
	Current   int     // Current step (1-based)
	Percent   float64 // Progress of the current step (0.0 - 1.0)
	Done      int64   // Bytes moved in the current step
	Total     int64   // Bytes in the current step
	Width     int     // Terminal width
	ShowBar   bool    // Whether to show progress bar
	ShowSteps bool    // Whether to show step list
	bar       progress.Model
}

// NewProgress creates a new progress display
func NewProgress(label string) *Progress {
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)

	return &Progress{
		Label:     label,
		Width:     GetTerminalWidth(),
		ShowBar:   true,
		ShowSteps: true,
		bar:       bar,
	}
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 36 // Leave room for percentage and byte counts
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
	return p
}

// StartStep appends a running step and resets the bar
func (p *Progress) StartStep(name string, total int64) int {
	p.Steps = append(p.Steps, Step{
		Number: len(p.Steps) + 1,
		Name:   name,
		Status: StepRunning,
	})
	p.Current = len(p.Steps)
	p.Done, p.Total, p.Percent = 0, total, 0
	return p.Current
}

// SetBytes updates the bar for the current step
func (p *Progress) SetBytes(done, total int64) {
	p.Done, p.Total = done, total
	if total <= 0 {
		p.Percent = 1
		return
	}
	p.Percent = float64(done) / float64(total)
	if p.Percent > 1 {
		p.Percent = 1
	}
}

// UpdateStep updates a specific step's status and optional message
func (p *Progress) UpdateStep(stepNumber int, status StepStatus, message string) {
	if stepNumber < 1 || stepNumber > len(p.Steps) {
		return
	}
	idx := stepNumber - 1
	p.Steps[idx].Status = status
	p.Steps[idx].Message = message

	if status == StepRunning {
		p.Current = stepNumber
	}
}

// CompleteStep marks a step as complete
func (p *Progress) CompleteStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepComplete, message)
}

// FailStep marks a step as failed
func (p *Progress) FailStep(stepNumber int, message string) {
	p.UpdateStep(stepNumber, StepFailed, message)
}

// Render returns the styled progress display as a string
func (p *Progress) Render() string {
	var b strings.Builder

	if p.Label != "" {
		b.WriteString(ProgressLabelStyle.Render(p.Label))
		b.WriteString("\n\n")
	}

	if p.ShowBar && p.Current > 0 {
		b.WriteString(p.renderProgressBar())
		b.WriteString("\n\n")
	}

	if p.ShowSteps {
		b.WriteString(p.renderStepList())
	}

	return b.String()
}

// renderProgressBar renders the progress bar line
func (p *Progress) renderProgressBar() string {
	barView := p.bar.ViewAs(p.Percent)
	percentStr := fmt.Sprintf("%3.0f%%", p.Percent*100)
	bytesStr := fmt.Sprintf("%s / %s", FormatBytes(p.Done), FormatBytes(p.Total))

	return ProgressBarStyle().
		Render(fmt.Sprintf("%s  %s  %s", barView, percentStr, bytesStr))
}

// renderStepList renders the list of steps
func (p *Progress) renderStepList() string {
	lines := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		lines = append(lines, p.renderStepLine(step))
	}
	return strings.Join(lines, "\n")
}

// renderStepLine renders a single step line
func (p *Progress) renderStepLine(step Step) string {
	prefix := fmt.Sprintf("  [%d]", step.Number)

	var marker string
	var nameStyle lipgloss.Style

	switch step.Status {
	case StepComplete:
		marker = StepMarkerComplete
		nameStyle = StepCompleteStyle
	case StepRunning:
		marker = StepMarkerRunning
		nameStyle = StepRunningStyle
	case StepFailed:
		marker = FailureMarker
		nameStyle = ErrorTitleStyle
	default: // StepPending
		marker = StepMarkerPending
		nameStyle = StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" ")
	b.WriteString(nameStyle.Render(step.Name))

	// Align markers in one column
	nameLen := lipgloss.Width(step.Name)
	maxNameLen := 32
	padding := maxNameLen - nameLen
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))

	switch step.Status {
	case StepComplete:
		b.WriteString(StepCompleteStyle.Render(marker))
	case StepRunning:
		b.WriteString(StepRunningStyle.Render(marker))
	case StepFailed:
		b.WriteString(ErrorTitleStyle.Render(marker))
	default:
		b.WriteString(StepPendingStyle.Render(marker))
	}

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}

	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}

// FormatBytes renders n in binary units ("512 B", "16.0 MiB")
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}
