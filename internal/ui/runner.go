package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/rkflash/internal/engine"
	"github.com/muurk/rkflash/internal/flasherr"
)

// RunnerConfig holds configuration for a device command execution
type RunnerConfig struct {
	Title   string            // Command title (e.g., "Flash")
	Command string            // Full command (e.g., "rkflash flash boot boot.img")
	Params  map[string]string // Parameters to display in header
	Plain   bool              // Print one line per event instead of a live display
	Output  io.Writer         // Output writer (default: os.Stdout)
}

// Runner orchestrates the UI for a command that runs engine workflows.
// It manages the header → progress → result flow and turns engine events
// into step updates.
type Runner struct {
	config    RunnerConfig
	header    *Header
	progress  *Progress
	output    io.Writer
	results   []*engine.Result
	lastShown float64
	startTime time.Time
	width     int
}

// NewRunner creates a new runner for a command
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params)
	header.SetWidth(width)

	progress := NewProgress("")
	progress.SetWidth(width)

	return &Runner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
	}
}

// Operation runs the workflows of a command, reporting to sink
type Operation func(sink engine.Sink) error

// Run executes the operation with UI updates. It displays the header,
// tracks progress and shows the result. The error of op is returned
// unchanged.
func (r *Runner) Run(ctx context.Context, op Operation) error {
	r.startTime = time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	var err error
	if r.config.Plain {
		err = op(engine.SinkFunc(r.emitPlain))
	} else {
		err = r.runProgram(op)
	}

	r.printResult(err, time.Since(r.startTime))
	return err
}

// Results returns the results of the finished workflows in order
func (r *Runner) Results() []*engine.Result {
	return r.results
}

// apply folds an event into the progress display. It returns the step
// touched.
func (r *Runner) apply(ev engine.Event) Step {
	name := fmt.Sprintf("%s %s", ev.Op, ev.Partition)
	step := r.progress.Current

	switch ev.Kind {
	case engine.EventStarted:
		step = r.progress.StartStep(name, ev.TotalBytes)
		r.lastShown = 0
	case engine.EventProgress:
		r.progress.SetBytes(ev.BytesDone, ev.TotalBytes)
	case engine.EventFinished:
		res := ev.Result
		r.results = append(r.results, res)
		// rejected before any I/O, so no Started event was sent
		if step == 0 || r.progress.Steps[step-1].Name != name || r.progress.Steps[step-1].Status != StepRunning {
			step = r.progress.StartStep(name, ev.TotalBytes)
		}
		r.progress.SetBytes(res.BytesDone, res.TotalBytes)
		switch res.Outcome {
		case engine.Success:
			r.progress.CompleteStep(step, fmt.Sprintf("%s in %s",
				FormatBytes(res.BytesDone), res.Elapsed.Round(time.Millisecond)))
		case engine.Cancelled:
			r.progress.FailStep(step, "cancelled")
		default:
			r.progress.FailStep(step, flasherr.GetShortErrorMessage(res.Err))
		}
	}
	if step == 0 {
		return Step{}
	}
	return r.progress.Steps[step-1]
}

// emitPlain prints step lines for non-interactive output. Progress is
// printed in quarters.
func (r *Runner) emitPlain(ev engine.Event) {
	step := r.apply(ev)
	switch ev.Kind {
	case engine.EventStarted, engine.EventFinished:
		_, _ = fmt.Fprintln(r.output, r.progress.renderStepLine(step))
	case engine.EventProgress:
		if r.progress.Percent-r.lastShown >= 0.25 && r.progress.Percent < 1 {
			r.lastShown = r.progress.Percent
			_, _ = fmt.Fprintf(r.output, "      %3.0f%%  %s / %s\n", r.progress.Percent*100,
				FormatBytes(r.progress.Done), FormatBytes(r.progress.Total))
		}
	}
}

type eventMsg engine.Event

type doneMsg struct{ err error }

// runModel is the live display shown while workflows run
type runModel struct {
	r    *Runner
	done bool
}

// Init implements tea.Model
func (m runModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.r.apply(engine.Event(msg))
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		width := msg.Width
		if width < MinTerminalWidth {
			width = MinTerminalWidth
		}
		if width > MaxContentWidth {
			width = MaxContentWidth
		}
		m.r.progress.SetWidth(width)
	}
	return m, nil
}

// View implements tea.Model
func (m runModel) View() string {
	return m.r.progress.Render() + "\n"
}

// runProgram runs op while a Bubble Tea program renders its events.
// Signals are left to the caller, whose context cancels op.
func (r *Runner) runProgram(op Operation) error {
	p := tea.NewProgram(runModel{r: r},
		tea.WithOutput(r.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	errc := make(chan error, 1)
	go func() {
		err := op(engine.SinkFunc(func(ev engine.Event) {
			p.Send(eventMsg(ev))
		}))
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		_, _ = fmt.Fprintf(r.output, "display failed: %v\n", err)
	}
	return <-errc
}

// printResult prints the closing result box
func (r *Runner) printResult(err error, duration time.Duration) {
	_, _ = fmt.Fprintln(r.output)

	details := map[string]string{
		"Duration": duration.Round(time.Millisecond).String(),
	}
	var moved int64
	var parts []string
	for _, res := range r.results {
		moved += res.BytesDone
		if res.Op != engine.OpVerify {
			parts = append(parts, res.Partition)
		}
	}
	if len(parts) > 0 {
		details["Partitions"] = strings.Join(parts, ", ")
		details["Transferred"] = FormatBytes(moved)
	}

	var result *Result
	switch {
	case err == nil:
		result = NewSuccessResult(r.config.Title+" complete", details)
	case flasherr.Is(err, flasherr.ErrTypeCancelled):
		if r.partial() {
			details["Note"] = "the partition was partially written"
		}
		result = NewWarningResult(r.config.Title+" cancelled", details)
	default:
		tips := TroubleshootingTips(err)
		if r.partial() {
			tips = append(tips, "The partition was partially written; run the operation again before rebooting")
		}
		result = NewFailureResult(r.config.Title+" failed", err, tips)
	}
	result.SetWidth(r.width)
	_, _ = fmt.Fprintln(r.output, result.Render())
}

func (r *Runner) partial() bool {
	for _, res := range r.results {
		if res.Partial {
			return true
		}
	}
	return false
}

// TroubleshootingTips turns the troubleshooting hint for err into a list
// of tips
func TroubleshootingTips(err error) []string {
	hint := flasherr.GetTroubleshootingHint(err)
	var tips []string
	for _, line := range strings.Split(hint, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "Troubleshooting:" {
			continue
		}
		tips = append(tips, strings.TrimPrefix(line, "• "))
	}
	return tips
}
