// Package ui provides terminal output for the rkflash CLI.
//
// This package uses Bubble Tea and Lipgloss to render polished terminal
// output for device commands. Commands follow a "run once and exit" pattern:
// they render output while working but never wait for input, except for the
// confirmation prompt before destructive operations.
//
// # Architecture
//
// The package provides these component types:
//
//   - Header: Command banner showing operation name and parameters
//   - Progress: Progress bar for the running workflow plus a step list
//   - Result: Success/failure/warning boxes with styled information
//   - RawBox: Preformatted text such as parameter files and hex dumps
//   - Partition table: aligned listing of a partition catalog
//
// A Runner ties them together for commands that run engine workflows. It
// implements the header → progress → result flow and consumes
// engine.Event values.
//
// # Usage Pattern
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:   "Flash",
//	    Command: "rkflash flash boot boot.img",
//	    Params:  map[string]string{"Device": handle.String()},
//	    Plain:   !ui.IsTerminal(os.Stdout),
//	})
//
//	err := runner.Run(ctx, func(sink engine.Sink) error {
//	    eng := engine.New(sess, engine.WithSink(sink))
//	    _, err := eng.Flash(ctx, "boot", img, size)
//	    return err
//	})
//
// # Plain Mode
//
// With --plain, or when stdout is not a terminal, the Runner prints one
// line per step and a line per quarter of progress instead of redrawing.
//
// # Logging Integration
//
// zap logging is silent unless RKFLASH_LOG_LEVEL or --log-level asks for
// it, so the curated output stays readable. Logs go to stderr.
package ui
