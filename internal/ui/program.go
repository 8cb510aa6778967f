package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/muurk/rkflash/internal/partition"
)

// Printer provides methods for printing UI components to a writer.
// Commands that do not stream events (part, info, detect) print through it.
type Printer struct {
	out   io.Writer
	width int
	plain bool
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// SetPlain switches boxes off. Plain output is easier to parse in scripts.
func (p *Printer) SetPlain(plain bool) *Printer {
	p.plain = plain
	return p
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	if p.plain {
		return
	}
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render() + "\n")
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	if p.plain {
		p.printPlainDetails(title, details)
		return
	}
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints an error result box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	if p.plain {
		_, _ = fmt.Fprintf(p.out, "%s: %v\n", title, err)
		for _, tip := range troubleshooting {
			_, _ = fmt.Fprintf(p.out, "  %s\n", tip)
		}
		return
	}
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// PrintRawBox prints preformatted text, such as parameter text or a hex
// dump, in a muted box
func (p *Printer) PrintRawBox(title, content string) {
	if p.plain {
		p.Println(content)
		return
	}
	p.Println(NewRawBox(title, content).SetWidth(p.width).Render())
}

// PrintPartitions prints the partition table
func (p *Printer) PrintPartitions(entries []partition.Entry) {
	if p.plain {
		for _, e := range entries {
			p.Println(e.String())
		}
		return
	}
	p.Println(RenderPartitionTable(entries, p.width))
}

func (p *Printer) printPlainDetails(title string, details map[string]string) {
	p.Println(title)
	for _, key := range sortedKeys(details) {
		_, _ = fmt.Fprintf(p.out, "  %s: %s\n", key, details[key])
	}
}
