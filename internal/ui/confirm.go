package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase is what the user types to approve a destructive operation
const ConfirmPhrase = "I AGREE"

// ConfirmDangerousOperation displays a warning box and prompts the user to type
// "I AGREE" to proceed with a dangerous operation. Returns true if the user
// confirmed, false otherwise.
func ConfirmDangerousOperation(title string, warnings []string, disclaimer string) bool {
	return confirm(os.Stdin, os.Stdout, title, warnings, disclaimer)
}

func confirm(in io.Reader, out io.Writer, title string, warnings []string, disclaimer string) bool {
	width := GetTerminalWidth()

	lines := []string{
		"",
		lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true).
			Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", title)),
		"",
	}

	bulletStyle := lipgloss.NewStyle().Foreground(TextColor)
	for _, warning := range warnings {
		lines = append(lines, bulletStyle.Render("   • "+warning))
	}
	lines = append(lines, "")

	if disclaimer != "" {
		disclaimerStyle := lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true).
			Width(width - 12).
			PaddingLeft(3)
		lines = append(lines, disclaimerStyle.Render(disclaimer), "")
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(WarningColor).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	_, _ = fmt.Fprintln(out, box)
	_, _ = fmt.Fprintln(out)

	promptStyle := lipgloss.NewStyle().
		Foreground(WarningColor).
		Bold(true)
	_, _ = fmt.Fprint(out, promptStyle.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", ConfirmPhrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}

	if strings.TrimSpace(input) == ConfirmPhrase {
		return true
	}

	cancelStyle := lipgloss.NewStyle().Foreground(MutedColor)
	_, _ = fmt.Fprintln(out, cancelStyle.Render("  Operation cancelled."))
	_, _ = fmt.Fprintln(out)
	return false
}

// DeviceWriteConfirmation asks before partitions on device are overwritten
// or erased
func DeviceWriteConfirmation(action, device string, partitions []string) bool {
	return ConfirmDangerousOperation(
		strings.ToUpper(action)+" OPERATION",
		[]string{
			fmt.Sprintf("This will %s %s on %s", action, strings.Join(partitions, ", "), device),
			"The current contents of these partitions will be lost",
			"Keep the device plugged in until the operation finishes",
			"A partially written partition may leave the device unbootable",
		},
		"DISCLAIMER: This software is provided as-is, without warranty of any kind. "+
			"The authors accept no responsibility for any damage to your device. "+
			"Back up partitions you may need with 'rkflash backup' first.",
	)
}
