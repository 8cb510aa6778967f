package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/rkflash/internal/discovery"
	"github.com/muurk/rkflash/internal/eventserver"
	"github.com/muurk/rkflash/internal/tui"
	"github.com/muurk/rkflash/internal/ui"
)

var browseTimeout time.Duration

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&browseTimeout, "browse-timeout", discovery.DefaultBrowseTimeout, "How long to look for an advertised stream")
}

// monitorCmd follows the event stream of another rkflash process
var monitorCmd = &cobra.Command{
	Use:   "monitor [url]",
	Short: "Follow the progress of an rkflash run elsewhere",
	Long: `Connect to the event stream of an rkflash process started with
--events-addr and print its progress.

Without a URL the local network is browsed over mDNS for streams started
with --advertise. On a terminal they are listed to pick from; with --plain
the first one found is followed and each event is printed as a line.`,
	Example: `  # Find a stream on the network
  rkflash monitor

  # Connect directly
  rkflash monitor ws://192.168.1.20:8765/events`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		url := ""
		if len(args) == 1 {
			url = args[0]
		}
		return current.monitor(cmd.Context(), url, browseTimeout)
	},
}

func (a *app) monitor(ctx context.Context, url string, browse time.Duration) error {
	p := a.printer()
	browser := discovery.NewBrowser()
	browser.Timeout = browse

	if !a.plain {
		return tui.Run(ctx, tui.Options{
			URL:           url,
			BrowseTimeout: browse,
			Browse:        browser.BrowsePeers,
			Subscribe:     eventserver.Subscribe,
		})
	}

	if url == "" {
		peer, err := browser.FirstPeer(ctx)
		if err != nil {
			return err
		}
		url = peer.EventsURL()
		p.Println(fmt.Sprintf("Found %s", peer))
	}

	p.Println(fmt.Sprintf("Following %s (Ctrl+C to stop)", url))
	return eventserver.Subscribe(ctx, url, func(m eventserver.Message) {
		p.Println(formatMessage(m))
	})
}

// formatMessage renders one event as a status line
func formatMessage(m eventserver.Message) string {
	head := fmt.Sprintf("%s %s %s", m.Time.Local().Format("15:04:05"), m.Operation, m.Partition)
	switch m.Type {
	case "started":
		return fmt.Sprintf("%s: started (%s)", head, ui.FormatBytes(m.TotalBytes))
	case "progress":
		pct := 100.0
		if m.TotalBytes > 0 {
			pct = float64(m.BytesDone) * 100 / float64(m.TotalBytes)
		}
		return fmt.Sprintf("%s: %3.0f%% (%s / %s)", head, pct, ui.FormatBytes(m.BytesDone), ui.FormatBytes(m.TotalBytes))
	case "finished":
		line := fmt.Sprintf("%s: %s", head, m.Outcome)
		if m.MismatchOffset != nil {
			line += fmt.Sprintf(", first difference at byte %d", *m.MismatchOffset)
		}
		if m.Partial {
			line += ", partially written"
		}
		if m.Error != "" {
			line += ": " + m.Error
		}
		return line
	default:
		return fmt.Sprintf("%s: %s", head, m.Type)
	}
}
