// Rkflash reads and writes the NAND partitions of Rockchip RK3066 and
// RK3188 devices over USB while they sit in bootloader (loader) mode.
//
// It lists the partition table stored in the parameter block, flashes,
// backs up, erases and compares partitions, and reboots the device.
// Progress can be streamed to other machines over WebSocket and found with
// mDNS ("rkflash monitor").
//
// Usage:
//
//	rkflash [command] [flags]
//
// See 'rkflash --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/rkflash/internal/logging"
	"github.com/muurk/rkflash/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil {
		var shown *reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "rkflash",
	Short: "Rockchip RK3066/RK3188 USB flashing tool",
	Long: `Flash, back up, erase and compare partitions of Rockchip RK3066 and
RK3188 devices in bootloader mode.

The device must be attached over USB in loader mode (hold the recovery key
while connecting). Partitions are taken from the parameter block at the
start of the flash; "parameter" names the block itself.

Exit codes:
  0  success
  1  usage or other error
  2  device not found
  3  partition not found
  4  transfer failure
  5  cancelled
  6  compare content or length mismatch`,
	Version:           version.Version,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	Example: `  # Check for a device
  rkflash detect

  # Show the partition table
  rkflash part

  # Back up and reflash the kernel
  rkflash backup boot boot-backup.img
  rkflash flash boot boot.img --reboot

  # Stream progress to other machines
  rkflash flash system system.img --events-addr :8765 --advertise`,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rkflash %s\n%s\n", version.Full(), version.Platform())
	},
}
