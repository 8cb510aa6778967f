package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/muurk/rkflash/internal/discovery"
	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/ui"
)

// Device command flags
var (
	waitForDevice bool
	waitInterval  time.Duration
	waitTimeout   time.Duration
)

func init() {
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(partCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(rebootCmd)
}

// detectCmd reports whether a device is attached
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check for a device in bootloader mode",
	Long: `Check the USB bus for a Rockchip device in bootloader mode.

Without --wait the bus is checked once and the command exits with code 2
when no device is present. With --wait it polls until a device appears.`,
	Example: `  # Check once
  rkflash detect

  # Wait up to two minutes, polling every 500ms
  rkflash detect --wait --interval 500ms --wait-timeout 2m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.detect(cmd.Context(), waitForDevice, waitInterval, waitTimeout)
	},
}

func init() {
	detectCmd.Flags().BoolVar(&waitForDevice, "wait", false, "Poll until a device appears")
	detectCmd.Flags().DurationVar(&waitInterval, "interval", discovery.DefaultInterval, "Polling interval for --wait")
	detectCmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "Give up waiting after this long (0 waits forever)")
}

func (a *app) detect(ctx context.Context, wait bool, interval, limit time.Duration) error {
	p := a.printer()
	scanner := discovery.NewScanner(a.transport)
	scanner.Interval = interval
	scanner.Timeout = limit

	if wait {
		if !a.plain {
			p.Println(ui.ProgressLabelStyle.Render("Waiting for a device in bootloader mode (Ctrl+C to stop)..."))
		}
		h, err := scanner.WaitForDeviceWithContext(ctx)
		if err != nil {
			return err
		}
		p.Println(fmt.Sprintf("present %s", h))
		return nil
	}

	devices, err := scanner.Scan()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		p.Println("absent")
		return flasherr.New(flasherr.ErrTypeDeviceNotFound, "detect",
			"no Rockchip device in bootloader mode is attached")
	}
	for _, d := range devices {
		p.Println(fmt.Sprintf("present %s", d.Handle))
	}
	if len(devices) > 1 {
		return flasherr.Newf(flasherr.ErrTypeInvalidState, "detect",
			"%d devices attached, connect only one before flashing", len(devices))
	}
	return nil
}

// partCmd lists the partition table
var partCmd = &cobra.Command{
	Use:   "part",
	Short: "List the partitions in the parameter block",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.part(cmd.Context())
	},
}

func (a *app) part(ctx context.Context) error {
	sess, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	cat, err := sess.Catalog()
	if err != nil {
		return err
	}

	p := a.printer()
	params := map[string]string{
		"Device":     sess.Handle().String(),
		"Partitions": fmt.Sprintf("%d", cat.Len()),
	}
	for _, key := range []string{"FIRMWARE_VER", "MACHINE_MODEL"} {
		if v, ok := cat.Property(key); ok {
			params[key] = v
		}
	}
	p.PrintHeader("Partition Table", "rkflash part", params)
	p.PrintPartitions(cat.Entries())
	return nil
}

// infoCmd prints flash and chip information
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show flash and chip information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.info(cmd.Context())
	},
}

func (a *app) info(ctx context.Context) error {
	sess, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	chip, err := sess.ChipInfo(ctx)
	if err != nil {
		return err
	}

	fi := sess.FlashInfo()
	details := flashDetails(fi)
	details["Device"] = sess.Handle().String()
	details["Chip Info"] = strings.TrimRight(printable(chip), ".")
	if cat, err := sess.Catalog(); err == nil {
		details["Partitions"] = fmt.Sprintf("%d", cat.Len())
	} else {
		details["Partitions"] = "unavailable (" + flasherr.GetShortErrorMessage(err) + ")"
	}

	p := a.printer()
	p.PrintSuccess("Device information", details)
	if a.logger.Core().Enabled(zapcore.DebugLevel) {
		p.PrintRawBox("Chip Info", hex.Dump(chip))
	}
	return nil
}

func flashDetails(fi protocol.FlashInfo) map[string]string {
	return map[string]string{
		"Flash Size":   fmt.Sprintf("%s (%d sectors)", ui.FormatBytes(fi.Bytes()), fi.Sectors),
		"Manufacturer": fi.Manufacturer(),
		"Block Size":   fmt.Sprintf("%d sectors", fi.BlockSize),
		"Page Size":    fmt.Sprintf("%d sectors", fi.PageSize),
		"ECC Bits":     fmt.Sprintf("%d", fi.ECCBits),
		"Chip Select":  fmt.Sprintf("%#02x", fi.ChipSelect),
	}
}

// printable renders b as text, replacing anything outside ASCII with '.'
func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 32 || c > 126 {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}

// rebootCmd restarts the device
var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot the device out of bootloader mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.reboot(cmd.Context())
	},
}

func (a *app) reboot(ctx context.Context) error {
	sess, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Reboot(ctx); err != nil {
		return err
	}
	a.printer().PrintSuccess("Device rebooting", map[string]string{
		"Device": sess.Handle().String(),
	})
	return nil
}
