package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/config"
	"github.com/muurk/rkflash/internal/discovery"
	"github.com/muurk/rkflash/internal/engine"
	"github.com/muurk/rkflash/internal/eventserver"
	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/logging"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/session"
	"github.com/muurk/rkflash/internal/ui"
	"github.com/muurk/rkflash/internal/usb"
)

// Global flags
var (
	configPath   string
	logLevel     string
	chunkSectors int
	retries      int
	timeout      time.Duration
	assumeYes    bool
	plainOutput  bool
	eventsAddr   string
	advertise    bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/rkflash/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, off (default from RKFLASH_LOG_LEVEL)")
	flags.IntVar(&chunkSectors, "chunk-sectors", 32, "Sectors per USB command (1-128)")
	flags.IntVar(&retries, "retries", 3, "Attempts per chunk when a transfer times out")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "Per-transfer timeout")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation before writing to the device")
	flags.BoolVar(&plainOutput, "plain", false, "Plain line output instead of the live display")
	flags.StringVar(&eventsAddr, "events-addr", "", "Serve progress events over WebSocket on this address (e.g. :8765)")
	flags.BoolVar(&advertise, "advertise", false, "Advertise the event stream over mDNS (needs --events-addr)")
}

// newTransport opens the host USB stack. Tests replace it.
var newTransport = func(cfg *config.Config, logger *zap.Logger) usb.Transport {
	return usb.NewBus(
		usb.WithProfiles(cfg.USBProfiles()),
		usb.WithBusLogger(logger),
	)
}

// current is the app built by setup for the running command
var current *app

// setup loads the config file, applies flag overrides and starts logging
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyOverrides(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	logger := logging.GetLogger()

	if advertise && eventsAddr == "" {
		return fmt.Errorf("--advertise needs --events-addr")
	}

	current = &app{
		cfg:        cfg,
		cfgPath:    configPath,
		logger:     logger,
		transport:  newTransport(cfg, logger),
		out:        cmd.OutOrStdout(),
		plain:      plainOutput || !ui.IsTerminal(os.Stdout),
		yes:        assumeYes,
		eventsAddr: eventsAddr,
		advertise:  advertise,
	}
	return nil
}

// applyOverrides copies flags the user set onto cfg. Unset flags leave
// the file values alone.
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = logLevel
		case "chunk-sectors":
			cfg.Transfer.ChunkSectors = chunkSectors
		case "retries":
			cfg.Transfer.Retries = retries
		case "timeout":
			cfg.Transfer.Timeout = timeout
		}
	})
}

// app carries what the device commands share
type app struct {
	cfg        *config.Config
	cfgPath    string
	logger     *zap.Logger
	transport  usb.Transport
	out        io.Writer
	plain      bool
	yes        bool
	eventsAddr string
	advertise  bool

	// confirm asks before a destructive command. Nil uses the terminal.
	confirm func(action, device string, partitions []string) bool
}

func (a *app) printer() *ui.Printer {
	return ui.NewPrinter(a.out).SetPlain(a.plain)
}

func (a *app) sessionOptions() []session.Option {
	t := a.cfg.Transfer
	return []session.Option{
		session.WithLogger(a.logger),
		session.WithChunkSectors(t.ChunkSectors),
		session.WithRetries(t.Retries),
		session.WithRetryDelay(t.RetryDelay),
		session.WithTimeout(t.Timeout),
		session.WithErasePattern(byte(t.ErasePattern)),
	}
}

// connect finds the single attached device and opens a session on it
func (a *app) connect(ctx context.Context) (*session.Session, error) {
	h, ok, err := discovery.DetectOnce(a.transport)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, flasherr.New(flasherr.ErrTypeDeviceNotFound, "detect",
			"no Rockchip device in bootloader mode is attached")
	}

	sess, err := session.Connect(ctx, a.transport, h, a.sessionOptions()...)
	if err != nil {
		return nil, err
	}

	a.recordDevice(h.Chip, sess.FlashInfo())
	return sess, nil
}

// recordDevice notes the device in the config file. The file is reloaded
// first so flag overrides held in a.cfg are never written back.
func (a *app) recordDevice(chip string, info protocol.FlashInfo) {
	a.cfg.UpdateDeviceLastSeen(chip, info.Sectors, info.Manufacturer())

	onDisk, err := config.Load(a.cfgPath)
	if err != nil {
		a.logger.Debug("Could not record device in config", zap.Error(err))
		return
	}
	onDisk.UpdateDeviceLastSeen(chip, info.Sectors, info.Manufacturer())
	if err := onDisk.Save(a.cfgPath); err != nil {
		a.logger.Debug("Could not record device in config", zap.Error(err))
	}
}

// confirmWrite asks before a destructive command unless --yes was given
func (a *app) confirmWrite(action string, h usb.Handle, partitions []string) error {
	if a.yes {
		return nil
	}
	ask := a.confirm
	if ask == nil {
		ask = ui.DeviceWriteConfirmation
	}
	if !ask(action, h.String(), partitions) {
		return flasherr.New(flasherr.ErrTypeCancelled, action, "not confirmed")
	}
	return nil
}

// startEvents starts the WebSocket event stream when --events-addr is set.
// The returned stop function is never nil.
func (a *app) startEvents(h usb.Handle) (engine.Sink, func(), error) {
	if a.eventsAddr == "" {
		return nil, func() {}, nil
	}

	srv := eventserver.New(eventserver.Config{
		Addr:      a.eventsAddr,
		Advertise: a.advertise,
		Instance:  discovery.InstanceName(h.ID()),
		TXT:       []string{"chip=" + h.Chip, "device=" + h.ID()},
	})
	if err := srv.Start(); err != nil {
		return nil, func() {}, err
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Debug("Event server shutdown", zap.Error(err))
		}
	}
	return srv, stop, nil
}

// run opens a session and drives op through a ui.Runner. Events go to the
// display, the log and the event stream.
func (a *app) run(ctx context.Context, rc ui.RunnerConfig, confirmAction string, partitions []string,
	op func(ctx context.Context, sess *session.Session, sink engine.Sink) error) error {
	sess, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if confirmAction != "" {
		if err := a.confirmWrite(confirmAction, sess.Handle(), partitions); err != nil {
			return err
		}
	}

	remote, stop, err := a.startEvents(sess.Handle())
	if err != nil {
		return err
	}
	defer stop()

	rc.Plain = a.plain
	rc.Output = a.out
	if rc.Params == nil {
		rc.Params = map[string]string{}
	}
	rc.Params["Device"] = sess.Handle().String()

	runner := ui.NewRunner(rc)
	err = runner.Run(ctx, func(sink engine.Sink) error {
		sinks := engine.MultiSink{sink, engine.LogSink{Logger: a.logger}}
		if remote != nil {
			sinks = append(sinks, remote)
		}
		return op(ctx, sess, sinks)
	})
	return reported(err)
}
