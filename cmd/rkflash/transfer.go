package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/rkflash/internal/engine"
	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/session"
	"github.com/muurk/rkflash/internal/ui"
)

// Transfer command flags
var (
	noVerify     bool
	rebootAfter  bool
	verifyBackup bool
)

func init() {
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(compareCmd)
}

// flashCmd writes images to partitions
var flashCmd = &cobra.Command{
	Use:   "flash <partition> <image> [<partition> <image>...]",
	Short: "Write images to partitions",
	Long: `Write one or more image files to partitions.

Each image must fit its partition; a short image is padded with zeros to a
whole sector and the rest of the partition is left untouched. Every
partition is read back and compared after writing unless --no-verify is
given.

The partition name "parameter" takes a parameter text file and rewrites
the parameter block itself.`,
	Example: `  # Flash the kernel and verify it
  rkflash flash boot boot.img

  # Flash several partitions, then reboot
  rkflash flash boot boot.img system system.img --reboot

  # Replace the partition table
  rkflash flash parameter parameter.txt`,
	Args: func(cmd *cobra.Command, args []string) error {
		_, err := parseImagePairs(args)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		pairs, _ := parseImagePairs(args)
		return current.flash(cmd.Context(), pairs, !noVerify, rebootAfter)
	},
}

func init() {
	flashCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip reading back and comparing after writing")
	flashCmd.Flags().BoolVar(&rebootAfter, "reboot", false, "Reboot the device when all images are written")
}

// imagePair is one <partition> <image> argument pair
type imagePair struct {
	Partition string
	Path      string
}

func parseImagePairs(args []string) ([]imagePair, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, fmt.Errorf("expected <partition> <image> pairs, got %d argument(s)", len(args))
	}

	seen := make(map[string]bool)
	pairs := make([]imagePair, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		name := strings.TrimPrefix(args[i], "@")
		if seen[name] {
			return nil, fmt.Errorf("partition %q given more than once", name)
		}
		seen[name] = true
		pairs = append(pairs, imagePair{Partition: name, Path: args[i+1]})
	}
	return pairs, nil
}

// image is an opened input file
type image struct {
	imagePair
	file *os.File
	size int64
}

func openImages(pairs []imagePair) ([]*image, func(), error) {
	var images []*image
	closeAll := func() {
		for _, img := range images {
			img.file.Close()
		}
	}

	for _, p := range pairs {
		f, err := os.Open(p.Path)
		if err != nil {
			closeAll()
			return nil, nil, flasherr.Wrap(flasherr.ErrTypeIO, "open image", err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			closeAll()
			return nil, nil, flasherr.Wrap(flasherr.ErrTypeIO, "open image", err)
		}
		images = append(images, &image{imagePair: p, file: f, size: fi.Size()})
	}
	return images, closeAll, nil
}

func (a *app) flash(ctx context.Context, pairs []imagePair, verify, reboot bool) error {
	images, closeAll, err := openImages(pairs)
	if err != nil {
		return err
	}
	defer closeAll()

	names := make([]string, len(images))
	var args []string
	params := map[string]string{}
	for i, img := range images {
		names[i] = img.Partition
		args = append(args, img.Partition, img.Path)
		params["Image ("+img.Partition+")"] = fmt.Sprintf("%s (%s)", img.Path, ui.FormatBytes(img.size))
	}
	params["Verify"] = onOff(verify)

	rc := ui.RunnerConfig{
		Title:   "Flash",
		Command: "rkflash flash " + strings.Join(args, " "),
		Params:  params,
	}
	return a.run(ctx, rc, "flash", names, func(ctx context.Context, sess *session.Session, sink engine.Sink) error {
		eng := engine.New(sess, engine.WithSink(sink), engine.WithLogger(a.logger), engine.WithVerify(verify))
		for _, img := range images {
			if _, err := eng.Flash(ctx, img.Partition, img.file, img.size); err != nil {
				return err
			}
		}
		if reboot {
			return sess.Reboot(ctx)
		}
		return nil
	})
}

// eraseCmd fills a partition with the erase pattern
var eraseCmd = &cobra.Command{
	Use:   "erase <partition>",
	Short: "Erase a partition",
	Long: `Overwrite a whole partition with the erase pattern (0xFF unless
transfer.erase_pattern is set in the config file).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.erase(cmd.Context(), strings.TrimPrefix(args[0], "@"))
	},
}

func (a *app) erase(ctx context.Context, name string) error {
	rc := ui.RunnerConfig{
		Title:   "Erase",
		Command: "rkflash erase " + name,
		Params: map[string]string{
			"Partition": name,
			"Pattern":   fmt.Sprintf("%#02x", a.cfg.Transfer.ErasePattern),
		},
	}
	return a.run(ctx, rc, "erase", []string{name}, func(ctx context.Context, sess *session.Session, sink engine.Sink) error {
		eng := engine.New(sess, engine.WithSink(sink), engine.WithLogger(a.logger))
		_, err := eng.Erase(ctx, name)
		return err
	})
}

// backupCmd reads a partition into a file
var backupCmd = &cobra.Command{
	Use:   "backup <partition> <image>",
	Short: "Read a partition into a file",
	Long: `Read a whole partition into an image file. The file is created or
truncated to the partition size.

Backing up "parameter" writes the decoded parameter text, ready to be
edited and flashed back.`,
	Example: `  # Save the kernel
  rkflash backup boot boot-backup.img

  # Save the partition table as text
  rkflash backup parameter parameter.txt`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.backup(cmd.Context(), strings.TrimPrefix(args[0], "@"), args[1], verifyBackup)
	},
}

func init() {
	backupCmd.Flags().BoolVar(&verifyBackup, "verify", false, "Read the partition a second time and compare it with the file")
}

func (a *app) backup(ctx context.Context, name, path string, verify bool) error {
	rc := ui.RunnerConfig{
		Title:   "Backup",
		Command: "rkflash backup " + name + " " + path,
		Params: map[string]string{
			"Partition": name,
			"Output":    path,
		},
	}
	return a.run(ctx, rc, "", nil, func(ctx context.Context, sess *session.Session, sink engine.Sink) error {
		eng := engine.New(sess, engine.WithSink(sink), engine.WithLogger(a.logger), engine.WithVerify(verify))

		if name == partition.ParameterName {
			text, _, err := eng.BackupParameter(ctx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, text, 0644); err != nil {
				return flasherr.Wrap(flasherr.ErrTypeIO, "backup", err)
			}
			return nil
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return flasherr.Wrap(flasherr.ErrTypeIO, "backup", err)
		}
		_, err = eng.Backup(ctx, name, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = flasherr.Wrap(flasherr.ErrTypeIO, "backup", cerr)
		}
		return err
	})
}

// compareCmd checks a partition against a file
var compareCmd = &cobra.Command{
	Use:   "compare <partition> <image>",
	Short: "Compare a partition with a file",
	Long: `Compare a partition with an image file byte for byte. The file must be
exactly the partition size, such as one written by "rkflash backup".

The command exits with code 6 and reports the first differing offset when
the contents differ.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return current.compare(cmd.Context(), strings.TrimPrefix(args[0], "@"), args[1])
	},
}

func (a *app) compare(ctx context.Context, name, path string) error {
	images, closeAll, err := openImages([]imagePair{{Partition: name, Path: path}})
	if err != nil {
		return err
	}
	defer closeAll()
	img := images[0]

	rc := ui.RunnerConfig{
		Title:   "Compare",
		Command: "rkflash compare " + name + " " + path,
		Params: map[string]string{
			"Partition": name,
			"Reference": fmt.Sprintf("%s (%s)", path, ui.FormatBytes(img.size)),
		},
	}
	return a.run(ctx, rc, "", nil, func(ctx context.Context, sess *session.Session, sink engine.Sink) error {
		eng := engine.New(sess, engine.WithSink(sink), engine.WithLogger(a.logger))
		_, err := eng.Compare(ctx, name, img.file, img.size)
		return err
	})
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
