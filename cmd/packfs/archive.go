package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/config"
	"github.com/outofforest/packfs/pkg/archive"
)

func exportCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <container> <archive>",
		Short: "Writes the plain container to the compressed archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			dev, err := e.openDevice(args[0], false)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			c, err := packfs.Open(dev, e.cfg.Format, e.containerOptions()...)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := dev.Seek(0, io.SeekStart); err != nil {
				return errors.WithStack(err)
			}

			f, err := os.Create(args[1])
			if err != nil {
				return errors.WithStack(err)
			}
			defer f.Close()

			n, err := archive.Compress(f, io.LimitReader(dev, dev.Size()), e.cfg.Codec)
			if err != nil {
				return err
			}
			e.log.Info("Container exported", zap.String("archive", args[1]),
				zap.Int("entries", c.Tree().Len()), zap.Int64("size", n))
			return errors.WithStack(f.Sync())
		},
	}
	cmd.Flags().String(config.Flags[config.KeyCodec], string(archive.CodecZstd), "Compression codec: none, lz4 or zstd")
	return cmd
}

func importCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive> <container>",
		Short: "Restores the container from the archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool(forceFlag)

			f, err := os.Open(args[0])
			if err != nil {
				return errors.WithStack(err)
			}
			defer f.Close()

			dev, err := e.openDevice(args[1], true)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			if dev.Size() > 0 && !force {
				return errors.Errorf("container %q already exists", args[1])
			}
			if err := dev.Truncate(0); err != nil {
				return err
			}
			if _, err := dev.Seek(0, io.SeekStart); err != nil {
				return errors.WithStack(err)
			}
			n, codec, err := archive.Decompress(dev, f)
			if err != nil {
				return err
			}
			if err := dev.Sync(); err != nil {
				return err
			}

			c, err := packfs.Open(dev, e.cfg.Format, e.containerOptions()...)
			if err != nil {
				return errors.Wrapf(err, "archive %q does not contain valid %s container", args[0], e.cfg.Format)
			}
			defer c.Close()

			e.log.Info("Container imported", zap.String("codec", string(codec)),
				zap.Int("entries", c.Tree().Len()), zap.Int64("size", n))
			return nil
		},
	}
	cmd.Flags().Bool(forceFlag, false, "Overwrite existing container")
	return cmd
}
