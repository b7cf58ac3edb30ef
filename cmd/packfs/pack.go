package main

import (
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/config"
)

const forceFlag = "force"

func packCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <srcdir> <container>",
		Short: "Packs the directory into the container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool(forceFlag)
			return e.pack(os.DirFS(args[0]), args[1], force)
		},
	}
	addWorkersFlag(cmd)
	cmd.Flags().Uint32(config.Flags[config.KeySpareBlocks], 0, "Number of free nodes added to block container")
	cmd.Flags().Bool(forceFlag, false, "Overwrite existing container")
	return cmd
}

func convertCommand(e *env) *cobra.Command {
	var from packfs.Format
	cmd := &cobra.Command{
		Use:   "convert <src-container> <dst-container>",
		Short: "Repacks the container into another format",
		Long: `Repacks the container into another format.
Cipher key is used for both containers, split file is used for the source container only.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcFormat := e.cfg.Format
			if from != "" {
				srcFormat = from
			}
			force, _ := cmd.Flags().GetBool(forceFlag)

			dev, err := e.openDevice(args[0], false)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			src, err := packfs.Open(dev, srcFormat, e.containerOptions()...)
			if err != nil {
				return err
			}
			defer src.Close()

			dst := *e
			dst.cfg.SplitFile = ""
			return dst.pack(packfs.NewFS(src), args[1], force)
		},
	}
	addWorkersFlag(cmd)
	cmd.Flags().Uint32(config.Flags[config.KeySpareBlocks], 0, "Number of free nodes added to block container")
	cmd.Flags().Var(&from, "from", "Format of the source container, defaults to --format")
	cmd.Flags().Bool(forceFlag, false, "Overwrite existing container")
	return cmd
}

func (e *env) pack(fsys fs.FS, path string, force bool) error {
	dev, err := e.openDevice(path, true)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	c, err := packfs.Create(dev, e.cfg.Format, fsys, ".", e.containerOptions(packfs.WithOverwrite(force))...)
	if err != nil {
		return err
	}
	defer c.Close()

	e.log.Info("Container created",
		zap.String("path", path),
		zap.Stringer("format", e.cfg.Format),
		zap.Int("entries", c.Tree().Len()),
		zap.Int64("size", dev.Size()))
	return nil
}
