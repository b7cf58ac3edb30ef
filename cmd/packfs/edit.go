package main

import (
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/types"
)

func putCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "put <container> <path> <local-file>",
		Short: "Replaces content of the file stored in the block container",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := os.Open(args[2])
			if err != nil {
				return errors.WithStack(err)
			}
			defer src.Close()

			return e.editContainer(args[0], func(c packfs.Writable) error {
				h, err := packfs.OpenPath(c, args[1], types.ReadWrite)
				if err != nil {
					return err
				}
				defer h.Close()

				if err := h.Truncate(0); err != nil {
					return err
				}
				n, err := io.Copy(h, src)
				if err != nil {
					return errors.WithStack(err)
				}

				e.log.Info("File replaced", zap.String("path", args[1]), zap.Int64("size", n),
					zap.Int("freeBlocks", c.FreeBlocks()))
				return nil
			})
		},
	}
}

func truncateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <container> <path> <size>",
		Short: "Changes size of the file stored in the block container",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid size %q", args[2])
			}

			return e.editContainer(args[0], func(c packfs.Writable) error {
				h, err := packfs.OpenPath(c, args[1], types.ReadWrite)
				if err != nil {
					return err
				}
				defer h.Close()

				return h.Truncate(size)
			})
		},
	}
}
