package main

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

func lsCommand(e *env) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "ls <container> [path]",
		Short: "Lists the directory stored in the container",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 1 {
				dir = args[1]
			}
			return e.readContainer(args[0], func(c packfs.Container) error {
				nodes, err := packfs.Children(c, dir, depth)
				if err != nil {
					return err
				}
				printNodes(cmd.OutOrStdout(), c, nodes)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 1, "Number of directory levels to list")
	return cmd
}

func printNodes(w io.Writer, c packfs.Container, nodes []*tree.Node) {
	out := tablewriter.NewWriter(w)
	out.SetHeader([]string{"Path", "Type", "Size", "Access"})
	out.SetAutoWrapText(false)
	out.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, n := range nodes {
		kind := "file"
		if n.IsDir() {
			kind = "dir"
		}
		access := types.ReadWrite
		if c.IsReadOnly(n) {
			access = types.ReadOnly
		}
		out.Append([]string{
			c.Tree().Path(n),
			kind,
			strconv.FormatUint(c.Size(n), 10),
			access.String(),
		})
	}

	out.Render()
}

func catCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <container> <path>",
		Short: "Prints the file stored in the container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.readContainer(args[0], func(c packfs.Container) error {
				h, err := packfs.OpenPath(c, args[1], types.ReadOnly)
				if err != nil {
					return err
				}
				defer h.Close()

				_, err = io.Copy(cmd.OutOrStdout(), h)
				return errors.WithStack(err)
			})
		},
	}
	addCacheSizeFlag(cmd)
	return cmd
}
