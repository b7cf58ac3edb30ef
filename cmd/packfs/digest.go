package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/config"
	"github.com/outofforest/packfs/inspect"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func addHashFlag(cmd *cobra.Command) {
	cmd.Flags().String(config.Flags[config.KeyHash], string(inspect.XXHash), "Hash algorithm: xxhash or blake3")
}

func digestCommand(e *env) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "digest <container>",
		Short: "Prints digests of files stored in the container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputTable && output != outputYAML {
				return errors.Errorf("unknown output %q", output)
			}
			return e.readContainer(args[0], func(c packfs.Container) error {
				digests, err := inspect.Digest(c, e.cfg.Workers, inspect.WithAlgorithm(e.cfg.Hash))
				if err != nil {
					return err
				}
				if err := printDigests(cmd.OutOrStdout(), output, digests); err != nil {
					return err
				}
				if w, ok := c.(packfs.Writable); ok && output == outputTable {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "Table checksum: %s\n", w.Checksum())
					return errors.WithStack(err)
				}
				return nil
			})
		},
	}
	addWorkersFlag(cmd)
	addHashFlag(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table or yaml")
	return cmd
}

func printDigests(w io.Writer, output string, digests []inspect.FileDigest) error {
	if output == outputYAML {
		data, err := yaml.Marshal(digests)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = w.Write(data)
		return errors.WithStack(err)
	}

	out := tablewriter.NewWriter(w)
	out.SetHeader([]string{"Path", "Size", "Sum"})
	out.SetAutoWrapText(false)
	out.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, d := range digests {
		out.Append([]string{d.Path, strconv.FormatUint(d.Size, 10), d.Sum})
	}
	out.Render()
	return nil
}

func verifyCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <container> <srcdir>",
		Short: "Compares files stored in the container with the directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.readContainer(args[0], func(c packfs.Container) error {
				report, err := inspect.Compare(c, os.DirFS(args[1]), ".", e.cfg.Workers,
					inspect.WithAlgorithm(e.cfg.Hash))
				if err != nil {
					return err
				}
				if report.Equal() {
					cmd.Println("Container matches the directory")
					return nil
				}

				w := cmd.OutOrStdout()
				for _, p := range report.Missing {
					fmt.Fprintf(w, "missing: %s\n", p)
				}
				for _, p := range report.Extra {
					fmt.Fprintf(w, "extra: %s\n", p)
				}
				for _, p := range report.Different {
					fmt.Fprintf(w, "different: %s\n", p)
				}
				return errors.Errorf("container differs from %q", args[1])
			})
		},
	}
	addWorkersFlag(cmd)
	addHashFlag(cmd)
	return cmd
}
