package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/config"
	"github.com/outofforest/packfs/pkg/logger"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// env is the state shared by commands, it is populated before the command runs.
type env struct {
	configFile string
	cfg        config.Config
	log        *zap.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "packfs",
		Short:         "Packs directory trees into single-file containers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = e.log.Sync()
		},
	}
	root.SetOut(os.Stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&e.configFile, "config", "", "Path to the YAML config file")
	flags.String(config.Flags[config.KeyLogLevel], logger.DefaultLevel, "Log level")
	flags.String(config.Flags[config.KeyFormat], string(packfs.FormatBlock), "Container format: contiguous or block")
	flags.String(config.Flags[config.KeyCipherKeyFile], "", "File with the key used to encrypt the container")
	flags.String(config.Flags[config.KeySplitFile], "", "File storing the random pad share of the container")

	root.AddCommand(
		packCommand(e),
		convertCommand(e),
		lsCommand(e),
		catCommand(e),
		putCommand(e),
		truncateCommand(e),
		digestCommand(e),
		verifyCommand(e),
		exportCommand(e),
		importCommand(e),
		mountCommand(e),
	)
	return root
}

func (e *env) load(cmd *cobra.Command) error {
	v, err := config.New(e.configFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	if e.cfg, err = config.Load(v); err != nil {
		return err
	}
	e.log, err = logger.New(e.cfg.LogLevel)
	return err
}

// containerOptions returns options built from the configuration.
func (e *env) containerOptions(opts ...packfs.Option) []packfs.Option {
	return append([]packfs.Option{
		packfs.WithLogger(e.log),
		packfs.WithWorkers(e.cfg.Workers),
		packfs.WithCacheSize(e.cfg.CacheSize),
		packfs.WithSpareBlocks(e.cfg.SpareBlocks),
		packfs.WithReadOnly(e.cfg.ReadOnly),
	}, opts...)
}

func addWorkersFlag(cmd *cobra.Command) {
	cmd.Flags().Int(config.Flags[config.KeyWorkers], 4, "Number of workers reading files")
}

func addCacheSizeFlag(cmd *cobra.Command) {
	cmd.Flags().Int(config.Flags[config.KeyCacheSize], 0, "Number of file contents cached by contiguous containers")
}
