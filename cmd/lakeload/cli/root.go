// Package cli implements the lakeload command-line interface using Cobra.
// It resolves AWS credentials and opens Delta tables for inspection and
// export.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justapithecus/lakeload/internal/config"
	"github.com/justapithecus/lakeload/internal/logging"
)

var (
	verbose  bool
	jsonOut  bool
	cfgPath  string
	envFiles []string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "lakeload",
	Short: "Open remote Delta Lake tables with ambient AWS credentials",
	Long: `lakeload resolves AWS credentials from the default provider chain
(environment, shared profiles, container and instance metadata) and opens
Delta Lake tables stored in S3 for metadata inspection or row export.

Configuration is read from lakeload.yaml and LAKELOAD_* environment
variables. The table's region must be configured.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFiles(envFiles...); err != nil {
			return err
		}

		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(logging.Options{
			Level:   cfg.Log.Level,
			JSON:    cfg.Log.Format == "json",
			Verbose: verbose,
			Output:  cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

// Execute runs the root command. Interrupts cancel the command's context.
// The logger is synced on every exit path, including command errors.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx)
}

// execute runs rootCmd under ctx. Cobra keeps a subcommand's context once
// set, so every subcommand is rebound to ctx first.
func execute(ctx context.Context) error {
	defer func() { _ = logger.Sync() }()
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultFile, "config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "load KEY=VALUE files into the environment (repeatable)")
}
