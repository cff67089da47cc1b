// Package cli implements queuectl, the operator CLI for inspecting and draining a site's queue.
package cli

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"cio-queue/internal/app"
	"cio-queue/internal/config"
	"cio-queue/internal/logging"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

type globalFlags struct {
	configPath string
	verbose    bool
}

// RootCmd returns queuectl with every subcommand attached.
func RootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and drain the durable tracking queue",
		Long: `queuectl opens the queue storage configured for the daemon (CIO_QUEUE_CONFIG
and the CIO_* environment) and operates on it directly.

Stop the daemon first: the queue is not safe for use by two processes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("CIO_QUEUE_CONFIG"), "TOML or YAML config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log queue activity to stderr")

	root.AddCommand(statusCmd(flags))
	root.AddCommand(inventoryCmd(flags))
	root.AddCommand(showCmd(flags))
	root.AddCommand(addCmd(flags))
	root.AddCommand(runCmd(flags))
	root.AddCommand(pruneCmd(flags))
	return root
}

// open loads config and builds the queue. The caller closes the App.
func (f *globalFlags) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadFrom(f.configPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, f.logger(cfg))
}

func (f *globalFlags) logger(cfg config.Config) *log.Logger {
	if !f.verbose {
		return logging.Discard()
	}
	level := cfg.LogLevel
	if level == "info" {
		level = "debug"
	}
	return logging.New(level, cfg.LogFormat)
}
