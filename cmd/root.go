// Package cmd wires the listener glue and CLI surface: cobra command tree,
// logging/metrics bootstrap, and the `run` subcommand that starts the
// watcher, reconciler, DNS listeners and admin HTTP server.
//
// Grounded on a PersistentPreRunE logging-context pattern:
// --log-level/--log-format flags set up a base zerolog.Logger and stash it
// on the command context before any subcommand runs, plus cobra's
// built-in --version support.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polyresolver/polyresolver/internal/logging"
	"github.com/polyresolver/polyresolver/internal/version"
)

var ( //nolint:gochecknoglobals // cobra command flags
	logLevel  string
	logFormat string
)

// NewRootCmd builds the polyresolver command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "polyresolver",
		Short:         "Forwarding DNS resolver routed by a live zone-config directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			base := logging.Base("polyresolver", logLevel, logFormat)
			cmd.SetContext(base.WithContext(cmd.Context()))

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json, console")

	rootCmd.AddCommand(newRunCmd())

	rootCmd.Version = version.GetVersion()
	rootCmd.SetVersionTemplate("polyresolver " + version.GetVersion() + "\n")

	return rootCmd
}

// Execute runs the command tree against a background context.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ExecuteContext runs the command tree against ctx, so main can plumb
// signal-driven cancellation through to the run subcommand.
func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
