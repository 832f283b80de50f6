// Package cli implements engagectl, a local harness that runs the targeting
// engine against manifest files without any of the backing services.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/engage/internal/config"
	"github.com/rafaeljc/engage/internal/logger"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Quiet   bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for engagectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "engagectl",
		Short:         "Evaluate engagement manifests locally",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine decisions to stderr")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress all logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))

	return cmd
}

// logger returns the engine logger for a command. Warnings about malformed
// criteria are shown by default.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	if o.Quiet {
		return logger.Discard()
	}
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	return logger.NewWithWriter(&config.AppConfig{
		Name:        "engagectl",
		Version:     Version,
		Environment: config.EnvironmentProduction,
		LogLevel:    level,
		LogFormat:   "text",
	}, w)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
