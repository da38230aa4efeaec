// Package cli implements the filament command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"github.com/webriots/filament"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	LogLevel string
	Config   string

	config *Config
}

var levels = map[string]logiface.Level{
	"disabled": logiface.LevelDisabled,
	"err":      logiface.LevelError,
	"error":    logiface.LevelError,
	"warning":  logiface.LevelWarning,
	"warn":     logiface.LevelWarning,
	"notice":   logiface.LevelNotice,
	"info":     logiface.LevelInformational,
	"debug":    logiface.LevelDebug,
	"trace":    logiface.LevelTrace,
}

// NewRootCommand creates the root command for the filament CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "filament",
		Short: "Cooperative fiber scheduler demos",
		Long:  "Runs small programs on a single-threaded cooperative fiber scheduler.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := &Config{}
			if opts.Config != "" {
				var err error
				if cfg, err = LoadConfig(opts.Config); err != nil {
					return err
				}
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			if opts.Verbose && cfg.LogLevel == "" {
				cfg.LogLevel = "debug"
			}
			if cfg.LogLevel == "" {
				cfg.LogLevel = "warning"
			}
			if _, ok := levels[strings.ToLower(cfg.LogLevel)]; !ok {
				return fmt.Errorf("%w: invalid log level %q", filament.ErrUsage, cfg.LogLevel)
			}
			opts.config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|notice|warning|err|disabled)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(NewPingPongCommand(opts))
	cmd.AddCommand(NewPipelineCommand(opts))
	cmd.AddCommand(NewEchoCommand(opts))

	return cmd
}

// logger writes JSON lines to w at the configured level.
func (o *RootOptions) logger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(levels[strings.ToLower(o.config.LogLevel)]),
	).Logger()
}

// scheduler builds a Scheduler from the config, logging to the command's
// error stream.
func (o *RootOptions) scheduler(cmd *cobra.Command) (*filament.Scheduler, error) {
	opts := append(o.config.options(), filament.WithLogger(o.logger(cmd.ErrOrStderr())))
	return filament.New(opts...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, filament.ErrUsage):
		return ExitUsage
	default:
		return ExitFailure
	}
}
