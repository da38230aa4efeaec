package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/webriots/filament"
)

// PingPongOptions holds flags for the pingpong command.
type PingPongOptions struct {
	*RootOptions
	Rounds int
}

// NewPingPongCommand creates a command that alternates two fibers.
func NewPingPongCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PingPongOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "pingpong",
		Short:         "Alternate two fibers with Yield",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPingPong(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Rounds, "rounds", "n", 3, "number of exchanges")

	return cmd
}

func runPingPong(cmd *cobra.Command, opts *PingPongOptions) error {
	if opts.Rounds < 0 {
		return fmt.Errorf("%w: rounds must not be negative", filament.ErrUsage)
	}
	s, err := opts.scheduler(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, word := range []string{"ping", "pong"} {
		s.Spawn(func(_ context.Context, f *filament.Fiber) error {
			for i := range opts.Rounds {
				if _, err := fmt.Fprintf(out, "%s %d (fiber %d)\n", word, i, f.ID()); err != nil {
					return err
				}
				f.Yield()
			}
			return nil
		})
	}

	if err := s.Run(commandContext(cmd)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "done: %d switches\n", s.Stats().Switches)
	return err
}
