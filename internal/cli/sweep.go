package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Limit int
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove sessions idle longer than the idle window",
		Long: `Delete sessions that have not been touched for longer than
session.idle_window. A zero window disables expiry and sweeps nothing.

Example:
  stockline sweep --limit 500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 1000, "maximum sessions to remove")

	return cmd
}

// SweepResult is the outcome of a sweep.
type SweepResult struct {
	Removed int `json:"removed"`
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	f := formatter(opts.RootOptions, cmd)
	f.VerboseLog("Sweeping sessions idle longer than %s", a.cfg.Session.IdleWindow)
	n, err := a.dispatcher.Sweep(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep failed", err)
	}
	return f.Emit(SweepResult{Removed: n}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ removed %d idle session(s)\n", n)
	})
}
