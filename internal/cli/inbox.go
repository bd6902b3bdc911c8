package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/inbox"
)

// InboxOptions holds flags for the inbox command.
type InboxOptions struct {
	*RootOptions
	Dir    string
	Outbox string
}

// NewInboxCommand creates the inbox command.
func NewInboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Serve events dropped as JSON files into a directory",
		Long: `Watch the inbox directory for *.json event files and write the replies
to the outbox directory under the same name.

A file holds one event or an array of events:
  {"identity": "919800000001", "kind": "text", "text": "check ball valve"}

Unreadable files are renamed with a .rejected suffix. Runs until
interrupted.

Example:
  stockline inbox --dir ./inbox --outbox ./outbox`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInbox(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "inbox directory (default from config inbox.dir)")
	cmd.Flags().StringVar(&opts.Outbox, "outbox", "", "outbox directory (default from config inbox.outbox)")

	return cmd
}

func runInbox(opts *InboxOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	dir, outbox := a.cfg.Inbox.Dir, a.cfg.Inbox.Outbox
	if opts.Dir != "" {
		dir = opts.Dir
	}
	if opts.Outbox != "" {
		outbox = opts.Outbox
	}
	if dir == outbox {
		return NewExitError(ExitCommandError, fmt.Sprintf("inbox and outbox must differ: %s", dir))
	}

	ctx, cancel := runContext(cmd, a.logger)
	defer cancel()
	a.serveMetrics(ctx)

	pool := a.pool()
	defer pool.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, replies in %s. Press Ctrl-C to stop.\n", dir, outbox)
	in := inbox.New(dir, outbox, pool, inbox.WithLogger(a.logger))
	if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "inbox stopped", err)
	}
	a.logger.Info("inbox stopped")
	return nil
}
