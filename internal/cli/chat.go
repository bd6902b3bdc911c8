package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/dispatch"
	"github.com/roach88/stockline/internal/flow"
)

// ChatOptions holds flags for the chat command.
type ChatOptions struct {
	*RootOptions
	Identity string
}

// NewChatCommand creates the chat command.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the engine from the terminal",
		Long: `Read messages from stdin, one per line, and print the replies.

Buttons are shown numbered. Type #N to press button N of the most recent
reply that offered buttons. Type /quit or close stdin to stop.

Example:
  stockline chat --as 919800000001`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "as", "local", "identity to chat as")

	return cmd
}

func runChat(opts *ChatOptions, cmd *cobra.Command) error {
	if strings.TrimSpace(opts.Identity) == "" {
		return NewExitError(ExitCommandError, "--as must not be empty")
	}
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := runContext(cmd, a.logger)
	defer cancel()
	a.serveMetrics(ctx)

	pool := a.pool()
	defer pool.Close()

	s := &chatSession{
		identity: opts.Identity,
		turns:    pool,
		out:      cmd.OutOrStdout(),
		json:     opts.Format == "json",
	}
	return s.run(ctx, cmd.InOrStdin())
}

// turnRunner runs one turn and waits for its replies.
type turnRunner interface {
	Do(ctx context.Context, ev flow.Event) ([]flow.Reply, error)
}

var _ turnRunner = (*dispatch.Pool)(nil)

// chatSession is one terminal conversation.
type chatSession struct {
	identity string
	turns    turnRunner
	out      io.Writer
	json     bool
	buttons  []flow.Choice
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			return nil
		}
		if err := s.turn(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	return nil
}

func (s *chatSession) turn(ctx context.Context, line string) error {
	ev := flow.Event{Identity: s.identity, Kind: flow.EventText, Text: line}
	if n, ok := buttonIndex(line); ok {
		if n > len(s.buttons) {
			fmt.Fprintf(s.out, "! no button %d\n", n)
			return nil
		}
		ev = flow.Event{Identity: s.identity, Kind: flow.EventSelection, SelectionToken: s.buttons[n-1].Token}
	}

	replies, err := s.turns.Do(ctx, ev)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return WrapExitError(ExitFailure, "turn failed", err)
	}
	for _, r := range replies {
		if len(r.Choices) > 0 {
			s.buttons = r.Choices
		}
	}

	if s.json {
		return json.NewEncoder(s.out).Encode(replies)
	}
	renderReplies(s.out, replies)
	return nil
}

// buttonIndex parses "#N".
func buttonIndex(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "#")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func renderReplies(w io.Writer, replies []flow.Reply) {
	for _, r := range replies {
		fmt.Fprintln(w, r.Text)
		if len(r.Choices) == 0 {
			continue
		}
		labels := make([]string, len(r.Choices))
		for i, c := range r.Choices {
			labels[i] = fmt.Sprintf("[#%d %s]", i+1, c.Label)
		}
		fmt.Fprintln(w, strings.Join(labels, " "))
	}
}
