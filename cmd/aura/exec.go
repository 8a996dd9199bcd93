package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/timeline"
)

type execFlags struct {
	timeout  time.Duration
	noRecord bool
}

func newExecCmd(root *rootOptions) *cobra.Command {
	opts := &execFlags{}
	cmd := &cobra.Command{
		Use:   "exec [command...]",
		Short: "Run commands on an automated console and print their output",
		Long: "Runs the given command, or one command per line of stdin, on an automated console.\n" +
			"Commands share one shell, so cd and exported variables carry over.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := root.logger.With("console", "automated")
			var rec timeline.Sink
			if !opts.noRecord {
				sink, closeRec := root.recorder(ctx, logger)
				defer closeRec()
				rec = sink
			}
			runner, stop, err := root.startRunner(ctx, logger, rec)
			if err != nil {
				return err
			}
			defer stop()

			if len(args) > 0 {
				return runOne(ctx, runner, strings.Join(args, " "), opts.timeout, cmd.OutOrStdout())
			}
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runLines(ctx, runner, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), interactive, opts.timeout)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up waiting for a command after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.noRecord, "no-record", false, "do not record commands to the timeline")
	return cmd
}

// runLines executes one command per input line. On a terminal a prompt is
// written to errOut before each line is read.
func runLines(ctx context.Context, runner *console.Runner, in io.Reader, out, errOut io.Writer, interactive bool, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if interactive {
		select {
		case <-runner.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		if interactive {
			dir := "~"
			if st, err := runner.Status(ctx); err == nil {
				dir = st.Dir
			}
			fmt.Fprintf(errOut, "%s%s", dir, console.DefaultAutomatedMarker)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runOne(ctx, runner, line, timeout, out); err != nil {
			if !interactive {
				return err
			}
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
}

func runOne(ctx context.Context, runner *console.Runner, command string, timeout time.Duration, out io.Writer) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := runner.Exec(ctx, command)
	if res.Output != "" {
		fmt.Fprintln(out, res.Output)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
