package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/aura/internal/timeline"
)

func newTimelineCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect recorded commands",
	}
	cmd.AddCommand(newTimelineListCmd(root))
	cmd.AddCommand(newTimelineReplayCmd(root))
	return cmd
}

func newTimelineListCmd(root *rootOptions) *cobra.Command {
	var (
		consoleName string
		limit       int
		showOutput  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commands from the local timeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := timeline.NewStore(root.config.TimelineDir())
			recs, err := store.List(consoleName, limit)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, showOutput)
		},
	}
	cmd.Flags().StringVar(&consoleName, "console", timeline.ConsoleInteractive, "console to list: interactive|automated")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many of the newest records (0 for all)")
	cmd.Flags().BoolVar(&showOutput, "output", false, "print each command's output")
	return cmd
}

func newTimelineReplayCmd(root *rootOptions) *cobra.Command {
	var (
		natsURL    string
		showOutput bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay every command mirrored to NATS JetStream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := root.natsOptions()
			if strings.TrimSpace(natsURL) != "" {
				opts.URL = natsURL
			}
			if strings.TrimSpace(opts.URL) == "" {
				return fmt.Errorf("nats url is required (--nats-url or nats.url in config)")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			mirror, err := timeline.NewMirror(ctx, opts, root.logger)
			if err != nil {
				return err
			}
			defer mirror.Close()

			var recs []timeline.Record
			if err := mirror.Replay(ctx, func(r timeline.Record) error {
				recs = append(recs, r)
				return nil
			}); err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, showOutput)
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server (default nats.url from config)")
	cmd.Flags().BoolVar(&showOutput, "output", false, "print each command's output")
	return cmd
}

func printRecords(w io.Writer, recs []timeline.Record, showOutput bool) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no records")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCONSOLE\tDURATION\tDIR\tCOMMAND")
	for _, r := range recs {
		started := "<unknown>"
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", started, r.Console, r.Duration().Round(time.Millisecond), r.Dir, r.Command)
		if showOutput && r.Output != "" {
			for _, line := range strings.Split(r.Output, "\n") {
				fmt.Fprintf(tw, "\t\t\t\t  %s\n", line)
			}
		}
	}
	return tw.Flush()
}
