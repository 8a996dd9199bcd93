package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/antonkrylov/aura/internal/automation"
)

type remoteOptions struct {
	server  string
	timeout time.Duration
}

// addr resolves the endpoint from the flag, then the config file, then
// AURA_SERVER, then the default.
func (r *remoteOptions) addr(root *rootOptions) string {
	if s := strings.TrimSpace(r.server); s != "" {
		return s
	}
	if root.config != nil {
		if s := strings.TrimSpace(root.config.Automation.Server); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(os.Getenv("AURA_SERVER")); s != "" {
		return s
	}
	return defaultListenAddr
}

func (r *remoteOptions) dial(root *rootOptions) (*automation.Client, *grpc.ClientConn, error) {
	conn, err := automation.Dial(r.addr(root))
	if err != nil {
		return nil, nil, err
	}
	return automation.NewClient(conn), conn, nil
}

func (r *remoteOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func newRemoteCmd(root *rootOptions) *cobra.Command {
	opts := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to an automated console served by aura serve",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "automation endpoint (default config automation.server or "+defaultListenAddr+")")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "call timeout (0 waits forever)")
	cmd.AddCommand(newRemoteExecCmd(root, opts))
	cmd.AddCommand(newRemoteStatusCmd(root, opts))
	return cmd
}

func newRemoteExecCmd(root *rootOptions, opts *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec command...",
		Short: "Run one command on the remote console",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := opts.dial(root)
			if err != nil {
				return err
			}
			defer conn.Close()
			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := client.Execute(ctx, strings.Join(args, " "))
			if res.Output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			}
			return err
		},
	}
}

func newRemoteStatusCmd(root *rootOptions, opts *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the remote console state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, conn, err := opts.dial(root)
			if err != nil {
				return err
			}
			defer conn.Close()
			ctx, cancel := opts.context(cmd)
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session=%s\n", st.Session)
			fmt.Fprintf(out, "state=%s\n", st.State)
			fmt.Fprintf(out, "dir=%s\n", st.Dir)
			fmt.Fprintf(out, "busy=%t\n", st.Busy)
			if st.Pending != "" {
				fmt.Fprintf(out, "pending=%s\n", st.Pending)
			}
			return nil
		},
	}
}
