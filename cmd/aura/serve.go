package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/aura/internal/automation"
	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/tracing"
)

const (
	defaultListenAddr = "127.0.0.1:50061"
	shutdownTimeout   = 5 * time.Second
)

var version = "dev"

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		listen    string
		traceFile string
		trace     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose an automated console over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := strings.TrimSpace(listen)
			if addr == "" && root.config != nil {
				addr = strings.TrimSpace(root.config.Automation.Listen)
			}
			if addr == "" {
				addr = defaultListenAddr
			}
			if trace || traceFile != "" {
				if err := tracing.Init("aura", version, traceFile); err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = tracing.Shutdown(ctx)
				}()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := root.logger.With("console", "automated")

			rec, closeRec := root.recorder(ctx, logger)
			defer closeRec()

			exited := make(chan struct{}, 1)
			observer := console.WithObserver(func(n console.Notification) {
				if n.Kind == console.Exited {
					select {
					case exited <- struct{}{}:
					default:
					}
				}
			})
			runner, stopRunner, err := root.startRunner(ctx, logger, rec, observer)
			if err != nil {
				return err
			}
			defer stopRunner()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := automation.NewServer(automation.New(runner, root.logger), root.logger)
			go func() {
				select {
				case <-exited:
					logger.Warn("shell exited; reporting NOT_SERVING")
					srv.SetServing(false)
				case <-ctx.Done():
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				root.logger.Info("automation server listening", "addr", lis.Addr().String(), "profile", root.profileName)
				errCh <- srv.GRPC.Serve(lis)
			}()

			select {
			case <-ctx.Done():
				root.logger.Info("shutting down")
				srv.Stop(shutdownTimeout)
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "gRPC listen address (default config automation.listen or "+defaultListenAddr+")")
	cmd.Flags().BoolVar(&trace, "trace", false, "export spans to stderr")
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "export spans to this file instead of stderr")
	return cmd
}
