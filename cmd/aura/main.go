package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/aura/internal/cli/config"
	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/timeline"
)

type rootOptions struct {
	configPath  string
	profileName string
	logLevel    string
	logFormat   string

	config  *cliconfig.Config
	profile *cliconfig.Profile
	logger  *slog.Logger
}

func (r *rootOptions) prepare(w io.Writer) error {
	cfg, err := cliconfig.Load(r.configPath)
	if err != nil {
		return err
	}
	p, name, err := cfg.Resolve(r.profileName)
	if err != nil {
		return err
	}
	r.config = cfg
	r.profile = p
	r.profileName = name
	r.logger = newLogger(w, r.logLevel, r.logFormat)
	return nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "aura",
		Short:         "Embedded shell consoles for humans and agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("AURA_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to aura config file (default $HOME/.aura/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.profileName, "profile", "", "shell profile within the config (overrides currentProfile)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// term draws on the alt screen and opens its own log sink.
		if cmd.Name() == "term" {
			return opts.prepare(io.Discard)
		}
		return opts.prepare(os.Stderr)
	}

	rootCmd.AddCommand(newTermCmd(opts))
	rootCmd.AddCommand(newExecCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newRemoteCmd(opts))
	rootCmd.AddCommand(newAgentCmd(opts))
	rootCmd.AddCommand(newTimelineCmd(opts))
	rootCmd.AddCommand(newDoctorCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// newLogger builds the process logger. Unknown levels fall back to info and
// unknown formats to text, each with a warning.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	badLevel := false
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
		badLevel = true
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	badFormat := false
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
		badFormat = true
	}
	logger := slog.New(handler)
	if badLevel {
		logger.Warn("unknown log level, using info", "level", level)
	}
	if badFormat {
		logger.Warn("unknown log format, using text", "format", format)
	}
	return logger
}

// newSession builds a shell session from the resolved profile.
func (r *rootOptions) newSession(logger *slog.Logger) (*shell.Session, error) {
	cfg, err := r.profile.ShellConfig()
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", r.profileName, err)
	}
	return shell.NewSession(cfg,
		shell.WithSpawner(r.profile.Spawner()),
		shell.WithLogger(logger.With("profile", r.profileName)),
	), nil
}

// consoleOptions returns the console options shared by every command.
func (r *rootOptions) consoleOptions(logger *slog.Logger, recorder timeline.Sink, marker string) []console.Option {
	opts := []console.Option{console.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, console.WithRecorder(recorder))
	}
	if strings.TrimSpace(marker) != "" {
		opts = append(opts, console.WithPromptMarker(marker))
	}
	return opts
}

// recorder opens the local timeline store and, when NATS is configured, a
// JetStream mirror. The returned closer releases the mirror.
func (r *rootOptions) recorder(ctx context.Context, logger *slog.Logger) (timeline.Sink, func()) {
	store := timeline.NewStore(r.config.TimelineDir())
	sinks := timeline.Fanout{store}
	closer := func() {}
	if r.config != nil && strings.TrimSpace(r.config.NATS.URL) != "" {
		mirror, err := timeline.NewMirror(ctx, r.natsOptions(), logger)
		if err != nil {
			logger.Warn("nats mirror disabled", "err", err)
		} else {
			sinks = append(sinks, mirror)
			closer = mirror.Close
		}
	}
	return sinks, closer
}

func (r *rootOptions) natsOptions() timeline.NATSOptions {
	if r.config == nil {
		return timeline.NATSOptions{}
	}
	n := r.config.NATS
	return timeline.NATSOptions{
		URL:           n.URL,
		User:          n.User,
		Password:      n.Password,
		SubjectPrefix: n.SubjectPrefix,
	}
}

// startRunner runs an automated console in the background. The returned stop
// function cancels it and waits for the shell to be terminated.
func (r *rootOptions) startRunner(ctx context.Context, logger *slog.Logger, recorder timeline.Sink, ropts ...console.RunnerOption) (*console.Runner, func(), error) {
	sess, err := r.newSession(logger)
	if err != nil {
		return nil, nil, err
	}
	opts := r.consoleOptions(logger, recorder, r.profile.AutomatedPrompt)
	runner := console.NewRunner(sess, console.NewBuffer(r.profile.Scrollback()), opts, ropts...)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(runCtx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	return runner, stop, nil
}
