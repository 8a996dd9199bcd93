package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/aura/internal/agent"
	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/llm"
)

type agentFlags struct {
	remote    remoteOptions
	useRemote bool
	followUps int
	stream    bool
}

// executorFunc adapts a function to agent.Executor.
type executorFunc func(ctx context.Context, cmd string) (console.Completion, error)

func (f executorFunc) Exec(ctx context.Context, cmd string) (console.Completion, error) {
	return f(ctx, cmd)
}

func newAgentCmd(root *rootOptions) *cobra.Command {
	opts := &agentFlags{}
	cmd := &cobra.Command{
		Use:   "agent [question...]",
		Short: "Chat with the assistant; it may run commands on an automated console",
		Long: "Configure the model with AURA_LLM_PROVIDER (deepseek|openai_compat|gemini), AURA_LLM_API_KEY,\n" +
			"AURA_LLM_MODEL and AURA_LLM_BASE_URL. DEEPSEEK_API_KEY or GEMINI_API_KEY also work.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := llm.FromEnv()
			if opts.stream {
				cfg.Stream = true
			}
			model, err := llm.NewClient(cfg)
			if errors.Is(err, llm.ErrDisabled) {
				return fmt.Errorf("%w: set AURA_LLM_API_KEY, DEEPSEEK_API_KEY or GEMINI_API_KEY", err)
			}
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := root.logger.With("component", "agent")

			var exec agent.Executor
			if opts.useRemote || strings.TrimSpace(opts.remote.server) != "" {
				client, conn, err := opts.remote.dial(root)
				if err != nil {
					return err
				}
				defer conn.Close()
				exec = executorFunc(client.Execute)
			} else {
				rec, closeRec := root.recorder(ctx, logger)
				defer closeRec()
				runner, stop, err := root.startRunner(ctx, logger, rec)
				if err != nil {
					return err
				}
				defer stop()
				exec = runner
			}

			bridge := agent.New(model, exec,
				agent.WithLogger(logger),
				agent.WithSystemPrompt(cfg.SystemPrompt),
				agent.WithMaxHistory(cfg.MaxHistory),
				agent.WithFollowUps(opts.followUps),
			)
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return ask(ctx, bridge, strings.Join(args, " "), cfg.Stream, out)
			}
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return chatLoop(ctx, bridge, cmd.InOrStdin(), out, cmd.ErrOrStderr(), interactive, cfg.Stream)
		},
	}
	cmd.Flags().BoolVar(&opts.useRemote, "remote", false, "run commands on the console served by aura serve")
	cmd.Flags().StringVar(&opts.remote.server, "server", "", "automation endpoint for --remote")
	cmd.Flags().IntVar(&opts.followUps, "follow-ups", 0, "let the model react to command output this many times per question")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print replies as they arrive (also AURA_LLM_STREAM=1)")
	return cmd
}

func chatLoop(ctx context.Context, bridge *agent.Bridge, in io.Reader, out, errOut io.Writer, interactive, stream bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(errOut, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := ask(ctx, bridge, line, stream, out); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
}

// ask prints the model's replies and the output of any command it ran.
func ask(ctx context.Context, bridge *agent.Bridge, question string, stream bool, out io.Writer) error {
	var onDelta func(string)
	if stream {
		onDelta = func(d string) { fmt.Fprint(out, d) }
	}
	steps, err := bridge.Ask(ctx, question, onDelta)
	for _, st := range steps {
		if stream {
			fmt.Fprintln(out)
		} else if st.Command == "" {
			fmt.Fprintln(out, st.Reply)
		}
		if st.Command == "" {
			continue
		}
		fmt.Fprintf(out, "%s%s\n", console.DefaultAutomatedMarker, st.Command)
		if st.Output != "" {
			fmt.Fprintln(out, st.Output)
		}
		if st.ExecErr != nil {
			fmt.Fprintf(out, "(command failed: %v)\n", st.ExecErr)
		}
	}
	return err
}
