// Package agent connects a chat model to the automated console. The model
// asks for a command by replying with DirectivePrefix followed by the
// command line; everything else is an ordinary answer.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/llm"
	"github.com/antonkrylov/aura/internal/tracing"
)

const (
	DirectivePrefix = "EXECUTE_TERMINAL_IA:"

	SystemPrompt = "You are Aura, an AI assistant. If you need to run a command in the Linux terminal " +
		"to get information or perform an action, reply ONLY with the prefix '" + DirectivePrefix +
		"' followed by the command. Example: '" + DirectivePrefix + " ls -l'. For other replies, answer normally."

	// MaxFeedbackOutput bounds the command output echoed back to the model.
	MaxFeedbackOutput = 500

	terminalUnavailable = "I tried to run a command, but my terminal is not available."
)

// Executor runs one command on the automated console. *console.Runner
// implements it.
type Executor interface {
	Exec(ctx context.Context, cmd string) (console.Completion, error)
}

// Step is one model reply and, for directives, what the console made of it.
type Step struct {
	Reply    string
	Command  string
	Output   string
	Feedback string
	// ExecErr is set when the command could not run to completion.
	ExecErr error
}

// Directive reports whether reply asks for a command and returns it.
func Directive(reply string) (string, bool) {
	text := strings.TrimSpace(reply)
	if !strings.HasPrefix(text, DirectivePrefix) {
		return "", false
	}
	cmd := strings.TrimSpace(strings.TrimPrefix(text, DirectivePrefix))
	return cmd, cmd != ""
}

// Feedback renders a command result for the model, truncating long output.
func Feedback(cmd, output string) string {
	if r := []rune(output); len(r) > MaxFeedbackOutput {
		output = string(r[:MaxFeedbackOutput]) + "\n... (output truncated)"
	}
	return fmt.Sprintf("Command '%s' executed in my terminal. Output:\n%s", cmd, output)
}

// Bridge holds one conversation. It is not safe for concurrent use.
type Bridge struct {
	model      llm.Client
	exec       Executor
	logger     *slog.Logger
	system     string
	maxHistory int
	followUps  int

	history []llm.Message
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSystemPrompt replaces SystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(b *Bridge) {
		if strings.TrimSpace(p) != "" {
			b.system = p
		}
	}
}

// WithMaxHistory bounds the non-system messages sent to the model.
func WithMaxHistory(n int) Option {
	return func(b *Bridge) { b.maxHistory = n }
}

// WithFollowUps feeds command results back to the model, letting it react
// up to n times per Ask. With zero the feedback is only returned.
func WithFollowUps(n int) Option {
	return func(b *Bridge) {
		if n >= 0 {
			b.followUps = n
		}
	}
}

// New creates a bridge. exec may be nil, in which case directives are
// answered with a note that the terminal is unavailable.
func New(model llm.Client, exec Executor, opts ...Option) *Bridge {
	b := &Bridge{
		model:  model,
		exec:   exec,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		system: SystemPrompt,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// History returns the conversation without the system message.
func (b *Bridge) History() []llm.Message {
	return append([]llm.Message(nil), b.history...)
}

// Ask sends prompt to the model and carries out any command it asks for.
// When the model call fails the prompt is dropped from the history and the
// failure is recorded as the assistant's turn.
func (b *Bridge) Ask(ctx context.Context, prompt string, onDelta func(string)) ([]Step, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil
	}
	ctx, span := tracing.StartSpan(ctx, "agent.Ask", tracing.KindInternal)
	steps, err := b.ask(ctx, prompt, onDelta)
	tracing.EndSpan(span, err)
	return steps, err
}

func (b *Bridge) ask(ctx context.Context, prompt string, onDelta func(string)) ([]Step, error) {
	var steps []Step
	b.append(llm.Message{Role: llm.RoleUser, Content: prompt})
	for round := 0; ; round++ {
		res, err := b.model.Generate(ctx, llm.Request{Messages: b.messages(), OnTextDelta: onDelta})
		if err != nil {
			if n := len(b.history); n > 0 && b.history[n-1].Role == llm.RoleUser {
				b.history = b.history[:n-1]
			}
			b.append(llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("(error getting reply: %v)", err)})
			return steps, fmt.Errorf("model reply: %w", err)
		}

		cmd, ok := Directive(res.Text)
		if !ok {
			b.append(llm.Message{Role: llm.RoleAssistant, Content: res.Text})
			return append(steps, Step{Reply: res.Text}), nil
		}
		if b.exec == nil {
			b.append(llm.Message{Role: llm.RoleAssistant, Content: terminalUnavailable})
			return append(steps, Step{Reply: res.Text, Command: cmd, ExecErr: fmt.Errorf("no terminal attached")}), nil
		}

		step := b.run(ctx, res.Text, cmd)
		steps = append(steps, step)
		if round >= b.followUps {
			return steps, nil
		}
		b.append(llm.Message{Role: llm.RoleAssistant, Content: res.Text})
		b.append(llm.Message{Role: llm.RoleUser, Content: step.Feedback})
	}
}

func (b *Bridge) run(ctx context.Context, reply, cmd string) Step {
	b.logger.Info("agent command", "cmd", cmd)
	res, err := b.exec.Exec(ctx, cmd)
	output := res.Output
	if err != nil {
		b.logger.Warn("agent command failed", "cmd", cmd, "err", err)
		if output == "" {
			output = err.Error()
		}
	}
	return Step{
		Reply:    reply,
		Command:  cmd,
		Output:   res.Output,
		Feedback: Feedback(cmd, output),
		ExecErr:  err,
	}
}

func (b *Bridge) append(m llm.Message) {
	b.history = append(b.history, m)
	if b.maxHistory > 0 && len(b.history) > b.maxHistory {
		b.history = append([]llm.Message(nil), b.history[len(b.history)-b.maxHistory:]...)
	}
}

func (b *Bridge) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(b.history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: b.system})
	return append(msgs, b.history...)
}
