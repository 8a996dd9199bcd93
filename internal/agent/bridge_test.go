package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/aura/internal/agent"
	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/llm"
	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/shell/shelltest"
)

type scriptedModel struct {
	replies []string
	errs    []error
	seen    [][]llm.Message
}

func (m *scriptedModel) Generate(_ context.Context, req llm.Request) (llm.Result, error) {
	m.seen = append(m.seen, append([]llm.Message(nil), req.Messages...))
	i := len(m.seen) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return llm.Result{}, m.errs[i]
	}
	return llm.Result{Text: m.replies[i]}, nil
}

type recordingExec struct {
	cmds   []string
	output string
	err    error
}

func (e *recordingExec) Exec(_ context.Context, cmd string) (console.Completion, error) {
	e.cmds = append(e.cmds, cmd)
	return console.Completion{Command: cmd, Output: e.output, Dir: "/tmp"}, e.err
}

func TestDirective(t *testing.T) {
	cmd, ok := agent.Directive("  EXECUTE_TERMINAL_IA:   ls -l \n")
	assert.True(t, ok)
	assert.Equal(t, "ls -l", cmd)

	_, ok = agent.Directive("Sure! EXECUTE_TERMINAL_IA: ls")
	assert.False(t, ok)
	_, ok = agent.Directive("EXECUTE_TERMINAL_IA:   ")
	assert.False(t, ok)
}

func TestFeedbackTruncates(t *testing.T) {
	short := agent.Feedback("pwd", "/tmp")
	assert.Equal(t, "Command 'pwd' executed in my terminal. Output:\n/tmp", short)

	long := strings.Repeat("é", 600)
	fb := agent.Feedback("cat x", long)
	assert.True(t, strings.HasSuffix(fb, "\n... (output truncated)"))
	body := strings.TrimSuffix(strings.TrimPrefix(fb, "Command 'cat x' executed in my terminal. Output:\n"), "\n... (output truncated)")
	assert.Equal(t, 500, len([]rune(body)))

	exact := strings.Repeat("a", 500)
	assert.False(t, strings.Contains(agent.Feedback("x", exact), "truncated"))
}

func TestAsk_PlainReply(t *testing.T) {
	model := &scriptedModel{replies: []string{"Hello!"}}
	exec := &recordingExec{}
	b := agent.New(model, exec)

	steps, err := b.Ask(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Hello!", steps[0].Reply)
	assert.Empty(t, exec.cmds)

	require.Len(t, model.seen, 1)
	assert.Equal(t, llm.RoleSystem, model.seen[0][0].Role)
	assert.Equal(t, agent.SystemPrompt, model.seen[0][0].Content)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "Hello!"},
	}, b.History())
}

func TestAsk_DirectiveRunsCommand(t *testing.T) {
	model := &scriptedModel{replies: []string{"EXECUTE_TERMINAL_IA: uname -a"}}
	exec := &recordingExec{output: "Linux box"}
	b := agent.New(model, exec)

	steps, err := b.Ask(context.Background(), "which kernel?", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, []string{"uname -a"}, exec.cmds)
	assert.Equal(t, "uname -a", steps[0].Command)
	assert.Equal(t, "Linux box", steps[0].Output)
	assert.Equal(t, "Command 'uname -a' executed in my terminal. Output:\nLinux box", steps[0].Feedback)
	assert.NoError(t, steps[0].ExecErr)
	// Without follow-ups the directive is not recorded as an answer.
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "which kernel?"}}, b.History())
}

func TestAsk_FollowUpFeedsResultBack(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"EXECUTE_TERMINAL_IA: df -h",
		"The disk is 40% full.",
	}}
	exec := &recordingExec{output: "/dev/sda1 40%"}
	b := agent.New(model, exec, agent.WithFollowUps(2))

	steps, err := b.Ask(context.Background(), "disk?", nil)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "df -h", steps[0].Command)
	assert.Equal(t, "The disk is 40% full.", steps[1].Reply)

	second := model.seen[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "Command 'df -h' executed in my terminal. Output:\n/dev/sda1 40%", last.Content)
}

func TestAsk_FollowUpsAreBounded(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"EXECUTE_TERMINAL_IA: a",
		"EXECUTE_TERMINAL_IA: b",
		"EXECUTE_TERMINAL_IA: c",
	}}
	exec := &recordingExec{}
	b := agent.New(model, exec, agent.WithFollowUps(1))

	steps, err := b.Ask(context.Background(), "loop", nil)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Equal(t, []string{"a", "b"}, exec.cmds)
}

func TestAsk_ModelErrorDropsPrompt(t *testing.T) {
	model := &scriptedModel{replies: []string{""}, errs: []error{errors.New("timeout")}}
	b := agent.New(model, &recordingExec{})

	_, err := b.Ask(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	h := b.History()
	require.Len(t, h, 1)
	assert.Equal(t, llm.RoleAssistant, h[0].Role)
	assert.Contains(t, h[0].Content, "timeout")
}

func TestAsk_NoTerminal(t *testing.T) {
	model := &scriptedModel{replies: []string{"EXECUTE_TERMINAL_IA: ls"}}
	b := agent.New(model, nil)

	steps, err := b.Ask(context.Background(), "files?", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Error(t, steps[0].ExecErr)
	h := b.History()
	assert.Equal(t, "I tried to run a command, but my terminal is not available.", h[len(h)-1].Content)
}

func TestAsk_ExecErrorReachesFeedback(t *testing.T) {
	model := &scriptedModel{replies: []string{"EXECUTE_TERMINAL_IA: ls"}}
	exec := &recordingExec{err: shell.ErrNotRunning}
	b := agent.New(model, exec)

	steps, err := b.Ask(context.Background(), "files?", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.ErrorIs(t, steps[0].ExecErr, shell.ErrNotRunning)
	assert.Contains(t, steps[0].Feedback, shell.ErrNotRunning.Error())
}

func TestAsk_HistoryBound(t *testing.T) {
	model := &scriptedModel{replies: []string{"1", "2", "3"}}
	b := agent.New(model, nil, agent.WithMaxHistory(2))
	for _, q := range []string{"a", "b", "c"} {
		_, err := b.Ask(context.Background(), q, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "c"},
		{Role: llm.RoleAssistant, Content: "3"},
	}, b.History())
	assert.Len(t, model.seen[2], 3)
}

func TestAsk_ThroughRunner(t *testing.T) {
	s := shell.NewSession(shell.Config{}, shell.WithSpawner(&shelltest.Spawner{Dir: "/home/user"}))
	r := console.NewRunner(s, console.NewBuffer(0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	model := &scriptedModel{replies: []string{"EXECUTE_TERMINAL_IA: echo from-agent"}}
	b := agent.New(model, r)
	steps, err := b.Ask(ctx, "say something", nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "from-agent", steps[0].Output)
}
