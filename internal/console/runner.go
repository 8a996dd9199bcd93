package console

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/antonkrylov/aura/internal/shell"
)

// ErrRunnerClosed is returned by Runner calls after Run has returned.
var ErrRunnerClosed = errors.New("console runner closed")

// Completion is the result of one command run through a Runner.
type Completion struct {
	Command string
	Output  string
	Dir     string
}

// Status is a snapshot of a Runner's console.
type Status struct {
	SessionID string
	State     shell.State
	Dir       string
	Pending   string
	Busy      bool
}

type execResult struct {
	completion Completion
	err        error
}

type execRequest struct {
	cmd   string
	reply chan execResult
}

// Runner owns an Automated console on a single goroutine and exposes it to
// concurrent callers. It never queues: a command submitted while another is
// in flight fails with shell.ErrCommandPending.
type Runner struct {
	console *Automated
	sh      Shell
	logger  *slog.Logger

	reqs     chan execRequest
	statuses chan chan Status
	observe  func(Notification)

	readyOnce  sync.Once
	firstReady chan struct{}
	done       chan struct{}

	// owned by the Run goroutine
	waiting *execRequest
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver receives every notification on the Run goroutine.
func WithObserver(fn func(Notification)) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

func NewRunner(sh Shell, surface Surface, opts []Option, ropts ...RunnerOption) *Runner {
	o := buildOptions(DefaultAutomatedMarker, shell.AutomatedSentinel, opts)
	r := &Runner{
		console:    NewAutomated(sh, surface, opts...),
		sh:         sh,
		logger:     o.logger,
		reqs:       make(chan execRequest),
		statuses:   make(chan chan Status),
		firstReady: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range ropts {
		opt(r)
	}
	return r
}

// Run opens the console and serves requests until ctx is cancelled, then
// terminates the shell. A shell that fails to start leaves the runner serving
// in degraded mode, where every command completes with shell.ErrNotRunning.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	if err := r.console.Open(ctx); err != nil {
		r.logger.Error("open automated console", "err", err)
	}
	r.drain()

	events := r.sh.Events()
	for {
		select {
		case <-ctx.Done():
			if err := r.console.Close(); err != nil {
				r.logger.Warn("terminate shell", "err", err)
			}
			if r.waiting != nil {
				r.waiting.reply <- execResult{err: ErrRunnerClosed}
				r.waiting = nil
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.console.HandleEvent(ev)
			r.drain()
		case req := <-r.reqs:
			r.handle(req)
		case reply := <-r.statuses:
			pending, _ := r.console.Pending()
			reply <- Status{
				SessionID: r.console.SessionID(),
				State:     r.console.State(),
				Dir:       r.console.Dir(),
				Pending:   pending,
				Busy:      r.console.Busy(),
			}
		}
	}
}

func (r *Runner) handle(req execRequest) {
	if r.waiting != nil {
		req.reply <- execResult{err: shell.ErrCommandPending}
		return
	}
	r.waiting = &req
	if err := r.console.Execute(req.cmd); errors.Is(err, shell.ErrCommandPending) {
		r.waiting = nil
		req.reply <- execResult{err: err}
		return
	}
	r.drain()
}

func (r *Runner) drain() {
	for {
		select {
		case n := <-r.console.Notifications():
			r.onNotification(n)
		default:
			return
		}
	}
}

func (r *Runner) onNotification(n Notification) {
	if r.observe != nil {
		r.observe(n)
	}
	switch n.Kind {
	case ReadyForNext:
		r.readyOnce.Do(func() { close(r.firstReady) })
	case CommandCompleted:
		if r.waiting == nil {
			r.logger.Warn("completion without a waiting caller", "cmd", n.Command)
			return
		}
		r.waiting.reply <- execResult{
			completion: Completion{Command: n.Command, Output: n.Output, Dir: n.Dir},
			err:        n.Err,
		}
		r.waiting = nil
	case Exited:
		if n.Err != nil {
			r.logger.Warn("automated shell exited", "err", n.Err)
		}
	}
}

// Ready is closed once the console first accepts commands.
func (r *Runner) Ready() <-chan struct{} { return r.firstReady }

// Exec runs cmd and waits for its completion. It waits for the bootstrap
// round first. Cancelling ctx abandons the wait; the command keeps its slot
// until the shell answers.
func (r *Runner) Exec(ctx context.Context, cmd string) (Completion, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Completion{}, shell.ErrEmptyCommand
	}
	select {
	case <-r.firstReady:
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case <-r.done:
		return Completion{}, ErrRunnerClosed
	}
	req := execRequest{cmd: cmd, reply: make(chan execResult, 1)}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case <-r.done:
		return Completion{}, ErrRunnerClosed
	}
	select {
	case res := <-req.reply:
		return res.completion, res.err
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case <-r.done:
		return Completion{}, ErrRunnerClosed
	}
}

// Status returns a snapshot of the console.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case r.statuses <- reply:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-r.done:
		return Status{}, ErrRunnerClosed
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}
