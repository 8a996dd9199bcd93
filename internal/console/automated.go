package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/timeline"
)

// NotificationKind tells what an automated console is reporting.
type NotificationKind int

const (
	// CommandCompleted is raised exactly once per accepted command.
	CommandCompleted NotificationKind = iota + 1
	// ReadyForNext is raised when the console accepts a new command.
	ReadyForNext
	// Exited is raised when the shell goes away.
	Exited
)

func (k NotificationKind) String() string {
	switch k {
	case CommandCompleted:
		return "command_completed"
	case ReadyForNext:
		return "ready_for_next"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

// Notification is delivered on Automated.Notifications.
type Notification struct {
	Kind    NotificationKind
	Command string
	Output  string
	Dir     string
	// Err is set on CommandCompleted when the command did not run to its
	// sentinel, and on Exited for unrequested exits.
	Err error
}

// Automated is the program-facing console. It accepts one command at a time
// and reports its completion on a channel.
type Automated struct {
	transcript

	sh       Shell
	driver   *shell.Driver
	logger   *slog.Logger
	records  *timeline.Queue
	notes    chan Notification

	submittedAt time.Time
}

func NewAutomated(sh Shell, surface Surface, opts ...Option) *Automated {
	o := buildOptions(DefaultAutomatedMarker, shell.AutomatedSentinel, opts)
	return &Automated{
		transcript: transcript{surface: surface, marker: o.marker, boundary: surface.Len()},
		sh:         sh,
		driver:     shell.NewDriver(sh, o.sentinel, o.logger),
		logger:     o.logger,
		records:    newRecordQueue(o),
		notes:      make(chan Notification, notificationBuffer),
	}
}

// Notifications delivers CommandCompleted, ReadyForNext and Exited in the
// order they happen. The owner of the console must drain it.
func (c *Automated) Notifications() <-chan Notification { return c.notes }

func (c *Automated) Dir() string        { return c.driver.Dir() }
func (c *Automated) Busy() bool         { return c.driver.Busy() }
func (c *Automated) Surface() Surface   { return c.surface }
func (c *Automated) State() shell.State { return c.sh.State() }
func (c *Automated) SessionID() string  { return c.sh.ID() }

// Pending returns the command in flight, if any.
func (c *Automated) Pending() (string, bool) { return c.driver.Pending() }

func (c *Automated) notify(n Notification) {
	select {
	case c.notes <- n:
	default:
		c.logger.Error("notification dropped", "kind", n.Kind.String(), "cmd", n.Command)
	}
}

// Open starts the session and issues the bootstrap round. ReadyForNext is
// raised once the initial directory is known, or right away if the shell
// could not be started.
func (c *Automated) Open(ctx context.Context) error {
	if err := c.sh.Start(ctx); err != nil {
		c.errorLine(fmt.Sprintf("failed to start shell: %v", err))
		c.prompt(c.driver.Dir())
		c.notify(Notification{Kind: ReadyForNext})
		return err
	}
	if err := c.driver.Bootstrap(); err != nil {
		c.errorLine(fmt.Sprintf("shell bootstrap failed: %v", err))
		c.prompt(c.driver.Dir())
		c.notify(Notification{Kind: ReadyForNext})
		return err
	}
	return nil
}

// Close terminates the session and flushes queued timeline records.
func (c *Automated) Close() error {
	err := c.sh.Terminate()
	flushRecords(c.logger, c.records)
	return err
}

// Execute submits cmd. A blank command only raises ReadyForNext. While a
// command or the bootstrap round is in flight Execute returns
// ErrCommandPending and raises nothing. When the shell is not running the
// command is echoed, completed with an error and ErrNotRunning is returned.
func (c *Automated) Execute(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		c.notify(Notification{Kind: ReadyForNext})
		return nil
	}
	if c.driver.Busy() {
		return shell.ErrCommandPending
	}
	if c.sh.State() != shell.StateRunning {
		c.fail(cmd, shell.ErrNotRunning)
		return shell.ErrNotRunning
	}
	c.echo(cmd)
	if err := c.driver.Submit(cmd); err != nil {
		c.logger.Warn("submit command", "cmd", cmd, "err", err)
		c.completeWithError(cmd, err)
		return err
	}
	c.submittedAt = time.Now()
	return nil
}

func (c *Automated) echo(cmd string) {
	c.emit(cmd+"\n", StyleCommand)
}

func (c *Automated) fail(cmd string, err error) {
	c.echo(cmd)
	c.completeWithError(cmd, err)
}

func (c *Automated) completeWithError(cmd string, err error) {
	c.errorLine(err.Error())
	c.notify(Notification{Kind: CommandCompleted, Command: cmd, Output: err.Error(), Dir: c.driver.Dir(), Err: err})
	c.prompt(c.driver.Dir())
	c.notify(Notification{Kind: ReadyForNext})
}

// HandleEvent applies one session event.
func (c *Automated) HandleEvent(ev shell.Event) {
	switch e := ev.(type) {
	case shell.OutputEvent:
		for _, res := range c.driver.Feed(e.Data) {
			c.resolve(res)
		}
	case shell.ExitEvent:
		c.exited(e)
	}
}

func (c *Automated) resolve(res shell.Resolution) {
	if res.Stray {
		c.stray(res)
		return
	}
	if res.Bootstrap {
		c.prompt(res.Dir)
		c.notify(Notification{Kind: ReadyForNext})
		return
	}
	c.output(res.Output)
	c.notify(Notification{Kind: CommandCompleted, Command: res.Command, Output: res.Output, Dir: res.Dir})
	record(c.logger, c.records, c.sh.ID(), timeline.ConsoleAutomated, res, c.submittedAt)
	c.prompt(res.Dir)
	c.notify(Notification{Kind: ReadyForNext})
}

func (c *Automated) exited(e shell.ExitEvent) {
	cmd, partial, pending := c.driver.Abort()
	if e.Requested {
		c.notify(Notification{Kind: Exited})
		return
	}
	err := e.Err()
	msg := exitMessage(e.Status)
	c.output(partial)
	c.errorLine(msg)
	if pending {
		out := msg
		if partial != "" {
			out = partial + "\n" + msg
		}
		c.notify(Notification{Kind: CommandCompleted, Command: cmd, Output: out, Dir: c.driver.Dir(), Err: err})
	}
	c.notify(Notification{Kind: Exited, Err: err})
	c.prompt(c.driver.Dir())
	c.notify(Notification{Kind: ReadyForNext})
}
