package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/timeline"
)

// Key identifies an editing key delivered to Interactive.HandleKey.
type Key int

const (
	KeyRune Key = iota
	KeySubmit
	KeyPrev
	KeyNext
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyBackspace
	KeyDelete
	KeyPageUp
	KeyPageDown
	KeyCopy
)

// KeyEvent is one key press. Text carries the typed or pasted characters for
// KeyRune.
type KeyEvent struct {
	Key  Key
	Text string
}

// Interactive is the human-facing console: a transcript whose tail is an
// editable command line, with history navigation.
type Interactive struct {
	transcript

	sh       Shell
	driver   *shell.Driver
	history  *History
	logger   *slog.Logger
	records  *timeline.Queue
	page     int

	submittedAt time.Time
}

// NewInteractive builds a console around sh. The session is started by Open.
func NewInteractive(sh Shell, surface Surface, opts ...Option) *Interactive {
	o := buildOptions(DefaultMarker, shell.InteractiveSentinel, opts)
	return &Interactive{
		transcript: transcript{surface: surface, marker: o.marker, boundary: surface.Len()},
		sh:         sh,
		driver:     shell.NewDriver(sh, o.sentinel, o.logger),
		history:    NewHistory(o.history),
		logger:     o.logger,
		records:    newRecordQueue(o),
		page:       o.pageLines,
	}
}

// Open starts the session and issues the bootstrap round. Failures are
// rendered in the transcript and returned.
func (c *Interactive) Open(ctx context.Context) error {
	if err := c.sh.Start(ctx); err != nil {
		c.errorLine(fmt.Sprintf("failed to start shell: %v", err))
		c.prompt(c.driver.Dir())
		return err
	}
	if err := c.driver.Bootstrap(); err != nil {
		c.errorLine(fmt.Sprintf("shell bootstrap failed: %v", err))
		c.prompt(c.driver.Dir())
		return err
	}
	return nil
}

// Close terminates the session and flushes queued timeline records.
func (c *Interactive) Close() error {
	err := c.sh.Terminate()
	flushRecords(c.logger, c.records)
	return err
}

// Line returns the editable command line.
func (c *Interactive) Line() string { return c.line() }

func (c *Interactive) Dir() string        { return c.driver.Dir() }
func (c *Interactive) Busy() bool         { return c.driver.Busy() }
func (c *Interactive) History() *History  { return c.history }
func (c *Interactive) Surface() Surface   { return c.surface }
func (c *Interactive) State() shell.State { return c.sh.State() }

func (c *Interactive) inEditable() bool {
	return c.surface.Cursor() >= c.boundary
}

// HandleKey applies a key press and reports whether the transcript or the
// view changed. Edits outside the editable region are rejected.
func (c *Interactive) HandleKey(k KeyEvent) bool {
	cur := c.surface.Cursor()
	switch k.Key {
	case KeyPageUp:
		c.surface.Scroll(-c.page)
		return true
	case KeyPageDown:
		c.surface.Scroll(c.page)
		return true
	case KeyCopy:
		return false
	case KeyHome:
		if c.inEditable() {
			c.surface.SetCursor(c.boundary)
		} else {
			c.surface.SetCursor(0)
		}
		return true
	case KeyEnd:
		c.surface.SetCursor(c.surface.Len())
		return true
	case KeyPrev:
		if !c.inEditable() {
			c.surface.Scroll(-1)
			return true
		}
		entry, ok := c.history.Prev()
		if !ok {
			return false
		}
		c.replaceLine(entry)
		return true
	case KeyNext:
		if !c.inEditable() {
			c.surface.Scroll(1)
			return true
		}
		c.replaceLine(c.history.Next())
		return true
	case KeyLeft:
		if cur <= c.boundary {
			return false
		}
		_, size := utf8.DecodeLastRuneInString(c.surface.Slice(c.boundary, cur))
		c.surface.SetCursor(cur - size)
		return true
	case KeyRight:
		if cur < c.boundary || cur >= c.surface.Len() {
			return false
		}
		_, size := utf8.DecodeRuneInString(c.surface.Slice(cur, c.surface.Len()))
		c.surface.SetCursor(cur + size)
		return true
	case KeyBackspace:
		if cur <= c.boundary {
			return false
		}
		_, size := utf8.DecodeLastRuneInString(c.surface.Slice(c.boundary, cur))
		c.surface.Delete(cur-size, cur)
		return true
	case KeyDelete:
		if cur < c.boundary || cur >= c.surface.Len() {
			return false
		}
		_, size := utf8.DecodeRuneInString(c.surface.Slice(cur, c.surface.Len()))
		c.surface.Delete(cur, cur+size)
		return true
	case KeyRune:
		if !c.inEditable() || k.Text == "" {
			return false
		}
		text := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(k.Text)
		c.surface.Insert(cur, text)
		return true
	case KeySubmit:
		if !c.inEditable() {
			c.surface.SetCursor(c.surface.Len())
			return true
		}
		c.submit()
		return true
	}
	return false
}

func (c *Interactive) replaceLine(text string) {
	c.surface.Delete(c.boundary, c.surface.Len())
	c.surface.Append(text, StylePlain)
	c.surface.SetCursor(c.surface.Len())
}

func (c *Interactive) submit() {
	cmd := strings.TrimSpace(c.line())
	c.commit(StylePlain)
	if cmd == "" {
		c.prompt(c.driver.Dir())
		return
	}
	c.history.Add(cmd)

	if c.sh.State() != shell.StateRunning {
		c.errorLine(shell.ErrNotRunning.Error())
		c.prompt(c.driver.Dir())
		return
	}
	if err := c.driver.Submit(cmd); err != nil {
		if errors.Is(err, shell.ErrCommandPending) {
			// The in-flight command renders the next prompt.
			c.errorLine("shell is busy; command discarded")
			return
		}
		c.logger.Warn("submit command", "cmd", cmd, "err", err)
		c.errorLine(err.Error())
		c.prompt(c.driver.Dir())
		return
	}
	c.submittedAt = time.Now()
}

// HandleEvent applies one session event.
func (c *Interactive) HandleEvent(ev shell.Event) {
	switch e := ev.(type) {
	case shell.OutputEvent:
		for _, res := range c.driver.Feed(e.Data) {
			c.resolve(res)
		}
	case shell.ExitEvent:
		if e.Requested {
			return
		}
		if _, partial, _ := c.driver.Abort(); partial != "" {
			c.output(partial)
		}
		c.errorLine(exitMessage(e.Status))
	}
}

func (c *Interactive) resolve(res shell.Resolution) {
	if res.Stray {
		c.stray(res)
		return
	}
	c.output(res.Output)
	c.prompt(res.Dir)
	record(c.logger, c.records, c.sh.ID(), timeline.ConsoleInteractive, res, c.submittedAt)
}
