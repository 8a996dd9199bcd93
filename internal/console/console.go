// Package console renders a shell session as a transcript and drives the
// command protocol on its behalf. Interactive serves a human at a keyboard;
// Automated serves a program that submits one command at a time and waits
// for completion notifications.
//
// Consoles are not safe for concurrent use. One goroutine owns a console and
// forwards it the session's events; Runner does this for Automated.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/aura/internal/shell"
	"github.com/antonkrylov/aura/internal/timeline"
)

// Shell is the session a console drives. *shell.Session implements it.
type Shell interface {
	ID() string
	Start(ctx context.Context) error
	Write(text string) error
	State() shell.State
	Events() <-chan shell.Event
	Terminate() error
}

const (
	// DefaultMarker follows the directory in interactive prompts.
	DefaultMarker = "$ "
	// DefaultAutomatedMarker follows the directory in automated prompts.
	DefaultAutomatedMarker = "# IA $ "

	defaultPageLines   = 10
	defaultHistory     = 1000
	recordTimeout      = 2 * time.Second
	recordQueue        = 256
	notificationBuffer = 256
)

type options struct {
	logger    *slog.Logger
	recorder  timeline.Sink
	marker    string
	sentinel  string
	pageLines int
	history   int
}

// Option configures a console.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sends every completed command to sink. Delivery happens on a
// separate goroutine so a slow sink never holds up the console; records that
// do not fit the queue are dropped with a warning.
func WithRecorder(sink timeline.Sink) Option {
	return func(o *options) { o.recorder = sink }
}

// WithPromptMarker sets the text rendered after the directory in prompts.
func WithPromptMarker(marker string) Option {
	return func(o *options) {
		if marker != "" {
			o.marker = marker
		}
	}
}

// WithSentinel overrides the end-of-command sentinel.
func WithSentinel(sentinel string) Option {
	return func(o *options) {
		if strings.TrimSpace(sentinel) != "" {
			o.sentinel = sentinel
		}
	}
}

// WithPageLines sets how far page keys scroll the transcript.
func WithPageLines(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageLines = n
		}
	}
}

// WithHistoryLimit bounds the interactive command history.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.history = n
		}
	}
}

func buildOptions(marker, sentinel string, opts []Option) options {
	o := options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		marker:    marker,
		sentinel:  sentinel,
		pageLines: defaultPageLines,
		history:   defaultHistory,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// transcript is the rendering state shared by both console variants.
type transcript struct {
	surface  Surface
	marker   string
	boundary int
}

// Boundary is the offset where the editable region starts.
func (t *transcript) Boundary() int { return t.boundary }

// line returns the editable region.
func (t *transcript) line() string {
	return t.surface.Slice(t.boundary, t.surface.Len())
}

func (t *transcript) takeLine() string {
	text := t.line()
	if text != "" {
		t.surface.Delete(t.boundary, t.surface.Len())
	}
	return text
}

// emit appends read-only text, keeping any typed-ahead input after it.
func (t *transcript) emit(text string, style Style) {
	typed := t.takeLine()
	t.surface.Append(text, style)
	t.boundary = t.surface.Len()
	if typed != "" {
		t.surface.Append(typed, StylePlain)
	}
	t.surface.SetCursor(t.surface.Len())
}

func (t *transcript) output(text string) {
	if text == "" {
		return
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	t.emit(text, StylePlain)
}

func (t *transcript) errorLine(msg string) {
	t.emit(msg+"\n", StyleError)
}

func (t *transcript) prompt(dir string) {
	t.emit(dir+t.marker, StylePrompt)
}

// stray renders the output of a round nobody was waiting for and re-prompts.
func (t *transcript) stray(res shell.Resolution) {
	if res.Output == "" {
		return
	}
	t.output(res.Output)
	t.prompt(res.Dir)
}

// commit makes the current line part of the transcript.
func (t *transcript) commit(style Style) {
	t.surface.SetCursor(t.surface.Len())
	if style != StylePlain {
		typed := t.takeLine()
		t.surface.Append(typed, style)
	}
	t.surface.Append("\n", StylePlain)
	t.boundary = t.surface.Len()
	t.surface.SetCursor(t.boundary)
}

func exitMessage(st shell.ExitStatus) string {
	return fmt.Sprintf("shell process exited unexpectedly (%s)", st)
}

// newRecordQueue returns nil when no recorder is configured.
func newRecordQueue(o options) *timeline.Queue {
	if o.recorder == nil {
		return nil
	}
	return timeline.NewQueue(o.recorder, recordQueue, recordTimeout, o.logger)
}

// flushRecords stops the queue and waits for queued records to reach the sink.
func flushRecords(logger *slog.Logger, q *timeline.Queue) {
	if q == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		logger.Warn("flush timeline records", "pending", q.Depth(), "err", err)
	}
}

func record(logger *slog.Logger, q *timeline.Queue, sessionID, console string, res shell.Resolution, started time.Time) {
	if q == nil || res.Bootstrap || res.Stray {
		return
	}
	rec := timeline.Record{
		ID:          uuid.NewString(),
		Session:     sessionID,
		Console:     console,
		Command:     res.Command,
		Output:      res.Output,
		Dir:         res.Dir,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if err := q.Record(context.Background(), rec); err != nil {
		logger.Warn("record command", "cmd", res.Command, "err", err)
	}
}
