package shell

import (
	"errors"
	"io"
	"log/slog"
	"strings"
)

// ErrEmptyCommand is returned by Submit for blank commands.
var ErrEmptyCommand = errors.New("empty command")

// InitialDir is the tracked directory before the bootstrap round resolves.
const InitialDir = "~"

// Writer is the input side of a shell session.
type Writer interface {
	Write(text string) error
}

// Resolution is a completed exchange as seen by a console.
type Resolution struct {
	// Command is empty for the bootstrap round.
	Command   string
	Output    string
	Dir       string
	Bootstrap bool
	// Stray marks a round that ended while nothing was in flight, such as a
	// sentinel the shell echoed on its own. It completes no command and does
	// not move Dir.
	Stray bool
}

// Driver runs the half-duplex command protocol over a session: at most one
// command (or the bootstrap round) is in flight, and the next is accepted only
// after the sentinel for the current one has been read.
//
// Driver is owned by a single goroutine.
type Driver struct {
	w        Writer
	sentinel string
	demux    *Demux
	logger   *slog.Logger

	dir       string
	busy      bool
	bootstrap bool
	pending   string
}

func NewDriver(w Writer, sentinel string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		w:        w,
		sentinel: sentinel,
		demux:    NewDemux(sentinel),
		logger:   logger,
		dir:      InitialDir,
	}
}

func (d *Driver) Sentinel() string { return d.sentinel }

// Dir is the last known working directory.
func (d *Driver) Dir() string { return d.dir }

// Busy reports whether a command or the bootstrap round is in flight.
func (d *Driver) Busy() bool { return d.busy }

// Bootstrapping reports whether the bootstrap round is in flight.
func (d *Driver) Bootstrapping() bool { return d.busy && d.bootstrap }

// Pending returns the command in flight, if any.
func (d *Driver) Pending() (string, bool) {
	if !d.busy || d.bootstrap {
		return "", false
	}
	return d.pending, true
}

// Bootstrap issues the synthetic round that learns the initial directory.
func (d *Driver) Bootstrap() error {
	if d.busy {
		return ErrCommandPending
	}
	d.demux.ExpectBootstrap()
	if err := d.w.Write(BootstrapFrame(d.sentinel)); err != nil {
		d.demux.Reset()
		return err
	}
	d.busy = true
	d.bootstrap = true
	d.pending = ""
	return nil
}

// Submit frames cmd and writes it to the shell.
func (d *Driver) Submit(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ErrEmptyCommand
	}
	if d.busy {
		return ErrCommandPending
	}
	if err := d.w.Write(Frame(cmd, d.sentinel)); err != nil {
		return err
	}
	d.busy = true
	d.bootstrap = false
	d.pending = cmd
	d.logger.Debug("command submitted", "cmd", cmd)
	return nil
}

// Feed hands a raw output chunk to the demultiplexer and returns the
// exchanges it completes.
func (d *Driver) Feed(chunk []byte) []Resolution {
	rounds := d.demux.Feed(chunk)
	if len(rounds) == 0 {
		return nil
	}
	out := make([]Resolution, 0, len(rounds))
	for _, r := range rounds {
		if !d.busy {
			d.logger.Warn("sentinel without a command in flight", "output", r.Output)
			out = append(out, Resolution{Output: r.Output, Dir: d.dir, Stray: true})
			continue
		}
		if r.DirKnown {
			d.dir = r.Dir
		}
		if r.SingleLineDir {
			d.logger.Debug("single-line round read as directory", "cmd", d.pending, "dir", r.Dir)
		}
		res := Resolution{
			Command:   d.pending,
			Output:    r.Output,
			Dir:       d.dir,
			Bootstrap: r.Bootstrap,
		}
		d.busy = false
		d.bootstrap = false
		d.pending = ""
		out = append(out, res)
	}
	return out
}

// Abort clears the in-flight exchange after the shell went away and returns
// the interrupted command with whatever output had been buffered for it.
func (d *Driver) Abort() (cmd string, partial string, ok bool) {
	if !d.busy {
		return "", "", false
	}
	cmd, partial, ok = d.pending, d.demux.Pending(), !d.bootstrap
	d.demux.Reset()
	d.busy = false
	d.bootstrap = false
	d.pending = ""
	return cmd, partial, ok
}
