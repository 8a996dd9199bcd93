// Package shelltest provides an in-memory shell for tests of code built on
// shell.Session. The fake understands the framed protocol written by
// shell.Driver and answers like a POSIX shell would.
package shelltest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/antonkrylov/aura/internal/shell"
)

// ReplyFunc answers a command. Returning ok=false falls back to the built-in
// handling of cd, echo, exit and silent commands.
type ReplyFunc func(cmd string) (output string, ok bool)

// Spawner hands out fake shell processes.
type Spawner struct {
	// Dir is the initial working directory of spawned shells.
	Dir string
	// Err makes Spawn fail.
	Err error
	// Block, when set, delays Spawn until it is closed. The context is ignored
	// to simulate a hung spawn.
	Block chan struct{}
	// Hold is copied to every spawned process.
	Hold  bool
	Reply ReplyFunc

	mu    sync.Mutex
	procs []*Proc
}

func (s *Spawner) Spawn(ctx context.Context, spec shell.Spec) (shell.Proc, error) {
	if s.Block != nil {
		<-s.Block
	}
	if s.Err != nil {
		return nil, s.Err
	}
	dir := s.Dir
	if dir == "" {
		dir = "/home/user"
	}
	p := NewProc(dir, s.Reply)
	p.Hold = s.Hold
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

// Last returns the most recently spawned process.
func (s *Spawner) Last() *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// Proc is a fake shell process.
type Proc struct {
	reply ReplyFunc

	outR *io.PipeReader
	outW *io.PipeWriter

	mu     sync.Mutex
	dir    string
	writes []string
	killed bool
	closed bool

	// Hold suppresses automatic replies so tests can drive output by hand.
	Hold bool

	once   sync.Once
	done   chan struct{}
	status shell.ExitStatus
}

func NewProc(dir string, reply ReplyFunc) *Proc {
	r, w := io.Pipe()
	return &Proc{reply: reply, outR: r, outW: w, dir: dir, done: make(chan struct{})}
}

func (p *Proc) Output() io.Reader { return p.outR }
func (p *Proc) Input() io.Writer  { return inputWriter{p} }
func (p *Proc) Pid() int          { return 4242 }

func (p *Proc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish(shell.ExitStatus{Code: -1, Signaled: true, Signal: "killed"})
	return nil
}

func (p *Proc) Wait() shell.ExitStatus {
	<-p.done
	return p.status
}

func (p *Proc) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.outR.Close()
}

// Exit ends the process with code, as if the shell exited on its own.
func (p *Proc) Exit(code int) { p.finish(shell.ExitStatus{Code: code}) }

func (p *Proc) finish(st shell.ExitStatus) {
	p.once.Do(func() {
		p.status = st
		_ = p.outW.Close()
		close(p.done)
	})
}

// Emit writes raw bytes to the output stream. It blocks until they are read.
func (p *Proc) Emit(s string) error {
	_, err := p.outW.Write([]byte(s))
	return err
}

// Writes returns everything written to stdin so far, one entry per write.
func (p *Proc) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *Proc) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *Proc) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

type inputWriter struct{ p *Proc }

func (w inputWriter) Write(b []byte) (int, error) {
	select {
	case <-w.p.done:
		return 0, io.ErrClosedPipe
	default:
	}
	text := string(b)
	w.p.mu.Lock()
	w.p.writes = append(w.p.writes, text)
	hold := w.p.Hold
	w.p.mu.Unlock()
	if !hold {
		go w.p.respond(text)
	}
	return len(b), nil
}

// respond interprets "<cmd>; pwd; echo '<sentinel>'\n" and the bootstrap
// form "pwd; echo '<sentinel>'\n".
func (p *Proc) respond(line string) {
	cmd, sentinel, ok := parseFrame(strings.TrimRight(line, "\n"))
	if !ok {
		return
	}
	var out strings.Builder
	if cmd != "" {
		text, exit, code := p.run(cmd)
		if exit {
			p.Exit(code)
			return
		}
		if text != "" {
			out.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				out.WriteByte('\n')
			}
		}
	}
	out.WriteString(p.Dir())
	out.WriteByte('\n')
	out.WriteString(sentinel)
	out.WriteByte('\n')
	_ = p.Emit(out.String())
}

func (p *Proc) run(cmd string) (output string, exit bool, code int) {
	if p.reply != nil {
		if text, ok := p.reply(cmd); ok {
			return text, false, 0
		}
	}
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "cd":
		dir := "/home/user"
		if len(fields) > 1 {
			dir = fields[1]
		}
		p.mu.Lock()
		p.dir = dir
		p.mu.Unlock()
		return "", false, 0
	case "echo":
		return strings.Join(fields[1:], " "), false, 0
	case "exit":
		if len(fields) > 1 {
			n, _ := strconv.Atoi(fields[1])
			return "", true, n
		}
		return "", true, 0
	case "fail":
		return fmt.Sprintf("sh: %s: not found", strings.Join(fields[1:], " ")), false, 0
	default:
		return "", false, 0
	}
}

func parseFrame(line string) (cmd, sentinel string, ok bool) {
	const echo = "echo '"
	i := strings.LastIndex(line, echo)
	if i < 0 || !strings.HasSuffix(line, "'") {
		return "", "", false
	}
	sentinel = line[i+len(echo) : len(line)-1]
	head := strings.TrimSpace(line[:i])
	head = strings.TrimSuffix(head, ";")
	head = strings.TrimSpace(strings.TrimSuffix(head, "pwd"))
	head = strings.TrimSpace(strings.TrimSuffix(head, ";"))
	return head, sentinel, true
}
