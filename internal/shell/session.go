package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int32

const (
	// StateNotStarted covers both a fresh session and one whose Start failed.
	StateNotStarted State = iota
	// StateRunning means the child shell is alive and accepts input.
	StateRunning
	// StateTerminated means the child has exited, requested or not.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

const (
	DefaultProgram      = "/bin/bash"
	DefaultStartTimeout = time.Second
	DefaultStopTimeout  = time.Second

	defaultEventBuffer = 64
	readChunk          = 32 * 1024
	readerGrace        = 200 * time.Millisecond
)

// Config describes how a session spawns its shell.
type Config struct {
	Program      string
	Args         []string
	Dir          string
	Env          []string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.Program == "" {
		c.Program = DefaultProgram
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

// Event is delivered on Session.Events.
type Event interface{ isEvent() }

// OutputEvent carries one raw chunk of merged stdout/stderr.
type OutputEvent struct {
	Data []byte
}

// ExitEvent is the last event of a session that reached Running.
type ExitEvent struct {
	Status    ExitStatus
	Requested bool
}

func (OutputEvent) isEvent() {}
func (ExitEvent) isEvent()   {}

// Err returns an *ExitError for unrequested exits and nil otherwise.
func (e ExitEvent) Err() error {
	if e.Requested {
		return nil
	}
	return &ExitError{Status: e.Status}
}

// Option configures a Session.
type Option func(*Session)

// WithSpawner replaces the default PipeSpawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Session) {
		if sp != nil {
			s.spawner = sp
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// Session owns one child shell. Output chunks and the final exit are delivered
// on Events in arrival order; the channel is closed after the exit event, or
// right away when Start fails.
//
// Session is safe for concurrent use, but the protocol state built on top of
// it (Driver, consoles) is meant to be owned by one goroutine.
type Session struct {
	id      string
	cfg     Config
	spawner Spawner
	logger  *slog.Logger
	bufSize int

	state     atomic.Int32
	requested atomic.Bool

	mu       sync.Mutex
	started  bool
	proc     Proc
	exit     ExitStatus
	hasExit  bool
	startErr error

	events   chan Event
	exited   chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	stopOnce sync.Once
}

// NewSession builds a session in StateNotStarted.
func NewSession(cfg Config, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		spawner: PipeSpawner{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		bufSize: defaultEventBuffer,
		exited:  make(chan struct{}),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan Event, s.bufSize)
	s.logger = s.logger.With("session", s.id)
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) State() State         { return State(s.state.Load()) }
func (s *Session) Events() <-chan Event { return s.events }

// Exited is closed once the child has exited.
func (s *Session) Exited() <-chan struct{} { return s.exited }

// ExitStatus returns the recorded exit status, if the child has exited.
func (s *Session) ExitStatus() (ExitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit, s.hasExit
}

// StartErr returns the error that made Start fail, if any.
func (s *Session) StartErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

// Pid returns the child pid or -1.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return -1
	}
	return s.proc.Pid()
}

// Start spawns the shell and waits at most StartTimeout for it. On failure the
// session stays in StateNotStarted, every Write fails with ErrNotRunning and
// the returned error is a *StartupError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	type result struct {
		proc Proc
		err  error
	}
	done := make(chan result, 1)
	spec := Spec{Program: s.cfg.Program, Args: s.cfg.Args, Dir: s.cfg.Dir, Env: s.cfg.Env}
	go func() {
		p, err := s.spawner.Spawn(ctx, spec)
		done <- result{proc: p, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return s.failStart(r.err)
		}
		s.run(r.proc)
		return nil
	case <-ctx.Done():
		go func() {
			// A spawn that completes after the deadline must not leak a child.
			if r := <-done; r.proc != nil {
				_ = r.proc.Kill()
				_ = r.proc.Wait()
				_ = r.proc.Close()
			}
		}()
		return s.failStart(ctx.Err())
	}
}

func (s *Session) failStart(err error) error {
	serr := &StartupError{Program: s.cfg.Program, Timeout: s.cfg.StartTimeout, Err: err}
	s.mu.Lock()
	s.startErr = serr
	s.mu.Unlock()
	s.logger.Error("shell start failed", "program", s.cfg.Program, "err", err)
	close(s.events)
	return serr
}

func (s *Session) run(proc Proc) {
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.state.Store(int32(StateRunning))
	s.logger.Info("shell started", "program", s.cfg.Program, "pid", proc.Pid())

	readerDone := make(chan struct{})
	go s.readLoop(proc.Output(), readerDone)
	go s.waitLoop(proc, readerDone)
}

func (s *Session) readLoop(r io.Reader, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.emit(OutputEvent{Data: append([]byte(nil), buf[:n]...)})
		}
		if err != nil {
			// EOF on pipes, EIO on a pty whose slave side closed.
			return
		}
	}
}

func (s *Session) waitLoop(proc Proc, readerDone <-chan struct{}) {
	st := proc.Wait()

	// Output written just before exit is still in the pipe; give the reader a
	// bounded window to drain it before closing our end.
	select {
	case <-readerDone:
	case <-time.After(readerGrace):
		_ = proc.Close()
		<-readerDone
	}
	_ = proc.Close()

	s.mu.Lock()
	s.exit = st
	s.hasExit = true
	s.mu.Unlock()
	s.state.Store(int32(StateTerminated))
	close(s.exited)

	requested := s.requested.Load()
	if requested {
		s.logger.Info("shell terminated", "status", st.String())
	} else {
		s.logger.Warn("shell exited unexpectedly", "status", st.String())
	}
	s.emit(ExitEvent{Status: st, Requested: requested})
	close(s.events)
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// Write sends text verbatim to the shell's stdin.
func (s *Session) Write(text string) error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if _, err := io.WriteString(proc.Input(), text); err != nil {
		return fmt.Errorf("write to shell: %w", err)
	}
	return nil
}

// Terminate kills a running shell and waits at most StopTimeout for it to
// exit. Events not yet consumed may be dropped once Terminate is called. It is
// safe to call more than once and on sessions that never started.
func (s *Session) Terminate() error {
	s.quitOnce.Do(func() { close(s.quit) })
	if s.State() != StateRunning {
		return nil
	}
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	var err error
	s.stopOnce.Do(func() {
		s.requested.Store(true)
		if kerr := proc.Kill(); kerr != nil {
			s.logger.Warn("kill shell", "err", kerr)
		}
		select {
		case <-s.exited:
		case <-time.After(s.cfg.StopTimeout):
			err = ErrStopTimeout
		}
	})
	return err
}
