package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Spec describes the child shell to spawn.
type Spec struct {
	Program string
	Args    []string
	Dir     string
	// Env entries are appended to the parent environment.
	Env []string
}

// Proc is a spawned child whose stdout and stderr share one stream.
type Proc interface {
	Output() io.Reader
	Input() io.Writer
	Pid() int
	Kill() error
	// Wait blocks until the child exits. It must be called exactly once.
	Wait() ExitStatus
	Close() error
}

// Spawner starts child processes. The context bounds the spawn only, not the
// lifetime of the child.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Proc, error)
}

// ExitStatus is the recorded outcome of a child process.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   string
	// Err is set when waiting failed for a reason other than a non-zero exit.
	Err error
}

func (s ExitStatus) String() string {
	switch {
	case s.Signaled:
		return fmt.Sprintf("signal %s", s.Signal)
	case s.Err != nil:
		return fmt.Sprintf("wait error: %v", s.Err)
	default:
		return fmt.Sprintf("code %d", s.Code)
	}
}

func exitStatusFrom(ps *os.ProcessState, err error) ExitStatus {
	st := ExitStatus{Code: -1}
	if ps != nil {
		st.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signaled = true
			st.Signal = ws.Signal().String()
		}
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		st.Err = err
	}
	return st
}

// PipeSpawner runs the shell with plain pipes. Stdout and stderr are attached
// to the same pipe so their interleaving is preserved.
type PipeSpawner struct{}

func (PipeSpawner) Spawn(ctx context.Context, spec Spec) (Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := buildCmd(spec)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end; EOF arrives once it and
	// its descendants are gone.
	_ = w.Close()
	return &execProc{cmd: cmd, in: stdin, out: r}, nil
}

func buildCmd(spec Spec) *exec.Cmd {
	cmd := exec.Command(spec.Program, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	return cmd
}

type execProc struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *os.File

	closeOnce sync.Once
}

func (p *execProc) Output() io.Reader { return p.out }
func (p *execProc) Input() io.Writer  { return p.in }

func (p *execProc) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Kill signals the whole process group so pipelines started by the shell do
// not keep the output pipe open.
func (p *execProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
	}
	return nil
}

func (p *execProc) Wait() ExitStatus {
	err := p.cmd.Wait()
	return exitStatusFrom(p.cmd.ProcessState, err)
}

func (p *execProc) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.in.Close()
		err = p.out.Close()
	})
	return err
}
