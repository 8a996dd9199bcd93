package shell

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// PTYSpawner runs the shell on a pseudo terminal. The terminal is put into raw
// mode before the shell starts so framed commands are not echoed back into the
// output stream. PS1 and PS2 are cleared for the same reason.
type PTYSpawner struct {
	Cols uint16
	Rows uint16
}

func (s PTYSpawner) Spawn(ctx context.Context, spec Spec) (Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec.Env = append(append([]string(nil), spec.Env...), "PS1=", "PS2=", "TERM=dumb")
	ws := &pty.Winsize{Cols: 120, Rows: 30}
	if s.Cols > 0 {
		ws.Cols = s.Cols
	}
	if s.Rows > 0 {
		ws.Rows = s.Rows
	}

	cmd := buildCmd(spec)
	f, err := startPTY(cmd, ws)
	if err != nil {
		return nil, err
	}
	return &ptyProc{cmd: cmd, f: f}, nil
}

// ptyProcAttr makes the child a session leader whose controlling terminal is
// its own stdin. Ctty is a descriptor number in the child, not the parent.
func ptyProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0}
}

// startPTY starts cmd with the terminal side of a new pty on all three
// standard streams and returns the controlling side.
func startPTY(cmd *exec.Cmd, ws *pty.Winsize) (*os.File, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	// The child holds its own copies once started.
	defer tty.Close()

	if err := pty.Setsize(ptmx, ws); err != nil {
		ptmx.Close()
		return nil, err
	}
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		ptmx.Close()
		return nil, err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
	cmd.SysProcAttr = ptyProcAttr()
	if err := cmd.Start(); err != nil {
		ptmx.Close()
		return nil, err
	}
	return ptmx, nil
}

type ptyProc struct {
	cmd *exec.Cmd
	f   *os.File

	closeOnce sync.Once
}

func (p *ptyProc) Output() io.Reader { return p.f }
func (p *ptyProc) Input() io.Writer  { return p.f }

func (p *ptyProc) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *ptyProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// Setsid makes the shell a session and group leader.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
	}
	return nil
}

func (p *ptyProc) Wait() ExitStatus {
	err := p.cmd.Wait()
	return exitStatusFrom(p.cmd.ProcessState, err)
}

func (p *ptyProc) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.f.Close() })
	return err
}
