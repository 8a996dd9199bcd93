package shell

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStartup marks failures to bring the child shell to a running state.
	ErrStartup = errors.New("shell startup failed")
	// ErrNotRunning is returned when a write is attempted while the session is not Running.
	ErrNotRunning = errors.New("shell is not running")
	// ErrCommandPending is returned when a command is submitted while another one is in flight.
	ErrCommandPending = errors.New("a command is already in flight")
	// ErrUnexpectedExit marks a shell exit that was not requested through Terminate.
	ErrUnexpectedExit = errors.New("shell exited unexpectedly")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("shell session already started")
	// ErrStopTimeout is returned by Terminate when the shell does not exit in time.
	ErrStopTimeout = errors.New("shell did not exit within stop timeout")
)

// StartupError describes why Start failed. It matches ErrStartup with errors.Is.
type StartupError struct {
	Program string
	Timeout time.Duration
	Err     error
}

func (e *StartupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("start %s: %s", e.Program, ErrStartup)
	}
	return fmt.Sprintf("start %s: %v", e.Program, e.Err)
}

func (e *StartupError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStartup}
	}
	return []error{ErrStartup, e.Err}
}

// ExitError reports an unrequested shell exit. It matches ErrUnexpectedExit.
type ExitError struct {
	Status ExitStatus
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrUnexpectedExit, e.Status)
}

func (e *ExitError) Unwrap() error { return ErrUnexpectedExit }
