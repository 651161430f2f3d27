package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a spawned interpreter or debugger child process.
//
// The Supervisor wires Stdout and Stderr to pipes the process owns, so
// reading them never races with exit handling: they reach EOF once the
// child closes its end, and Wait does not close them underneath a reader.
// Process is safe for concurrent use.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process ("shell", "run #3", ...).
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdin provides write access to the process's stdin.
	// May be nil if stdin was not piped.
	Stdin io.WriteCloser

	// Stdout provides read access to the process's stdout.
	// May be nil if stdout was not piped.
	Stdout io.ReadCloser

	// Stderr provides read access to the process's stderr.
	// May be nil if stderr was not piped.
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	waitOnce  sync.Once
	closeOnce sync.Once

	// onExit runs after the exit is recorded and before Done closes.
	onExit func(p *Process)
}

// NewProcess creates a new Process wrapping the given command.
//
// The command should not be started before calling NewProcess.
// Use Supervisor.Start to start the process with proper tracking.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has exited (normally or killed).
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends a signal to the process.
// Returns an error if the process is not running.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}

	err := p.Cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Stop terminates the process and waits for it to exit. If it is still
// running after grace, it is killed. Stop on an exited or never started
// process returns immediately.
func (p *Process) Stop(grace time.Duration) {
	if p.State() == StateCreated || p.HasExited() {
		return
	}

	_ = p.Terminate()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-timer.C:
	}

	_ = p.Kill()
	<-p.done
}

// start starts the process and begins tracking its exit.
// This is called by the Supervisor.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()

	return nil
}

// waitLoop waits for the process to exit and records how it ended.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		if p.onExit != nil {
			p.onExit(p)
		}
		close(p.done)
	})
}

// Close closes all I/O handles associated with the process. It does not
// kill the process. Calling Close more than once is a no-op.
func (p *Process) Close() error {
	var errs []error

	p.closeOnce.Do(func() {
		for _, c := range []struct {
			name string
			c    io.Closer
		}{
			{"stdin", p.Stdin},
			{"stdout", p.Stdout},
			{"stderr", p.Stderr},
		} {
			if c.c == nil {
				continue
			}
			if err := c.c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
	})

	return errors.Join(errs...)
}

// Sentinel errors for process package.
var (
	// ErrProcessNotStarted is returned when operations require a running process.
	ErrProcessNotStarted = errors.New("process not running")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = errors.New("process already started")
)
