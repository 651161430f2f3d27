package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Supervisor starts interpreter processes and tracks them until they exit.
//
// The Supervisor provides:
//   - Process start with piped standard I/O
//   - An optional limit on concurrently live processes
//   - Stop with a grace period before SIGKILL
//   - Shutdown of everything still running
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	// maxProcesses limits the number of concurrent processes (0 = unlimited)
	maxProcesses int

	onProcessExit func(p *Process)
	logger        *zap.Logger
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// A value of 0 (default) means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start starts a new managed process.
//
// Unless already configured, stdin is piped and stdout/stderr are wired to
// OS pipes owned by the returned Process. The process is tracked until it
// exits: it no longer counts against the limit once Done is closed.
//
// Returns ErrSupervisorShutdown if the supervisor is shutting down.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}

	id := uuid.New().String()
	proc := NewProcess(id, name, cmd)
	proc.onExit = func(p *Process) { s.forget(p.ID) }

	// Parent-side handles are closed on failure; child-side write ends are
	// closed after start so readers see EOF when the child exits.
	var parentEnds, childEnds []io.Closer
	closeAll := func(cs []io.Closer) {
		for _, c := range cs {
			_ = c.Close()
		}
	}

	if cmd.Stdin == nil {
		stdinPipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		proc.Stdin = stdinPipe
		parentEnds = append(parentEnds, stdinPipe)
	}

	if cmd.Stdout == nil {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		cmd.Stdout = w
		proc.Stdout = r
		parentEnds = append(parentEnds, r)
		childEnds = append(childEnds, w)
	}

	if cmd.Stderr == nil {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}
		cmd.Stderr = w
		proc.Stderr = r
		parentEnds = append(parentEnds, r)
		childEnds = append(childEnds, w)
	}

	err := proc.start()
	closeAll(childEnds)
	if err != nil {
		closeAll(parentEnds)
		return nil, err
	}

	s.processes[id] = proc
	s.logger.Debug("process started",
		zap.String("id", id),
		zap.String("name", name),
		zap.Int("pid", proc.PID()))

	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess reports a process's exit. The process is already
// untracked when Done closes.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	s.logger.Debug("process exited",
		zap.String("id", proc.ID),
		zap.String("name", proc.Name),
		zap.Int("code", proc.ExitCode()),
		zap.Stringer("state", proc.State()))

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("process exit callback panicked", zap.Any("panic", r))
				}
			}()
			s.onProcessExit(proc)
		}()
	}
}

func (s *Supervisor) forget(id string) {
	s.mu.Lock()
	delete(s.processes, id)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil if it is not tracked.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Stop terminates a process by ID, waits up to grace before killing it,
// and stops tracking it. Returns ErrProcessNotFound if the process is not
// tracked; stopping an already exited process is not an error.
func (s *Supervisor) Stop(id string, grace time.Duration) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}

	proc.Stop(grace)
	s.forget(id)
	return nil
}

// Shutdown stops all processes and refuses new ones.
//
// It first sends SIGTERM to all processes and waits up to timeout for
// them to exit. Any processes still running after the timeout are killed.
// Shutdown blocks until every process has exited.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.Stop(timeout)
			s.forget(p.ID)
		}(p)
	}
	wg.Wait()
}

// Sentinel errors.
var (
	// ErrProcessNotFound is returned when a process ID is not found.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when starting would exceed the process limit.
	ErrProcessLimit = errors.New("process limit reached")
)
