package terminal

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/keystep/internal/integration/lines"
	"github.com/dshills/keystep/internal/integration/process"
)

// pipeProcess is the Controllable over a spawned process's standard I/O.
type pipeProcess struct {
	proc   *process.Process
	opts   options
	events chan Event
	done   chan struct{}

	exited   atomic.Bool
	stdinMu  sync.Mutex
	termOnce sync.Once
}

// FromProcess wraps a started process. Stdout and stderr each run through
// their own line splitter; EventExit is sent once, after the process has
// exited and both streams are drained.
func FromProcess(proc *process.Process, opts ...Option) Controllable {
	p := &pipeProcess{
		proc: proc,
		opts: buildOptions(opts),
		done: make(chan struct{}),
	}
	p.events = make(chan Event, p.opts.bufferSize)

	var g errgroup.Group
	if proc.Stdout != nil {
		g.Go(func() error { return p.pump(proc.Stdout, EventOutput) })
	}
	if proc.Stderr != nil {
		g.Go(func() error { return p.pump(proc.Stderr, EventError) })
	}

	readers := make(chan error, 1)
	go func() { readers <- g.Wait() }()
	go p.watch(readers)

	return p
}

// pump reads one stream until EOF and emits its lines.
func (p *pipeProcess) pump(r io.Reader, kind EventKind) error {
	var splitter lines.Splitter
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			complete, fragment := splitter.Feed(buf[:n])
			for _, line := range complete {
				p.events <- Event{Kind: kind, Text: line}
			}
			p.events <- Event{Kind: EventPartial, Text: fragment}
		}

		if err != nil {
			if rest, ok := splitter.Flush(); ok {
				p.events <- Event{Kind: kind, Text: rest}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// watch waits for the process to exit and for the readers to finish, then
// reports the exit. A grandchild holding the pipes open must not delay the
// exit forever, so the pipes are closed after a short drain period.
func (p *pipeProcess) watch(readers <-chan error) {
	<-p.proc.Done()

	var readErr error
	select {
	case readErr = <-readers:
	case <-time.After(p.opts.drainWait):
		_ = p.proc.Close()
		readErr = <-readers
	}
	if readErr != nil {
		p.opts.logger.Debug("process output read failed", zap.Error(readErr))
	}

	p.exited.Store(true)
	p.events <- Event{Kind: EventExit, Err: p.proc.ExitError()}
	close(p.events)

	_ = p.proc.Close()
	close(p.done)
}

// SendLine writes line to the process's stdin.
func (p *pipeProcess) SendLine(line string) {
	if p.exited.Load() || p.proc.Stdin == nil {
		return
	}

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	if _, err := io.WriteString(p.proc.Stdin, line+"\n"); err != nil {
		p.opts.logger.Debug("stdin write dropped",
			zap.String("process", p.proc.Name),
			zap.Error(err))
	}
}

// Terminate stops the process in the background: SIGTERM, then SIGKILL
// after the kill grace period.
func (p *pipeProcess) Terminate() {
	p.termOnce.Do(func() {
		if p.exited.Load() {
			return
		}
		go p.stop()
	})
}

func (p *pipeProcess) stop() {
	grace := p.opts.killGrace
	if p.opts.supervisor == nil {
		p.proc.Stop(grace)
		return
	}
	// ErrProcessNotFound means the process already exited.
	if err := p.opts.supervisor.Stop(p.proc.ID, grace); err != nil {
		p.opts.logger.Debug("process already gone",
			zap.String("process", p.proc.Name),
			zap.Error(err))
	}
}

func (p *pipeProcess) Events() <-chan Event { return p.events }

func (p *pipeProcess) Done() <-chan struct{} { return p.done }
