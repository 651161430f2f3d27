// Package terminaltest provides a scriptable Controllable for tests.
package terminaltest

import (
	"sync"

	"github.com/dshills/keystep/internal/integration/terminal"
)

// Fake is a Controllable driven by the test. Lines sent to it are
// recorded; events are pushed with Emit and the exit with Exit.
// Terminate behaves like a real process: it leads to an exit event.
type Fake struct {
	mu         sync.Mutex
	sent       []string
	exited     bool
	terminated int

	events chan terminal.Event
	done   chan struct{}
}

// New creates a Fake with a generously buffered event channel.
func New() *Fake {
	return &Fake{
		events: make(chan terminal.Event, 1024),
		done:   make(chan struct{}),
	}
}

// Emit pushes an event. It is ignored after Exit.
func (f *Fake) Emit(kind terminal.EventKind, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited {
		return
	}
	f.events <- terminal.Event{Kind: kind, Text: text}
}

// Output pushes a complete output line.
func (f *Fake) Output(text string) { f.Emit(terminal.EventOutput, text) }

// Error pushes a complete error line.
func (f *Fake) Error(text string) { f.Emit(terminal.EventError, text) }

// Partial pushes a partial line.
func (f *Fake) Partial(text string) { f.Emit(terminal.EventPartial, text) }

// Exit pushes the exit event and closes the stream. Later calls are
// no-ops, like a duplicate OS exit notification.
func (f *Fake) Exit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited {
		return
	}
	f.exited = true
	f.events <- terminal.Event{Kind: terminal.EventExit, Err: err}
	close(f.events)
	close(f.done)
}

// SendLine records line unless the fake has exited.
func (f *Fake) SendLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited {
		return
	}
	f.sent = append(f.sent, line)
}

// Terminate counts the call and exits.
func (f *Fake) Terminate() {
	f.mu.Lock()
	f.terminated++
	f.mu.Unlock()
	f.Exit(nil)
}

// Events implements terminal.Controllable.
func (f *Fake) Events() <-chan terminal.Event { return f.events }

// Done implements terminal.Controllable.
func (f *Fake) Done() <-chan struct{} { return f.done }

// Sent returns a copy of the lines sent so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Terminated returns how many times Terminate was called.
func (f *Fake) Terminated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// Exited reports whether Exit has happened.
func (f *Fake) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

var _ terminal.Controllable = (*Fake)(nil)
