package terminal

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/keystep/internal/integration/process"
)

// EventKind identifies what a Controllable reported.
type EventKind int

const (
	// EventOutput is a complete line of standard output.
	EventOutput EventKind = iota
	// EventError is a complete line of standard error.
	EventError
	// EventPartial is the unterminated tail of a stream, re-sent on every
	// chunk so prompts without a trailing newline stay visible.
	EventPartial
	// EventInfo is a line produced by the session layer itself, such as a
	// launch banner or a connection notice.
	EventInfo
	// EventExit is the last event of a Controllable.
	EventExit
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventPartial:
		return "partial"
	case EventInfo:
		return "info"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a single line-level notification from a Controllable.
type Event struct {
	Kind EventKind

	// Text is the line without its terminator. Empty for EventExit.
	Text string

	// Err is the exit cause for EventExit, if the process or connection
	// ended abnormally.
	Err error
}

// Controllable is anything that accepts input lines and emits output
// events: an interpreter process, a socket, or a debug session.
//
// Events are delivered in arrival order per stream. The channel is closed
// right after the single EventExit; the consumer must drain it until then.
type Controllable interface {
	// SendLine writes line followed by a newline. Calls after exit are
	// silently ignored.
	SendLine(line string)

	// Terminate asks the underlying resource to stop. The exit itself is
	// still reported through Events. Terminate is idempotent and safe in
	// any state.
	Terminate()

	// Events returns the event stream.
	Events() <-chan Event

	// Done is closed once EventExit has been queued and the resource has
	// been released.
	Done() <-chan struct{}
}

const (
	defaultBufferSize = 256
	defaultKillGrace  = 2 * time.Second
	defaultDrainWait  = 500 * time.Millisecond
)

type options struct {
	logger     *zap.Logger
	bufferSize int
	killGrace  time.Duration
	drainWait  time.Duration
	supervisor *process.Supervisor
}

// Option configures FromProcess, FromConn and Dial.
type Option func(*options)

// WithLogger sets the logger for swallowed I/O errors.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBufferSize sets the capacity of the event channel.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithKillGrace sets how long Terminate waits after SIGTERM before
// sending SIGKILL to a process.
func WithKillGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.killGrace = d
		}
	}
}

// withSupervisor routes Terminate through the supervisor that started
// the process.
func withSupervisor(s *process.Supervisor) Option {
	return func(o *options) {
		o.supervisor = s
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:     zap.NewNop(),
		bufferSize: defaultBufferSize,
		killGrace:  defaultKillGrace,
		drainWait:  defaultDrainWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
