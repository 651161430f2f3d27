package debug

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/dshills/keystep/internal/integration/observe"
	"github.com/dshills/keystep/internal/integration/terminal"
)

// SessionState represents the current state of a debug session.
type SessionState int

const (
	// StateIdle is the state before Start.
	StateIdle SessionState = iota
	// StateBootstrapping waits for the launcher's port announcement.
	StateBootstrapping
	// StateConnecting dials the announced port until it accepts.
	StateConnecting
	// StateHandshaking is the moment between connect and clientinit.
	StateHandshaking
	// StateActive exchanges control messages with the launcher.
	StateActive
	// StateFinishing has closed the control socket and forwards the
	// program's remaining output until the launcher exits.
	StateFinishing
	// StateStopped is terminal.
	StateStopped
)

// String returns a string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Catalog keys used by the session.
const (
	KeyConnecting        = "connecting"
	KeyStartedViaPort    = "program-started-via-port"
	KeyDebugInstructions = "debug-instructions"
	KeyStepNotPossible   = "step-not-possible"
	KeyBootstrapFailed   = "bootstrap-failed"
	KeyDebuggerExited    = "debugger-exited"
)

const (
	// DefaultHost is the address the launcher listens on.
	DefaultHost = "127.0.0.1"

	// DefaultRetryInterval is the delay between connection attempts.
	DefaultRetryInterval = 500 * time.Millisecond

	// DefaultExitGrace bounds how long a finished session waits for the
	// launcher to exit on its own.
	DefaultExitGrace = 2 * time.Second
)

// Messages resolves localized strings by key.
type Messages interface {
	Get(key string) string
}

// Spawner starts a process and wraps it as a Controllable.
// terminal.Launcher.Spawn satisfies it.
type Spawner func(name, command string, args ...string) (terminal.Controllable, error)

// Dialer opens the control connection.
type Dialer func(ctx context.Context, host string, port int) (terminal.Controllable, error)

// Config describes what a Session runs.
type Config struct {
	// Command is the interpreter, such as "python3".
	Command string

	// Script is the path of the launcher script.
	Script string

	// Program is the path of the program to step through.
	Program string

	// Host is the control address. Defaults to DefaultHost.
	Host string

	// RetryInterval is the fixed delay between connection attempts.
	// Defaults to DefaultRetryInterval.
	RetryInterval time.Duration

	// ExitGrace is how long the launcher may keep running after the
	// program finished before it is terminated. Defaults to
	// DefaultExitGrace.
	ExitGrace time.Duration
}

// SessionHandlers contains callbacks for session events. They run on the
// session's dispatcher goroutine and must not block on Done.
type SessionHandlers struct {
	// OnStateChanged is called when the session state changes.
	OnStateChanged func(old, new SessionState)

	// OnNotification is called with a short localized message when the
	// session fails or stepping is blocked.
	OnNotification func(text string)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHandlers sets the session callbacks.
func WithHandlers(h SessionHandlers) Option {
	return func(s *Session) {
		s.handlers = h
	}
}

// WithMessages sets the catalog for user-facing lines. Without one, keys
// are shown as is.
func WithMessages(m Messages) Option {
	return func(s *Session) {
		s.messages = m
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dial = d
		}
	}
}

type commandKind int

const (
	cmdNext commandKind = iota
	cmdInput
)

type command struct {
	kind commandKind
	text string
}

type dialResult struct {
	conn terminal.Controllable
	err  error
}

// Session is a step-debugging session over the JSON control protocol.
// It implements terminal.Controllable.
//
// All protocol handling happens on one dispatcher goroutine started by
// Start. Stop is idempotent and safe in every state, including before
// Start.
type Session struct {
	id       string
	cfg      Config
	spawn    Spawner
	dial     Dialer
	messages Messages
	logger   *zap.Logger
	handlers SessionHandlers

	line *observe.Value[int]

	events chan terminal.Event
	done   chan struct{}
	cmds   chan command
	stopCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	stateMu sync.RWMutex
	state   SessionState

	dialers    sync.WaitGroup
	finishOnce sync.Once
}

// NewSession creates an idle session that will spawn through spawn.
func NewSession(cfg Config, spawn Spawner, opts ...Option) *Session {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = DefaultExitGrace
	}

	s := &Session{
		id:     uuid.New().String(),
		cfg:    cfg,
		spawn:  spawn,
		logger: zap.NewNop(),
		line:   observe.NewValue(0),
		events: make(chan terminal.Event, 256),
		done:   make(chan struct{}),
		cmds:   make(chan command),
		stopCh: make(chan struct{}),
	}
	s.dial = func(ctx context.Context, host string, port int) (terminal.Controllable, error) {
		return terminal.Dial(ctx, host, port, terminal.WithLogger(s.logger))
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))

	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	old := s.state
	s.state = state
	s.stateMu.Unlock()

	if old == state {
		return
	}
	s.logger.Debug("session state changed",
		zap.Stringer("from", old),
		zap.Stringer("to", state))
	if s.handlers.OnStateChanged != nil {
		s.handlers.OnStateChanged(old, state)
	}
}

// BreakpointLine is the line the program is halted before, 0 if none.
func (s *Session) BreakpointLine() *observe.Value[int] {
	return s.line
}

// Start spawns the launcher and begins the session. The session stops
// when ctx is canceled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrSessionStarted
	}

	name := "step " + filepath.Base(s.cfg.Program)
	proc, err := s.spawn(name, s.cfg.Command,
		"-u", s.cfg.Script, "--file", s.cfg.Program, "--host", s.cfg.Host)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start debugger: %w", err)
	}
	s.started = true
	s.mu.Unlock()

	s.setState(StateBootstrapping)
	go s.run(ctx, proc)

	return nil
}

// Next resumes the program until it halts on the next line. It does
// nothing unless the session is active.
func (s *Session) Next() {
	s.submit(command{kind: cmdNext})
}

// SendLine forwards line to the program's standard input.
func (s *Session) SendLine(line string) {
	s.submit(command{kind: cmdInput, text: line})
}

// Stop ends the session. The exit event follows once the launcher and the
// connection are released.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if !started {
		s.finish(nil)
	}
}

// Terminate implements terminal.Controllable.
func (s *Session) Terminate() {
	s.Stop()
}

// Events implements terminal.Controllable.
func (s *Session) Events() <-chan terminal.Event {
	return s.events
}

// Done implements terminal.Controllable.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) submit(c command) {
	s.mu.Lock()
	live := s.started && !s.stopped
	s.mu.Unlock()
	if !live {
		return
	}

	select {
	case s.cmds <- c:
	case <-s.stopCh:
	case <-s.done:
	}
}

func (s *Session) text(key string) string {
	if s.messages == nil {
		return key
	}
	return s.messages.Get(key)
}

func (s *Session) emit(ev terminal.Event) {
	s.events <- ev
}

func (s *Session) info(text string) {
	s.emit(terminal.Event{Kind: terminal.EventInfo, Text: text})
}

func (s *Session) notify(text string) {
	if s.handlers.OnNotification != nil {
		s.handlers.OnNotification(text)
	}
}

// finish resets the breakpoint and emits the exit event, once.
func (s *Session) finish(exitErr error) {
	s.finishOnce.Do(func() {
		s.setState(StateStopped)
		s.line.Set(0)
		s.events <- terminal.Event{Kind: terminal.EventExit, Err: exitErr}
		close(s.events)
		close(s.done)
	})
}

// dispatcher is the state owned by the run goroutine. conn is set only
// from Handshaking on and port only from Connecting on. forward is set
// once the program finished, so the launcher's last output still reaches
// the consumer.
type dispatcher struct {
	s       *Session
	proc    terminal.Controllable
	conn    terminal.Controllable
	port    int
	exitErr error
	forward bool
}

func (s *Session) run(parent context.Context, proc terminal.Controllable) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	d := &dispatcher{s: s, proc: proc}
	dialed := make(chan dialResult)
	var graceTimer *time.Timer

	defer func() {
		cancel()
		if graceTimer != nil {
			graceTimer.Stop()
		}
		s.dialers.Wait()
		d.release()
		s.finish(d.exitErr)
	}()

	procEvents := proc.Events()
	var connEvents <-chan terminal.Event
	var grace <-chan time.Time

	for {
		select {
		case <-s.stopCh:
			d.forward = false
			return

		case <-ctx.Done():
			d.forward = false
			return

		case <-grace:
			s.logger.Debug("debugger still running after finish, terminating",
				zap.Duration("grace", s.cfg.ExitGrace))
			return

		case ev, ok := <-procEvents:
			if !ok {
				return
			}
			if d.onProcess(ctx, ev, dialed) {
				return
			}

		case ev, ok := <-connEvents:
			if !ok {
				return
			}
			if d.onConn(ev) {
				d.closeControl()
				connEvents = nil
				graceTimer = time.NewTimer(s.cfg.ExitGrace)
				grace = graceTimer.C
			}

		case res := <-dialed:
			d.onDialed(res)
			if d.conn != nil {
				connEvents = d.conn.Events()
			}

		case cmd := <-s.cmds:
			select {
			case <-s.stopCh:
				d.forward = false
				return
			default:
			}
			d.onCommand(cmd)
		}
	}
}

func (d *dispatcher) onProcess(ctx context.Context, ev terminal.Event, dialed chan<- dialResult) (stop bool) {
	s := d.s

	switch ev.Kind {
	case terminal.EventOutput:
		if s.State() != StateBootstrapping {
			s.emit(ev)
			return false
		}

		port, err := ParseBootstrap(ev.Text)
		if err != nil {
			s.logger.Warn("debugger bootstrap failed", zap.Error(err))
			s.notify(s.text(KeyBootstrapFailed))
			return true
		}

		d.port = port
		s.setState(StateConnecting)
		s.dialers.Add(1)
		go s.connect(ctx, port, dialed)

	case terminal.EventError:
		s.emit(ev)

	case terminal.EventPartial:
		if s.State() != StateBootstrapping {
			s.emit(ev)
		}

	case terminal.EventExit:
		d.exitErr = ev.Err
		if state := s.State(); state != StateActive && state != StateFinishing {
			s.logger.Warn("debugger exited before the session was active",
				zap.Stringer("state", s.State()),
				zap.Error(ev.Err))
			s.notify(s.text(KeyDebuggerExited))
		}
		return true
	}

	return false
}

// onConn handles control traffic. It reports done when the program
// finished or the socket closed.
func (d *dispatcher) onConn(ev terminal.Event) (done bool) {
	switch ev.Kind {
	case terminal.EventOutput:
		return d.onControl(ev.Text)
	case terminal.EventExit:
		d.s.logger.Debug("control connection closed", zap.Error(ev.Err))
		return true
	}
	return false
}

func (d *dispatcher) onControl(line string) (done bool) {
	s := d.s

	msg, err := ParseMessage(line)
	if err != nil {
		s.logger.Warn("dropping control line", zap.String("line", line), zap.Error(err))
		return false
	}

	switch msg.Type {
	case MsgBreak:
		s.line.Set(msg.Line)
	case MsgFinish:
		return true
	case MsgBlock:
		s.notify(s.text(KeyStepNotPossible) + ": " + msg.Cause)
	default:
		s.logger.Warn("unknown control message", zap.String("type", msg.Type))
	}
	return false
}

func (d *dispatcher) onDialed(res dialResult) {
	s := d.s

	if res.conn == nil {
		s.info(s.text(KeyConnecting))
		return
	}

	d.conn = res.conn
	s.setState(StateHandshaking)
	d.conn.SendLine(EncodeMessage(MsgClientInit))
	s.info(">> " + s.text(KeyStartedViaPort) + " " + strconv.Itoa(d.port))
	s.info(">> " + s.text(KeyDebugInstructions))
	s.setState(StateActive)
}

func (d *dispatcher) onCommand(cmd command) {
	switch cmd.kind {
	case cmdNext:
		if d.s.State() == StateActive && d.conn != nil {
			d.conn.SendLine(EncodeMessage(MsgContinue))
		}
	case cmdInput:
		d.proc.SendLine(cmd.text)
	}
}

// closeControl ends the protocol side. The launcher keeps running and
// its output keeps flowing until it exits.
func (d *dispatcher) closeControl() {
	s := d.s

	if d.conn != nil {
		d.conn.Terminate()
		for range d.conn.Events() {
		}
		d.conn = nil
	}
	d.forward = true
	s.line.Set(0)
	s.setState(StateFinishing)
}

// release terminates the connection and the launcher. Remaining launcher
// output is forwarded after a finish and dropped after a stop.
func (d *dispatcher) release() {
	if d.conn != nil {
		d.conn.Terminate()
		for range d.conn.Events() {
		}
	}

	d.proc.Terminate()
	for ev := range d.proc.Events() {
		if !d.forward {
			continue
		}
		switch ev.Kind {
		case terminal.EventOutput, terminal.EventError, terminal.EventPartial:
			d.s.emit(ev)
		}
	}
}

// connect dials port at a constant interval until it succeeds or ctx ends.
// Every refusal is reported so the consumer sees the wait.
func (s *Session) connect(ctx context.Context, port int, results chan<- dialResult) {
	defer s.dialers.Done()

	deliver := func(res dialResult) bool {
		select {
		case results <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := retry.Do(ctx, retry.NewConstant(s.cfg.RetryInterval), func(ctx context.Context) error {
		conn, err := s.dial(ctx, s.cfg.Host, port)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("debugger not reachable yet", zap.Int("port", port), zap.Error(err))
			if !deliver(dialResult{err: err}) {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}

		if !deliver(dialResult{conn: conn}) {
			conn.Terminate()
			for range conn.Events() {
			}
			return ctx.Err()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("connect loop ended", zap.Error(err))
	}
}

var _ terminal.Controllable = (*Session)(nil)
