package debug

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/keystep/internal/integration/terminal"
	"github.com/dshills/keystep/internal/integration/terminal/terminaltest"
)

const (
	waitTimeout = 2 * time.Second
	tick        = 2 * time.Millisecond
)

// sink drains a session's events the way a Model would.
type sink struct {
	mu     sync.Mutex
	events []terminal.Event
	closed chan struct{}
}

func drain(s *Session) *sink {
	k := &sink{closed: make(chan struct{})}
	go func() {
		defer close(k.closed)
		for ev := range s.Events() {
			k.mu.Lock()
			k.events = append(k.events, ev)
			k.mu.Unlock()
		}
	}()
	return k
}

func (k *sink) texts(kind terminal.EventKind) []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for _, ev := range k.events {
		if ev.Kind == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (k *sink) exits() []terminal.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []terminal.Event
	for _, ev := range k.events {
		if ev.Kind == terminal.EventExit {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	proc    *terminaltest.Fake
	conn    *terminaltest.Fake
	session *Session
	sink    *sink

	mu        sync.Mutex
	refusals  int
	dialed    []int
	spawnArgs []string
	notes     []string
	states    []SessionState
}

// newHarness builds a session whose dialer refuses the first refusals
// attempts. A negative count refuses forever.
func newHarness(t *testing.T, refusals int) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		proc:     terminaltest.New(),
		conn:     terminaltest.New(),
		refusals: refusals,
	}

	spawn := func(name, command string, args ...string) (terminal.Controllable, error) {
		h.mu.Lock()
		h.spawnArgs = append([]string{command}, args...)
		h.mu.Unlock()
		return h.proc, nil
	}

	dial := func(ctx context.Context, host string, port int) (terminal.Controllable, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dialed = append(h.dialed, port)
		if h.refusals != 0 {
			if h.refusals > 0 {
				h.refusals--
			}
			return nil, errors.New("connection refused")
		}
		return h.conn, nil
	}

	h.session = NewSession(Config{
		Command:       "python3",
		Script:        "/tmp/json_debugger.py",
		Program:       "/src/prog.py",
		RetryInterval: time.Millisecond,
	}, spawn,
		WithDialer(dial),
		WithHandlers(SessionHandlers{
			OnStateChanged: func(_, state SessionState) {
				h.mu.Lock()
				h.states = append(h.states, state)
				h.mu.Unlock()
			},
			OnNotification: func(text string) {
				h.mu.Lock()
				h.notes = append(h.notes, text)
				h.mu.Unlock()
			},
		}),
	)
	h.sink = drain(h.session)

	t.Cleanup(func() {
		h.session.Stop()
		h.waitDone()
		<-h.sink.closed
	})
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.session.Start(context.Background()))
}

func (h *harness) activate() {
	h.t.Helper()
	h.start()
	h.proc.Output(`{"port": 5005}`)
	h.waitState(StateActive)
}

func (h *harness) waitState(state SessionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.session.State() == state },
		waitTimeout, tick, "state %s never reached", state)
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.session.Done():
	case <-time.After(waitTimeout):
		h.t.Fatal("session did not finish")
	}
}

func (h *harness) notifications() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notes...)
}

func (h *harness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dialed)
}

func TestSessionHandshakeAfterRefusals(t *testing.T) {
	h := newHarness(t, 3)
	h.activate()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.states) == 4
	}, waitTimeout, tick)

	h.mu.Lock()
	assert.Equal(t, []string{
		"python3", "-u", "/tmp/json_debugger.py",
		"--file", "/src/prog.py",
		"--host", DefaultHost,
	}, h.spawnArgs)
	assert.Equal(t, []int{5005, 5005, 5005, 5005}, h.dialed)
	assert.Equal(t, []SessionState{
		StateBootstrapping, StateConnecting, StateHandshaking, StateActive,
	}, h.states)
	h.mu.Unlock()

	assert.Equal(t, []string{`{"type":"clientinit"}`}, h.conn.Sent())
	assert.Empty(t, h.proc.Sent(), "handshake must go over the socket")

	require.Eventually(t, func() bool { return len(h.sink.texts(terminal.EventInfo)) == 5 }, waitTimeout, tick)
	assert.Equal(t, []string{
		KeyConnecting, KeyConnecting, KeyConnecting,
		">> " + KeyStartedViaPort + " 5005",
		">> " + KeyDebugInstructions,
	}, h.sink.texts(terminal.EventInfo))
	assert.Empty(t, h.sink.texts(terminal.EventOutput), "bootstrap line must not be forwarded")
}

func TestSessionBreakNextFinish(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Output(`{"type":"break","linenumber":12}`)
	require.Eventually(t, func() bool { return h.session.BreakpointLine().Get() == 12 }, waitTimeout, tick)

	h.session.Next()
	require.Eventually(t, func() bool { return len(h.conn.Sent()) == 2 }, waitTimeout, tick)
	assert.Equal(t, []string{`{"type":"clientinit"}`, `{"type":"continue"}`}, h.conn.Sent())

	h.conn.Output(`{"type":"finish"}`)
	h.waitState(StateFinishing)
	assert.Equal(t, 0, h.session.BreakpointLine().Get())
	assert.True(t, h.conn.Exited(), "control socket must close on finish")

	h.session.Next()
	assert.Len(t, h.conn.Sent(), 2)

	h.proc.Exit(nil)
	h.waitDone()

	assert.Equal(t, StateStopped, h.session.State())
	assert.Empty(t, h.notifications())

	<-h.sink.closed
	exits := h.sink.exits()
	require.Len(t, exits, 1)
	assert.NoError(t, exits[0].Err)
}

func TestSessionForwardsOutputAfterFinish(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Output(`{"type":"break","linenumber":3}`)
	h.conn.Output(`{"type":"finish"}`)
	h.proc.Output("END")
	h.proc.Error("bye")
	h.proc.Exit(nil)
	h.waitDone()
	<-h.sink.closed

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	var tail []terminal.Event
	for _, ev := range h.sink.events {
		if ev.Kind != terminal.EventInfo {
			tail = append(tail, ev)
		}
	}
	require.Len(t, tail, 3)
	assert.Equal(t, terminal.Event{Kind: terminal.EventOutput, Text: "END"}, tail[0])
	assert.Equal(t, terminal.Event{Kind: terminal.EventError, Text: "bye"}, tail[1])
	assert.Equal(t, terminal.EventExit, tail[2].Kind)
}

func TestSessionFinishGraceTerminates(t *testing.T) {
	h := newHarness(t, 0)
	h.session.cfg.ExitGrace = 20 * time.Millisecond
	h.activate()

	h.conn.Output(`{"type":"finish"}`)
	h.proc.Output("tail")
	h.waitDone()

	assert.Equal(t, 1, h.proc.Terminated())
	assert.Empty(t, h.notifications())

	<-h.sink.closed
	assert.Equal(t, []string{"tail"}, h.sink.texts(terminal.EventOutput))
	assert.Len(t, h.sink.exits(), 1)
}

func TestSessionStopWhileFinishing(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Output(`{"type":"finish"}`)
	h.waitState(StateFinishing)

	h.session.Stop()
	h.waitDone()

	assert.Equal(t, 1, h.proc.Terminated())
	<-h.sink.closed
	assert.Len(t, h.sink.exits(), 1)
}

func TestSessionBlockIsNotFatal(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Output(`{"type":"block","cause":"ZeroDivisionError: division by zero"}`)
	require.Eventually(t, func() bool { return len(h.notifications()) == 1 }, waitTimeout, tick)

	assert.Equal(t, KeyStepNotPossible+": ZeroDivisionError: division by zero", h.notifications()[0])
	assert.Equal(t, StateActive, h.session.State())
}

func TestSessionIgnoresBadControlLines(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Output("not json")
	h.conn.Output(`{"type":"dance"}`)
	h.conn.Output(`{"type":"break"}`)
	h.conn.Output(`{"type":"break","linenumber":3}`)

	require.Eventually(t, func() bool { return h.session.BreakpointLine().Get() == 3 }, waitTimeout, tick)
	assert.Equal(t, StateActive, h.session.State())
	assert.Empty(t, h.notifications())
}

func TestSessionForwardsProgramIO(t *testing.T) {
	h := newHarness(t, 0)
	h.start()

	h.proc.Partial("ignored")
	h.proc.Output(`{"port": 5005}`)
	h.waitState(StateActive)

	h.proc.Output("hello")
	h.proc.Error("warning")
	h.proc.Partial("name? ")
	h.session.SendLine("Ada")

	require.Eventually(t, func() bool { return len(h.sink.texts(terminal.EventPartial)) == 1 }, waitTimeout, tick)
	assert.Equal(t, []string{"hello"}, h.sink.texts(terminal.EventOutput))
	assert.Equal(t, []string{"warning"}, h.sink.texts(terminal.EventError))
	assert.Equal(t, []string{"name? "}, h.sink.texts(terminal.EventPartial))
	require.Eventually(t, func() bool { return len(h.proc.Sent()) == 1 }, waitTimeout, tick)
	assert.Equal(t, []string{"Ada"}, h.proc.Sent())
}

func TestSessionBadBootstrap(t *testing.T) {
	h := newHarness(t, 0)
	h.start()

	h.proc.Output("Traceback (most recent call last):")
	h.waitDone()

	assert.Equal(t, []string{KeyBootstrapFailed}, h.notifications())
	assert.Zero(t, h.dialCount())
	assert.Equal(t, StateStopped, h.session.State())
}

func TestSessionExitBeforeActive(t *testing.T) {
	h := newHarness(t, -1)
	h.start()

	h.proc.Output(`{"port": 5005}`)
	require.Eventually(t, func() bool { return h.dialCount() >= 2 }, waitTimeout, tick)

	boom := errors.New("boom")
	h.proc.Exit(boom)
	h.waitDone()

	assert.Equal(t, []string{KeyDebuggerExited}, h.notifications())

	<-h.sink.closed
	exits := h.sink.exits()
	require.Len(t, exits, 1)
	assert.ErrorIs(t, exits[0].Err, boom)
}

func TestSessionSocketCloseDrainsProgram(t *testing.T) {
	h := newHarness(t, 0)
	h.activate()

	h.conn.Exit(nil)
	h.waitState(StateFinishing)

	h.proc.Output("last words")
	h.proc.Exit(nil)
	h.waitDone()

	assert.Empty(t, h.notifications())

	<-h.sink.closed
	assert.Equal(t, []string{"last words"}, h.sink.texts(terminal.EventOutput))
	assert.Len(t, h.sink.exits(), 1)
}

func TestSessionStopIdempotent(t *testing.T) {
	h := newHarness(t, -1)
	h.start()
	h.proc.Output(`{"port": 5005}`)
	h.waitState(StateConnecting)

	h.session.Stop()
	h.session.Stop()
	h.session.Terminate()
	h.waitDone()

	h.session.Next()
	h.session.SendLine("late")
	assert.Empty(t, h.proc.Sent())

	<-h.sink.closed
	assert.Len(t, h.sink.exits(), 1)
	assert.Empty(t, h.notifications())
}

func TestSessionStopBeforeStart(t *testing.T) {
	h := newHarness(t, 0)

	h.session.Stop()
	h.waitDone()

	assert.ErrorIs(t, h.session.Start(context.Background()), ErrSessionStopped)
	assert.Equal(t, StateStopped, h.session.State())
}

func TestSessionStartTwice(t *testing.T) {
	h := newHarness(t, 0)
	h.start()

	assert.ErrorIs(t, h.session.Start(context.Background()), ErrSessionStarted)
}

func TestSessionSpawnFailure(t *testing.T) {
	spawnErr := errors.New("no such interpreter")
	s := NewSession(Config{Command: "python9"}, func(string, string, ...string) (terminal.Controllable, error) {
		return nil, spawnErr
	})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, spawnErr)
	assert.Equal(t, StateIdle, s.State())

	s.Stop()
	<-s.Done()
}

func TestSessionContextCancel(t *testing.T) {
	h := newHarness(t, -1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.session.Start(ctx))
	h.proc.Output(`{"port": 5005}`)
	h.waitState(StateConnecting)

	cancel()
	h.waitDone()
	assert.Equal(t, 1, h.proc.Terminated())
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateBootstrapping, "bootstrapping"},
		{StateConnecting, "connecting"},
		{StateHandshaking, "handshaking"},
		{StateActive, "active"},
		{StateFinishing, "finishing"},
		{StateStopped, "stopped"},
		{SessionState(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
