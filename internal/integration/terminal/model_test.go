package terminal_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/keystep/internal/integration/terminal"
	"github.com/dshills/keystep/internal/integration/terminal/terminaltest"
)

type recorder struct {
	mu      sync.Mutex
	events  []terminal.Event
	changes []terminal.Controllable
}

func (r *recorder) handlers() terminal.ModelHandlers {
	return terminal.ModelHandlers{
		OnChange: func(c terminal.Controllable) {
			r.mu.Lock()
			r.changes = append(r.changes, c)
			r.mu.Unlock()
		},
		OnEvent: func(ev terminal.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind != terminal.EventExit {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (r *recorder) changeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) lastChange() terminal.Controllable {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil
	}
	return r.changes[len(r.changes)-1]
}

const waitTimeout = 2 * time.Second
const tick = 5 * time.Millisecond

func TestModelForwardsAndClearsOnExit(t *testing.T) {
	m := terminal.NewModel()
	var rec recorder
	m.Subscribe(rec.handlers())

	fake := terminaltest.New()
	m.Set(fake)
	assert.Equal(t, terminal.Controllable(fake), m.Current())
	assert.Equal(t, 1, rec.changeCount())

	fake.Output("hello")
	fake.Partial(">>> ")
	fake.Exit(nil)

	assert.Eventually(t, func() bool { return m.Current() == nil }, waitTimeout, tick)
	assert.Eventually(t, func() bool { return rec.changeCount() == 2 }, waitTimeout, tick)
	assert.Nil(t, rec.lastChange())
	assert.Equal(t, []string{"hello", ">>> "}, rec.texts())
}

func TestModelDropsReplacedEvents(t *testing.T) {
	m := terminal.NewModel()
	var rec recorder
	m.Subscribe(rec.handlers())

	first := terminaltest.New()
	second := terminaltest.New()

	m.Set(first)
	first.Output("first")
	assert.Eventually(t, func() bool { return len(rec.texts()) == 1 }, waitTimeout, tick)

	m.Set(second)
	first.Output("stale")
	first.Exit(nil)
	second.Output("second")

	assert.Eventually(t, func() bool { return len(rec.texts()) == 2 }, waitTimeout, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, rec.texts())

	// The replaced Controllable exiting must not empty the model.
	assert.Equal(t, terminal.Controllable(second), m.Current())

	second.Exit(nil)
	assert.Eventually(t, func() bool { return m.Current() == nil }, waitTimeout, tick)
}

func TestModelSetSameIsNoop(t *testing.T) {
	m := terminal.NewModel()
	var rec recorder
	m.Subscribe(rec.handlers())

	fake := terminaltest.New()
	m.Set(fake)
	m.Set(fake)
	assert.Equal(t, 1, rec.changeCount())

	m.Set(nil)
	assert.Equal(t, 2, rec.changeCount())
	assert.Nil(t, m.Current())

	fake.Exit(nil)
}

func TestModelSendLine(t *testing.T) {
	m := terminal.NewModel()
	assert.NotPanics(t, func() { m.SendLine("nobody") })

	fake := terminaltest.New()
	m.Set(fake)
	m.SendLine("print(1)")
	assert.Equal(t, []string{"print(1)"}, fake.Sent())

	fake.Exit(nil)
}

func TestModelInfo(t *testing.T) {
	m := terminal.NewModel()
	var rec recorder
	m.Subscribe(rec.handlers())

	m.Info(">> run #1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if assert.Len(t, rec.events, 1) {
		assert.Equal(t, terminal.EventInfo, rec.events[0].Kind)
		assert.Equal(t, ">> run #1", rec.events[0].Text)
	}
}

func TestModelUnsubscribe(t *testing.T) {
	m := terminal.NewModel()
	var rec recorder
	sub := m.Subscribe(rec.handlers())

	sub.Unsubscribe()
	sub.Unsubscribe()

	m.Info("unheard")
	assert.Empty(t, rec.texts())
}
