package terminal

import "sync"

// ModelHandlers are the callbacks a renderer registers on a Model.
type ModelHandlers struct {
	// OnChange is called when the current Controllable is replaced.
	// c is nil when the model becomes empty.
	OnChange func(c Controllable)

	// OnEvent is called for every event of the current Controllable and
	// for informational lines published with Info.
	OnEvent func(ev Event)
}

// Subscription is an active Model subscription.
type Subscription struct {
	id    uint64
	model *Model
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.model != nil {
		s.model.unsubscribe(s.id)
	}
}

// Model holds the current Controllable, or none, and relays its events to
// subscribers.
//
// When a Controllable is set, the Model drains its event channel for as
// long as it runs. Events are forwarded only while it is still current;
// once replaced, whatever it still emits is drained and dropped. When the
// current Controllable exits, subscribers receive the exit event and the
// Model becomes empty.
//
// Handlers run on the Model's delivery goroutines and must not call Set.
type Model struct {
	mu      sync.Mutex
	current Controllable
	gen     uint64

	// deliverMu orders deliveries against replacement, so no event of a
	// replaced Controllable is delivered after Set returns.
	deliverMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[uint64]ModelHandlers
	nextID uint64
}

// NewModel creates an empty Model.
func NewModel() *Model {
	return &Model{subs: make(map[uint64]ModelHandlers)}
}

// Subscribe registers handlers.
func (m *Model) Subscribe(h ModelHandlers) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = h
	return &Subscription{id: id, model: m}
}

func (m *Model) unsubscribe(id uint64) {
	m.subsMu.Lock()
	delete(m.subs, id)
	m.subsMu.Unlock()
}

// Current returns the current Controllable, or nil.
func (m *Model) Current() Controllable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set makes c the current Controllable. A nil c empties the model.
// Setting the current value again does nothing.
func (m *Model) Set(c Controllable) {
	m.deliverMu.Lock()
	m.mu.Lock()
	if m.current == c {
		m.mu.Unlock()
		m.deliverMu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.current = c
	m.mu.Unlock()
	m.deliverMu.Unlock()

	m.notifyChange(c)

	if c != nil {
		go m.pump(c, gen)
	}
}

// SendLine forwards line to the current Controllable, if any.
func (m *Model) SendLine(line string) {
	if c := m.Current(); c != nil {
		c.SendLine(line)
	}
}

// Info publishes an informational line to subscribers.
func (m *Model) Info(text string) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.publish(Event{Kind: EventInfo, Text: text})
}

func (m *Model) pump(c Controllable, gen uint64) {
	for ev := range c.Events() {
		if !m.deliver(gen, ev) {
			continue
		}
		if ev.Kind == EventExit {
			m.clear(gen)
		}
	}
}

// deliver publishes ev if generation gen is still current.
func (m *Model) deliver(gen uint64, ev Event) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()

	if current {
		m.publish(ev)
	}
	return current
}

// clear empties the model if generation gen is still current.
func (m *Model) clear(gen uint64) {
	m.deliverMu.Lock()
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.deliverMu.Unlock()
		return
	}
	m.gen++
	m.current = nil
	m.mu.Unlock()
	m.deliverMu.Unlock()

	m.notifyChange(nil)
}

func (m *Model) handlers() []ModelHandlers {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	out := make([]ModelHandlers, 0, len(m.subs))
	for id := uint64(0); id < m.nextID; id++ {
		if h, ok := m.subs[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (m *Model) publish(ev Event) {
	for _, h := range m.handlers() {
		if h.OnEvent != nil {
			h.OnEvent(ev)
		}
	}
}

func (m *Model) notifyChange(c Controllable) {
	for _, h := range m.handlers() {
		if h.OnChange != nil {
			h.OnChange(c)
		}
	}
}
