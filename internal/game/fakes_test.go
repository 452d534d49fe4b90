package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/internal/reconcile"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/internal/storage"
	"github.com/echochamber/arena/pkg/core"
)

type fakeConn struct {
	in   chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.done:
		return nil, session.ErrConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(int, string) error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.in <- data
}

// sent returns the outbound frames of one type.
func (c *fakeConn) sent(msgType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, w := range c.written {
		var m map[string]any
		if json.Unmarshal(w, &m) == nil && m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (session.Conn, error) {
	return d.conn, nil
}

// memBackend keeps recorded events for assertions.
type memBackend struct {
	storage.Discard
	mu          sync.Mutex
	matches     []core.Match
	pulses      []core.PulseEvent
	damage      []core.DamageEvent
	health      []core.HealthEvent
	connections []core.ConnectionEvent
}

func (b *memBackend) StartMatch(m core.Match) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matches = append(b.matches, m)
	return nil
}

func (b *memBackend) RecordPulse(e core.PulseEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pulses = append(b.pulses, e)
	return nil
}

func (b *memBackend) RecordDamage(e core.DamageEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.damage = append(b.damage, e)
	return nil
}

func (b *memBackend) RecordHealth(e core.HealthEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health = append(b.health, e)
	return nil
}

func (b *memBackend) RecordConnection(e core.ConnectionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections = append(b.connections, e)
	return nil
}

func (b *memBackend) pulseKinds() []core.PulseEventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.PulseEventKind, 0, len(b.pulses))
	for _, e := range b.pulses {
		out = append(out, e.Kind)
	}
	return out
}

type recordingSink struct {
	NopSink
	joined  []string
	left    []string
	removed []*pulse.Pulse
	health  []float64
	states  []session.State
	failed  int
	moved   map[string]reconcile.Entity
	panicOn string
	// bounceFailOn makes PulseBounced panic for the pulse with this ID.
	bounceFailOn uint64
}

func (s *recordingSink) RemoteJoined(id string) { s.joined = append(s.joined, id) }
func (s *recordingSink) RemoteLeft(id string)   { s.left = append(s.left, id) }
func (s *recordingSink) PulseRemoved(p *pulse.Pulse) {
	s.removed = append(s.removed, p)
}
func (s *recordingSink) LocalHealthChanged(h float64) { s.health = append(s.health, h) }
func (s *recordingSink) ConnectionChanged(_, to session.State) {
	s.states = append(s.states, to)
}
func (s *recordingSink) ConnectionFailed(int, error) { s.failed++ }
func (s *recordingSink) PulseBounced(p *pulse.Pulse, _ pulse.Hit) {
	if p.ID() == s.bounceFailOn {
		panic("bounce handler exploded")
	}
}
func (s *recordingSink) RemoteMoved(e reconcile.Entity) {
	if e.ID == s.panicOn {
		panic("sink exploded")
	}
	if s.moved == nil {
		s.moved = make(map[string]reconcile.Entity)
	}
	s.moved[e.ID] = e
}

type harness struct {
	game    *Game
	conn    *fakeConn
	backend *memBackend
	sink    *recordingSink
}

func newHarness(t *testing.T, oracle pulse.Oracle) *harness {
	t.Helper()
	h := &harness{
		conn:    newFakeConn(),
		backend: &memBackend{},
		sink:    &recordingSink{},
	}
	g, err := New(Config{
		Session: session.Config{
			URL:    "ws://arena.test",
			Dialer: &fakeDialer{conn: h.conn},
		},
		Oracle:   oracle,
		Recorder: storage.NewRecorder(h.backend, nil),
		Sink:     h.sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.game = g
	t.Cleanup(func() { _ = g.Close() })
	return h
}

// tickUntil runs zero-length frames until cond holds.
func (h *harness) tickUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 400; i++ {
		h.game.Tick(0)
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

// join connects and registers as id.
func (h *harness) join(t *testing.T, id string) {
	t.Helper()
	if err := h.game.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.tickUntil(t, func() bool { return h.game.Session().State() == session.Connected })
	h.conn.deliver(t, map[string]any{"type": "register", "id": id})
	h.tickUntil(t, func() bool { return h.game.LocalID() == id })
}
