package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echochamber/arena/pkg/protocol"
)

type fakeConn struct {
	in      chan []byte
	readErr chan error
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	written   [][]byte
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 64),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case err := <-c.readErr:
		return nil, err
	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.written))
	for _, w := range c.written {
		var m map[string]any
		_ = json.Unmarshal(w, &m)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.in <- data
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) lastDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.delays) == 0 {
		return 0
	}
	return c.delays[len(c.delays)-1]
}

func (c *fakeClock) allDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type recordingHandler struct {
	registered []string
	joined     map[string]float64
	left       []string
	moved      map[string]protocol.Transform
	pulses     []protocol.Pulse
	health     map[string]float64
	selfHealth []float64
	respawns   []protocol.Transform
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		joined: make(map[string]float64),
		moved:  make(map[string]protocol.Transform),
		health: make(map[string]float64),
	}
}

func (h *recordingHandler) Registered(id string) { h.registered = append(h.registered, id) }
func (h *recordingHandler) PlayerJoined(id string, t protocol.Transform, health float64) {
	h.joined[id] = health
}
func (h *recordingHandler) PlayerLeft(id string) { h.left = append(h.left, id) }
func (h *recordingHandler) PlayerMoved(id string, t protocol.Transform) {
	h.moved[id] = t
}
func (h *recordingHandler) RemotePulse(p protocol.Pulse) { h.pulses = append(h.pulses, p) }
func (h *recordingHandler) HealthChanged(id string, health float64, self bool) {
	if self {
		h.selfHealth = append(h.selfHealth, health)
		return
	}
	h.health[id] = health
}
func (h *recordingHandler) Respawn(t protocol.Transform) { h.respawns = append(h.respawns, t) }

type transition struct {
	from, to State
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []transition
	failed      int
	failedAfter int
}

func (s *recordingSink) StateChanged(from, to State, attempt int, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, transition{from, to})
}

func (s *recordingSink) ConnectionFailed(attempts int, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.failedAfter = attempts
}

// pumpUntil pumps the session until cond holds or a deadline passes.
func pumpUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; state=%s attempts=%d", s.State(), s.Attempts())
		}
		s.Pump()
		time.Sleep(time.Millisecond)
	}
}
