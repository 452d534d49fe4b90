package session

import (
	"context"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

type harness struct {
	s       *Session
	dialer  *fakeDialer
	clock   *fakeClock
	handler *recordingHandler
	sink    *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer:  &fakeDialer{},
		clock:   newFakeClock(),
		handler: newRecordingHandler(),
		sink:    &recordingSink{},
	}
	s, err := New(Config{
		URL:    "ws://relay.test/",
		Dialer: h.dialer,
		Clock:  h.clock,
		Sink:   h.sink,
	}, h.handler)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Disconnect)
	return h
}

// connect dials and completes the register handshake.
func (h *harness) connect(t *testing.T, id string) *fakeConn {
	t.Helper()
	require.NoError(t, h.s.Connect(context.Background()))
	pumpUntil(t, h.s, func() bool { return h.s.State() == Connected })
	conn := h.dialer.last()
	if id != "" {
		conn.deliver(t, protocol.Register{Type: protocol.TypeRegister, ID: id})
		pumpUntil(t, h.s, func() bool { return h.s.LocalID() == id })
	}
	return conn
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(Config{URL: "ws://x"}, nil)
	assert.Error(t, err)
}

func TestConnect_Register(t *testing.T) {
	h := newHarness(t)

	h.connect(t, "me")

	assert.Equal(t, Connected, h.s.State())
	assert.Equal(t, []string{"me"}, h.handler.registered)
	assert.Equal(t, []transition{{Disconnected, Connecting}, {Connecting, Connected}}, h.sink.transitions)
	assert.ErrorIs(t, h.s.Connect(context.Background()), ErrAlreadyStarted)
}

func TestConnect_EmptyURL(t *testing.T) {
	s, err := New(Config{Dialer: &fakeDialer{}}, newRecordingHandler())
	require.NoError(t, err)
	assert.Error(t, s.Connect(context.Background()))
}

func TestRegister_RepeatedIgnored(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.deliver(t, protocol.Register{Type: protocol.TypeRegister, ID: "impostor"})
	conn.deliver(t, protocol.PlayerLeft{Type: protocol.TypePlayerLeft, ID: "x"})
	pumpUntil(t, h.s, func() bool { return len(h.handler.left) == 1 })

	assert.Equal(t, "me", h.s.LocalID())
	assert.Equal(t, []string{"me"}, h.handler.registered)
}

func TestSends_DroppedUntilRegistered(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.s.SendDamage("p2", 10), "disconnected")

	conn := h.connect(t, "")
	assert.False(t, h.s.SendPosition(core.V3(0, 0, 0), core.Rotation{}), "no local id yet")
	assert.False(t, h.s.SendPulse(protocol.Pulse{Direction: core.V3(1, 0, 0)}))
	assert.Empty(t, conn.frames())

	conn.deliver(t, protocol.Register{Type: protocol.TypeRegister, ID: "me"})
	pumpUntil(t, h.s, func() bool { return h.s.LocalID() == "me" })
	assert.True(t, h.s.SendDamage("p2", 10))
}

func TestSendPosition_RateLimited(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	assert.True(t, h.s.SendPosition(core.V3(1, 2, 3), core.Rotation{Pitch: 0.5, Yaw: 1}))
	h.clock.Advance(50 * time.Millisecond)
	assert.False(t, h.s.SendPosition(core.V3(1, 2, 4), core.Rotation{}))
	require.Len(t, conn.frames(), 1)

	h.clock.Advance(50 * time.Millisecond)
	assert.True(t, h.s.SendPosition(core.V3(1, 2, 5), core.Rotation{}))

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, map[string]any{"type": "position", "x": 1.0, "y": 2.0, "z": 3.0, "rx": 0.5, "ry": 1.0}, frames[0])
	assert.Equal(t, 5.0, frames[1]["z"])
}

func TestSendPulseAndDamage(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	assert.True(t, h.s.SendPulse(protocol.Pulse{
		ID:        "should-not-leak",
		Position:  core.V3(0, 1.7, 0),
		Direction: core.V3(0, 0, -1),
		Speed:     15,
		Damage:    20,
	}))
	assert.True(t, h.s.SendDamage("p2", 26))

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "pulse", frames[0]["type"])
	assert.NotContains(t, frames[0], "id")
	assert.Equal(t, map[string]any{"x": 0.0, "y": 0.0, "z": -1.0}, frames[0]["direction"])
	assert.Equal(t, 0.0, frames[0]["bounces"])
	assert.Equal(t, map[string]any{"type": "damage", "target_id": "p2", "damage": 26.0}, frames[1])
}

func TestInbound_Routing(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.deliver(t, protocol.PlayerJoined{Type: protocol.TypePlayerJoined, ID: "p2", Position: protocol.SpawnTransform(), Health: 80})
	conn.deliver(t, protocol.PositionsUpdate{Type: protocol.TypePositionsUpdate, Players: map[string]protocol.Transform{
		"me": {X: 9},
		"p2": {X: 1, Y: 1.7},
	}})
	conn.deliver(t, protocol.NewPulse{Type: protocol.TypeNewPulse, Pulse: protocol.Pulse{PlayerID: "me", Direction: core.V3(1, 0, 0)}})
	conn.deliver(t, protocol.NewPulse{Type: protocol.TypeNewPulse, Pulse: protocol.Pulse{PlayerID: "p2", Direction: core.V3(1, 0, 0)}})
	conn.deliver(t, protocol.HealthUpdate{Type: protocol.TypeHealthUpdate, ID: "me", Health: 60})
	conn.deliver(t, protocol.HealthUpdate{Type: protocol.TypeHealthUpdate, ID: "p2", Health: 40})
	conn.deliver(t, protocol.Respawn{Type: protocol.TypeRespawn, Position: protocol.Transform{X: 3, Y: 1.7, Z: -2}})
	conn.deliver(t, protocol.PlayerLeft{Type: protocol.TypePlayerLeft, ID: "p2"})

	pumpUntil(t, h.s, func() bool { return len(h.handler.left) == 1 })

	assert.Equal(t, 80.0, h.handler.joined["p2"])
	assert.NotContains(t, h.handler.moved, "me")
	assert.Equal(t, 1.0, h.handler.moved["p2"].X)
	require.Len(t, h.handler.pulses, 1)
	assert.Equal(t, "p2", h.handler.pulses[0].PlayerID)
	assert.Equal(t, []float64{60}, h.handler.selfHealth)
	assert.Equal(t, 40.0, h.handler.health["p2"])
	require.Len(t, h.handler.respawns, 1)
	assert.Equal(t, 3.0, h.handler.respawns[0].X)
	assert.Equal(t, []string{"p2"}, h.handler.left)
}

func TestInbound_MalformedKeepsConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.in <- []byte(`{not json`)
	conn.in <- []byte(`{"type":"teleport"}`)
	conn.in <- []byte(`{"type":"health_update","id":"p2","health":"full"}`)
	conn.in <- []byte(`{"id":"no type"}`)
	conn.deliver(t, protocol.PlayerLeft{Type: protocol.TypePlayerLeft, ID: "p9"})

	pumpUntil(t, h.s, func() bool { return len(h.handler.left) == 1 })

	assert.Equal(t, Connected, h.s.State())
	assert.False(t, conn.isClosed())
	assert.Empty(t, h.handler.health)
	assert.Equal(t, 1, h.dialer.count())
}

func TestAbnormalClose_Reconnects(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.readErr <- &ws.CloseError{Code: ws.CloseGoingAway}
	pumpUntil(t, h.s, func() bool { return h.s.State() == Reconnecting })

	assert.Equal(t, 1, h.s.Attempts())
	assert.Empty(t, h.s.LocalID(), "id belongs to the lost connection")
	assert.False(t, h.s.SendDamage("p2", 1))
	assert.Equal(t, time.Second, h.clock.lastDelay())

	h.clock.Advance(999 * time.Millisecond)
	h.s.Pump()
	assert.Equal(t, 1, h.dialer.count())

	h.clock.Advance(time.Millisecond)
	pumpUntil(t, h.s, func() bool { return h.s.State() == Connected })
	assert.Equal(t, 2, h.dialer.count())
	assert.Zero(t, h.s.Attempts())

	h.dialer.last().deliver(t, protocol.Register{Type: protocol.TypeRegister, ID: "me-again"})
	pumpUntil(t, h.s, func() bool { return h.s.LocalID() == "me-again" })
	assert.Equal(t, []string{"me", "me-again"}, h.handler.registered)
}

func TestCleanClose_NoReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.readErr <- &ws.CloseError{Code: ws.CloseNormalClosure}
	pumpUntil(t, h.s, func() bool { return h.s.State() == Disconnected })

	h.clock.Advance(time.Minute)
	h.s.Pump()
	assert.Equal(t, 1, h.dialer.count())
	assert.Empty(t, h.clock.allDelays())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.dialer.setFail(true)

	require.NoError(t, h.s.Connect(context.Background()))
	for i := 1; i <= DefaultMaxReconnectAttempts; i++ {
		pumpUntil(t, h.s, func() bool { return h.s.State() == Reconnecting && h.s.Attempts() == i })
		h.clock.Advance(h.clock.lastDelay())
	}
	pumpUntil(t, h.s, func() bool { return h.s.State() == Failed })

	// One initial dial plus five reconnects; a sixth reconnect is never made.
	assert.Equal(t, 1+DefaultMaxReconnectAttempts, h.dialer.count())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, h.clock.allDelays())
	assert.Equal(t, 1, h.sink.failed)
	assert.Equal(t, DefaultMaxReconnectAttempts, h.sink.failedAfter)
	assert.Error(t, h.s.LastError())

	h.clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	h.s.Pump()
	assert.Equal(t, Failed, h.s.State())
	assert.Equal(t, 1+DefaultMaxReconnectAttempts, h.dialer.count())

	// A fresh Connect starts a new budget.
	h.dialer.setFail(false)
	require.NoError(t, h.s.Connect(context.Background()))
	pumpUntil(t, h.s, func() bool { return h.s.State() == Connected })
}

func TestBackoffCapped(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	clock := newFakeClock()
	s, err := New(Config{
		URL:                  "ws://relay.test/",
		Dialer:               dialer,
		Clock:                clock,
		InitialBackoff:       10 * time.Second,
		MaxReconnectAttempts: 4,
	}, newRecordingHandler())
	require.NoError(t, err)
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	for i := 1; i <= 4; i++ {
		pumpUntil(t, s, func() bool { return s.Attempts() == i && s.State() == Reconnecting })
		clock.Advance(clock.lastDelay())
	}
	pumpUntil(t, s, func() bool { return s.State() == Failed })

	assert.Equal(t, []time.Duration{
		10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second,
	}, clock.allDelays())
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	h.s.Disconnect()
	h.s.Disconnect()

	assert.Equal(t, Disconnected, h.s.State())
	assert.True(t, conn.isClosed())
	conn.mu.Lock()
	assert.Equal(t, CloseNormal, conn.closeCode)
	conn.mu.Unlock()
	assert.False(t, h.s.SendDamage("p2", 5))

	// Stale close event from the reader is discarded.
	time.Sleep(10 * time.Millisecond)
	h.s.Pump()
	assert.Equal(t, Disconnected, h.s.State())
	assert.Equal(t, 1, h.dialer.count())
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "me")

	conn.readErr <- &ws.CloseError{Code: ws.CloseAbnormalClosure}
	pumpUntil(t, h.s, func() bool { return h.s.State() == Reconnecting })

	h.s.Disconnect()
	h.clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	h.s.Pump()

	assert.Equal(t, Disconnected, h.s.State())
	assert.Equal(t, 1, h.dialer.count())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
