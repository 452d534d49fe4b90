package protocol

import (
	"testing"

	"github.com/echochamber/arena/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeek(t *testing.T) {
	typ, err := Peek([]byte(`{"type":"register","id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeRegister, typ)

	_, err = Peek([]byte(`{"id":"abc"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Peek([]byte(`{not json`))
	assert.ErrorContains(t, err, "decoding envelope")
}

func TestEncode_OutboundShapes(t *testing.T) {
	pos, err := Encode(Position{
		Type:      TypePosition,
		Transform: NewTransform(core.V3(1, 2, 3), core.Rotation{Pitch: 0.1, Yaw: 0.2}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"position","x":1,"y":2,"z":3,"rx":0.1,"ry":0.2}`, string(pos))

	pulse, err := Encode(PulseFired{
		Type: TypePulse,
		Pulse: Pulse{
			Position:  core.V3(0, 1, 0),
			Direction: core.V3(0, 0, -1),
			Speed:     15,
			Damage:    20,
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"pulse",
		"position":{"x":0,"y":1,"z":0},
		"direction":{"x":0,"y":0,"z":-1},
		"speed":15,"damage":20,"bounces":0
	}`, string(pulse))

	dmg, err := Encode(Damage{Type: TypeDamage, TargetID: "p2", Damage: 26})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"damage","target_id":"p2","damage":26}`, string(dmg))
}

func TestDecode_ServerMessages(t *testing.T) {
	raw := []byte(`{"type":"new_pulse","pulse":{"id":"x","player_id":"p1",
		"position":{"x":1,"y":2,"z":3},"direction":{"x":0,"y":0,"z":1},
		"speed":15,"damage":20,"bounces":1,"timestamp":12.5}}`)

	var msg NewPulse
	require.NoError(t, Decode(TypeNewPulse, raw, &msg))
	assert.Equal(t, "p1", msg.Pulse.PlayerID)
	assert.Equal(t, core.V3(1, 2, 3), msg.Pulse.Position)
	assert.Equal(t, 1, msg.Pulse.Bounces)

	var upd PositionsUpdate
	require.NoError(t, Decode(TypePositionsUpdate,
		[]byte(`{"type":"positions_update","players":{"a":{"x":1,"y":1.7,"z":0,"rx":0,"ry":3}}}`), &upd))
	require.Contains(t, upd.Players, "a")
	assert.Equal(t, 3.0, upd.Players["a"].Rotation().Yaw)

	err := Decode(TypeHealthUpdate, []byte(`{"type":"health_update","health":"lots"}`), &HealthUpdate{})
	assert.ErrorContains(t, err, "decoding health_update")
}

func TestDecode_KeepsPrefilledDefaults(t *testing.T) {
	msg := Position{Transform: SpawnTransform()}
	require.NoError(t, Decode(TypePosition, []byte(`{"type":"position","x":4}`), &msg))
	assert.Equal(t, 4.0, msg.X)
	assert.Equal(t, SpawnHeight, msg.Y)
}
