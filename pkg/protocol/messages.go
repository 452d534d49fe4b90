package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/echochamber/arena/pkg/core"
)

// Message type constants for the arena relay protocol.
const (
	// server -> client
	TypeRegister        = "register"
	TypePlayerJoined    = "player_joined"
	TypePlayerLeft      = "player_left"
	TypePositionsUpdate = "positions_update"
	TypeNewPulse        = "new_pulse"
	TypeHealthUpdate    = "health_update"
	TypeRespawn         = "respawn"

	// client -> server
	TypePosition = "position"
	TypePulse    = "pulse"
	TypeDamage   = "damage"
)

// Defaults the relay fills in for omitted pulse fields.
const (
	DefaultPulseSpeed  = 15.0
	DefaultPulseDamage = 20.0
	SpawnHeight        = 1.7
)

// ErrMissingType is returned by Peek for frames without a type discriminator.
var ErrMissingType = errors.New("message has no type")

// Envelope carries only the discriminator; the full frame is decoded again
// into the concrete message once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

// Transform is a player position plus camera rotation, flattened as the
// server stores it.
type Transform struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
}

// NewTransform builds a Transform from engine types.
func NewTransform(pos core.Vec3, rot core.Rotation) Transform {
	return Transform{X: pos.X, Y: pos.Y, Z: pos.Z, RX: rot.Pitch, RY: rot.Yaw}
}

func (t Transform) Position() core.Vec3 {
	return core.Vec3{X: t.X, Y: t.Y, Z: t.Z}
}

func (t Transform) Rotation() core.Rotation {
	return core.Rotation{Pitch: t.RX, Yaw: t.RY}
}

// SpawnTransform is where the relay places a freshly registered player.
func SpawnTransform() Transform {
	return Transform{Y: SpawnHeight}
}

// Register assigns the client its player id.
type Register struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PlayerJoined announces a peer, with its last known transform and health.
type PlayerJoined struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Position Transform `json:"position"`
	Health   float64   `json:"health"`
}

// PlayerLeft announces that a peer disconnected.
type PlayerLeft struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PositionsUpdate is the periodic snapshot of every player's transform,
// the receiver included.
type PositionsUpdate struct {
	Type    string               `json:"type"`
	Players map[string]Transform `json:"players"`
}

// Pulse is the pulse payload. ID and PlayerID are only set by the relay.
type Pulse struct {
	ID        string    `json:"id,omitempty"`
	PlayerID  string    `json:"player_id,omitempty"`
	Position  core.Vec3 `json:"position"`
	Direction core.Vec3 `json:"direction"`
	Speed     float64   `json:"speed"`
	Damage    float64   `json:"damage"`
	Bounces   int       `json:"bounces"`
}

// NewPulse relays a pulse fired by some player to everyone, the shooter included.
type NewPulse struct {
	Type  string `json:"type"`
	Pulse Pulse  `json:"pulse"`
}

// HealthUpdate carries an authoritative health value for any player.
type HealthUpdate struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Health float64 `json:"health"`
}

// Respawn is sent only to the player that died.
type Respawn struct {
	Type     string    `json:"type"`
	Position Transform `json:"position"`
}

// Position is the client's rate limited transform publication.
type Position struct {
	Type string `json:"type"`
	Transform
}

// PulseFired tells the relay the client fired a pulse. Pulse fields are
// flattened into the frame.
type PulseFired struct {
	Type string `json:"type"`
	Pulse
}

// Damage reports damage a local pulse dealt to another player.
type Damage struct {
	Type     string  `json:"type"`
	TargetID string  `json:"target_id"`
	Damage   float64 `json:"damage"`
}

// Peek extracts the type discriminator from a raw frame.
func Peek(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// Decode unmarshals a raw frame into v, wrapping the error with the type.
func Decode(msgType string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", msgType, err)
	}
	return nil
}

// Encode marshals an outbound message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}
