package relay

import (
	"github.com/google/uuid"

	"github.com/echochamber/arena/internal/dispatcher"
	"github.com/echochamber/arena/pkg/protocol"
)

func (h *Hub) registerHandlers() {
	h.disp.Register(protocol.TypePosition, h.onPosition)
	h.disp.Register(protocol.TypePulse, h.onPulse, dispatcher.Logged())
	h.disp.Register(protocol.TypeDamage, h.onDamage, dispatcher.Logged())
}

// onPosition stores the sender's transform. Missing fields fall back to the
// spawn transform.
func (h *Hub) onPosition(e dispatcher.Event) error {
	msg := protocol.Position{Transform: protocol.SpawnTransform()}
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	h.sender.pos = msg.Transform
	return nil
}

// onPulse assigns an id and relays the pulse to everyone, shooter included.
func (h *Hub) onPulse(e dispatcher.Event) error {
	msg := protocol.PulseFired{Pulse: protocol.Pulse{
		Speed:  protocol.DefaultPulseSpeed,
		Damage: protocol.DefaultPulseDamage,
	}}
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}

	pulse := msg.Pulse
	pulse.ID = uuid.NewString()
	pulse.PlayerID = h.sender.client.id
	h.broadcast(protocol.NewPulse{Type: protocol.TypeNewPulse, Pulse: pulse})
	return nil
}

// onDamage applies damage, announces the new health and respawns a player
// whose health reached zero.
func (h *Hub) onDamage(e dispatcher.Event) error {
	var msg protocol.Damage
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	target, ok := h.players[msg.TargetID]
	if !ok {
		return nil
	}

	target.health -= msg.Damage
	if target.health < 0 {
		target.health = 0
	}
	h.broadcast(protocol.HealthUpdate{Type: protocol.TypeHealthUpdate, ID: msg.TargetID, Health: target.health})

	if target.health <= 0 {
		target.health = MaxHealth
		target.pos = protocol.Transform{
			X: h.cfg.RespawnOffset(),
			Y: protocol.SpawnHeight,
			Z: h.cfg.RespawnOffset(),
		}
		target.client.sendMessage(protocol.Respawn{Type: protocol.TypeRespawn, Position: target.pos})
		h.log.Info().Str("player", msg.TargetID).Str("by", h.sender.client.id).Msg("Player respawned")
	}
	return nil
}
