package game

import (
	"github.com/echochamber/arena/internal/reconcile"
	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

// Player is the locally controlled player.
type Player struct {
	Position core.Vec3
	Rotation core.Rotation
	Health   float64
	Radius   float64
}

func newPlayer() Player {
	spawn := protocol.SpawnTransform()
	return Player{
		Position: spawn.Position(),
		Rotation: spawn.Rotation(),
		Health:   reconcile.MaxHealth,
		Radius:   reconcile.PlayerRadius,
	}
}

// Alive reports whether the player has health left.
func (p Player) Alive() bool {
	return p.Health > 0
}

// takeDamage applies predicted damage, flooring health at zero.
func (p *Player) takeDamage(amount float64) {
	p.Health -= amount
	if p.Health < 0 {
		p.Health = 0
	}
}

// hitBy uses the same head and body volumes as remote players.
func (p Player) hitBy(pos core.Vec3, radius float64) bool {
	return reconcile.Entity{Position: p.Position}.Hit(pos, radius)
}
