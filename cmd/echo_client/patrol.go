package main

import (
	"math"
	"time"

	"github.com/echochamber/arena/internal/game"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

const (
	patrolRadius = 3.0
	patrolSpeed  = 0.5 // radians per second
	muzzleAhead  = 0.6
)

// patrol is scripted input for soak runs: it circles the spawn point and
// fires along its heading at a fixed interval.
type patrol struct {
	fireEvery time.Duration
	angle     float64
	cooldown  float64
}

func newPatrol(fireEvery time.Duration) *patrol {
	return &patrol{fireEvery: fireEvery, cooldown: fireEvery.Seconds()}
}

func (p *patrol) Update(g *game.Game, dt float64) {
	p.angle = math.Mod(p.angle+patrolSpeed*dt, 2*math.Pi)
	pos, dir := patrolPose(p.angle)
	g.Move(pos, core.Rotation{Yaw: math.Atan2(-dir.X, -dir.Z)})

	if p.fireEvery <= 0 {
		return
	}
	p.cooldown -= dt
	if p.cooldown > 0 || g.Session().State() != session.Connected || !g.Player().Alive() {
		return
	}
	p.cooldown = p.fireEvery.Seconds()

	if _, err := g.Fire(pos.Add(dir.Scale(muzzleAhead)), dir); err != nil {
		Logger.Debug("Patrol could not fire", "error", err)
	}
}

// patrolPose returns the position on the circle and the unit tangent.
func patrolPose(angle float64) (core.Vec3, core.Vec3) {
	pos := core.Vec3{
		X: patrolRadius * math.Cos(angle),
		Y: protocol.SpawnHeight,
		Z: patrolRadius * math.Sin(angle),
	}
	return pos, core.Vec3{X: -math.Sin(angle), Z: math.Cos(angle)}
}
