// Package pulse simulates a single sonic pulse: straight-line flight, specular
// bounces off arena surfaces, and the damage multiplier picked up per bounce.
package pulse

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/echochamber/arena/internal/material"
	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

const (
	DefaultSpeed      = protocol.DefaultPulseSpeed
	DefaultDamage     = protocol.DefaultPulseDamage
	DefaultMaxBounces = 3
	DefaultLifetime   = 5.0 // seconds
	DefaultRadius     = 0.3

	// maxSubsteps bounds the oracle queries one tick may issue.
	maxSubsteps = 64
)

var (
	ErrDegenerateDirection = errors.New("pulse: degenerate direction")
	ErrInvalidParams       = errors.New("pulse: invalid params")
)

// Reason describes why a pulse stopped, or Alive while it still flies.
type Reason uint8

const (
	Alive Reason = iota
	Expired
	Exhausted
	Scored
)

func (r Reason) String() string {
	switch r {
	case Alive:
		return "alive"
	case Expired:
		return "expired"
	case Exhausted:
		return "exhausted"
	case Scored:
		return "scored"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Hit is a collision reported by an Oracle. Normal should be a unit vector;
// it is normalised again before use.
type Hit struct {
	Point    core.Vec3
	Normal   core.Vec3
	Material material.Material
}

// Oracle answers whether a pulse at pos moving along dir with the given probe
// radius touches a surface. The owner of the pulse is never part of the query.
type Oracle interface {
	CheckPulseCollision(pos, dir core.Vec3, radius float64) (Hit, bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(pos, dir core.Vec3, radius float64) (Hit, bool, error)

func (f OracleFunc) CheckPulseCollision(pos, dir core.Vec3, radius float64) (Hit, bool, error) {
	return f(pos, dir, radius)
}

// Params configures a new pulse. Zero numeric fields take the package defaults;
// negative values are rejected.
type Params struct {
	ID         uint64
	NetID      string // relay-assigned id, remote pulses only
	OwnerID    string
	Remote     bool
	Position   core.Vec3
	Direction  core.Vec3
	Speed      float64
	BaseDamage float64
	MaxBounces int
	Bounces    int // already applied bounces, carried by relayed pulses
	Lifetime   float64
	Radius     float64
	Logger     *slog.Logger
}

func (p Params) withDefaults() Params {
	if p.Speed == 0 {
		p.Speed = DefaultSpeed
	}
	if p.BaseDamage == 0 {
		p.BaseDamage = DefaultDamage
	}
	if p.MaxBounces == 0 {
		p.MaxBounces = DefaultMaxBounces
	}
	if p.Lifetime == 0 {
		p.Lifetime = DefaultLifetime
	}
	if p.Radius == 0 {
		p.Radius = DefaultRadius
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

func (p Params) validate() error {
	switch {
	case !p.Position.IsFinite():
		return fmt.Errorf("%w: position %v", ErrInvalidParams, p.Position)
	case !(p.Speed > 0) || math.IsInf(p.Speed, 0):
		return fmt.Errorf("%w: speed %v", ErrInvalidParams, p.Speed)
	case !(p.BaseDamage >= 0) || math.IsInf(p.BaseDamage, 0):
		return fmt.Errorf("%w: damage %v", ErrInvalidParams, p.BaseDamage)
	case p.MaxBounces < 1:
		return fmt.Errorf("%w: max bounces %d", ErrInvalidParams, p.MaxBounces)
	case p.Bounces < 0:
		return fmt.Errorf("%w: bounces %d", ErrInvalidParams, p.Bounces)
	case !(p.Lifetime > 0):
		return fmt.Errorf("%w: lifetime %v", ErrInvalidParams, p.Lifetime)
	case !(p.Radius > 0):
		return fmt.Errorf("%w: radius %v", ErrInvalidParams, p.Radius)
	}
	return nil
}

// Pulse is one projectile. It is not safe for concurrent use; the game loop
// owns every pulse.
type Pulse struct {
	id      uint64
	netID   string
	ownerID string
	remote  bool

	position   core.Vec3
	direction  core.Vec3
	speed      float64
	baseDamage float64
	multiplier float64
	bounces    int
	maxBounces int
	lifetime   float64
	radius     float64
	reason     Reason

	trail  []core.Vec3
	logger *slog.Logger
}

// New validates p and returns a live pulse with a normalised direction.
// A pulse whose carried bounce count already reaches MaxBounces is returned
// terminal (Exhausted).
func New(p Params) (*Pulse, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	dir, ok := p.Direction.Normalize()
	if !ok {
		return nil, ErrDegenerateDirection
	}

	pl := &Pulse{
		id:         p.ID,
		netID:      p.NetID,
		ownerID:    p.OwnerID,
		remote:     p.Remote,
		position:   p.Position,
		direction:  dir,
		speed:      p.Speed,
		baseDamage: p.BaseDamage,
		multiplier: 1,
		bounces:    p.Bounces,
		maxBounces: p.MaxBounces,
		lifetime:   p.Lifetime,
		radius:     p.Radius,
		trail:      []core.Vec3{p.Position},
		logger:     p.Logger.With("pulse", p.ID, "owner", p.OwnerID),
	}
	if pl.bounces >= pl.maxBounces {
		pl.bounces = pl.maxBounces
		pl.reason = Exhausted
	}
	return pl, nil
}

// FromRemote builds a pulse from a relayed new_pulse payload. base supplies
// identity, logger and any non-wire settings; wire fields override it.
func FromRemote(msg protocol.Pulse, base Params) (*Pulse, error) {
	base.NetID = msg.ID
	base.OwnerID = msg.PlayerID
	base.Remote = true
	base.Position = msg.Position
	base.Direction = msg.Direction
	base.Speed = msg.Speed
	base.BaseDamage = msg.Damage
	base.Bounces = msg.Bounces
	if base.MaxBounces == 0 {
		base.MaxBounces = DefaultMaxBounces
	}
	return New(base)
}

// Result reports what happened during one Tick.
type Result struct {
	Reason  Reason
	Bounced bool
	Hit     Hit // valid when Bounced
}

// Tick advances the pulse by dt seconds. Ticking a terminal pulse is a no-op.
// At most one bounce is resolved per call.
func (p *Pulse) Tick(dt float64, oracle Oracle) Result {
	if p.reason != Alive {
		return Result{Reason: p.reason}
	}
	if !(dt >= 0) || math.IsInf(dt, 0) {
		p.logger.Warn("ignoring invalid tick delta", "dt", dt)
		return Result{Reason: p.reason}
	}

	p.lifetime -= dt
	if p.lifetime <= 0 {
		p.reason = Expired
		return Result{Reason: p.reason}
	}

	hit, ok := p.advance(p.speed*dt, oracle)
	if !ok {
		return Result{Reason: p.reason}
	}

	normal, ok := hit.Normal.Normalize()
	if !ok {
		p.logger.Warn("degenerate surface normal, bounce skipped", "normal", hit.Normal)
		return Result{Reason: p.reason}
	}
	dir, ok := p.direction.Reflect(normal).Normalize()
	if !ok {
		p.logger.Warn("degenerate reflection, bounce skipped", "direction", p.direction, "normal", normal)
		return Result{Reason: p.reason}
	}

	p.direction = dir
	p.bounces++
	p.multiplier *= hit.Material.Amplification()
	p.speed *= hit.Material.SpeedFactor()
	p.trail = append(p.trail, hit.Point)

	if p.bounces >= p.maxBounces {
		p.reason = Exhausted
	}
	return Result{Reason: p.reason, Bounced: true, Hit: hit}
}

// advance moves the pulse dist along its direction in steps no longer than
// its radius, querying the oracle after each one. The oracle only looks
// 2*radius ahead, so a long step would otherwise tunnel through thin
// walls. Movement stops at the first reported hit.
func (p *Pulse) advance(dist float64, oracle Oracle) (Hit, bool) {
	if oracle == nil {
		p.position = p.position.Add(p.direction.Scale(dist))
		return Hit{}, false
	}
	n := int(math.Ceil(dist / p.radius))
	n = max(1, min(n, maxSubsteps))
	step := p.direction.Scale(dist / float64(n))
	for range n {
		p.position = p.position.Add(step)
		if hit, ok := p.query(oracle); ok {
			return hit, true
		}
	}
	return Hit{}, false
}

// query calls the oracle, treating errors and panics as a miss.
func (p *Pulse) query(oracle Oracle) (hit Hit, ok bool) {
	if oracle == nil {
		return Hit{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("collision oracle panicked", "panic", r)
			hit, ok = Hit{}, false
		}
	}()

	hit, ok, err := oracle.CheckPulseCollision(p.position, p.direction, p.radius)
	if err != nil {
		p.logger.Warn("collision oracle failed", "error", err)
		return Hit{}, false
	}
	return hit, ok
}

// Score marks a live pulse as having hit a player.
func (p *Pulse) Score() {
	if p.reason == Alive {
		p.reason = Scored
	}
}

// HitsSphere reports whether the pulse overlaps a sphere.
func (p *Pulse) HitsSphere(center core.Vec3, radius float64) bool {
	r := radius + p.radius
	return p.position.Sub(center).LenSq() < r*r
}

// Damage is baseDamage * damageMultiplier.
func (p *Pulse) Damage() float64 {
	return p.baseDamage * p.multiplier
}

// Trail returns the spawn point, each bounce point and the current position.
func (p *Pulse) Trail() []core.Vec3 {
	out := make([]core.Vec3, len(p.trail), len(p.trail)+1)
	copy(out, p.trail)
	return append(out, p.position)
}

func (p *Pulse) ID() uint64                { return p.id }
func (p *Pulse) NetID() string             { return p.netID }
func (p *Pulse) OwnerID() string           { return p.ownerID }
func (p *Pulse) Remote() bool              { return p.remote }
func (p *Pulse) Position() core.Vec3       { return p.position }
func (p *Pulse) Direction() core.Vec3      { return p.direction }
func (p *Pulse) Speed() float64            { return p.speed }
func (p *Pulse) BaseDamage() float64       { return p.baseDamage }
func (p *Pulse) DamageMultiplier() float64 { return p.multiplier }
func (p *Pulse) Bounces() int              { return p.bounces }
func (p *Pulse) MaxBounces() int           { return p.maxBounces }
func (p *Pulse) Lifetime() float64         { return p.lifetime }
func (p *Pulse) Radius() float64           { return p.radius }
func (p *Pulse) Reason() Reason            { return p.reason }
func (p *Pulse) Terminal() bool            { return p.reason != Alive }
