// Package reconcile keeps per-peer presentation state, easing each remote
// player's position and rotation toward the latest server value.
package reconcile

import (
	"math"
	"slices"
	"sync"

	"github.com/echochamber/arena/pkg/core"
)

const (
	MaxHealth         = 100.0
	DefaultLerpFactor = 0.3

	// ReferenceFrame is the frame time the fixed lerp factor was tuned for.
	ReferenceFrame = 1.0 / 60

	PlayerRadius = 0.5
	PlayerHeight = 1.7
	HeadRadius   = 0.25
)

// Options tunes interpolation.
type Options struct {
	// LerpFactor is the fraction of the remaining distance covered per tick.
	LerpFactor float64
	// TimeScaled makes the factor frame-rate independent by scaling it with
	// the tick delta relative to ReferenceFrame.
	TimeScaled bool
}

// DefaultOptions returns the fixed per-tick factor of 0.3.
func DefaultOptions() Options {
	return Options{LerpFactor: DefaultLerpFactor}
}

// Entity is the presentation state of one remote player.
type Entity struct {
	ID             string
	Position       core.Vec3
	TargetPosition core.Vec3
	Rotation       core.Rotation
	TargetRotation core.Rotation
	Health         float64
}

// Registry holds remote entities keyed by peer id. Unknown ids are silent
// no-ops everywhere.
type Registry struct {
	mu       sync.RWMutex
	opts     Options
	entities map[string]*Entity
}

func NewRegistry(opts Options) *Registry {
	if !(opts.LerpFactor > 0 && opts.LerpFactor <= 1) {
		opts.LerpFactor = DefaultLerpFactor
	}
	return &Registry{
		opts:     opts,
		entities: make(map[string]*Entity),
	}
}

// Upsert sets the target transform of id. An unknown id is created already
// at the target, with full health. Reports whether the entity was created.
func (r *Registry) Upsert(id string, pos core.Vec3, rot core.Rotation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[id]; ok {
		e.TargetPosition = pos
		e.TargetRotation = rot
		return false
	}
	r.entities[id] = &Entity{
		ID:             id,
		Position:       pos,
		TargetPosition: pos,
		Rotation:       rot,
		TargetRotation: rot,
		Health:         MaxHealth,
	}
	return true
}

// Add registers a joining peer with its health. A peer that is already known
// keeps its current transform and only gets new targets and health.
func (r *Registry) Add(id string, pos core.Vec3, rot core.Rotation, health float64) bool {
	created := r.Upsert(id, pos, rot)
	r.SetHealth(id, health)
	return created
}

// Tick moves every entity toward its target by the lerp factor.
func (r *Registry) Tick(dt float64) {
	f := r.factor(dt)
	if f == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		e.Position = e.Position.Lerp(e.TargetPosition, f)
		e.Rotation = e.Rotation.Lerp(e.TargetRotation, f)
	}
}

func (r *Registry) factor(dt float64) float64 {
	if !r.opts.TimeScaled {
		return r.opts.LerpFactor
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0
	}
	return 1 - math.Pow(1-r.opts.LerpFactor, dt/ReferenceFrame)
}

// SetHealth clamps health to [0, MaxHealth]. Zero health does not remove
// the entity.
func (r *Registry) SetHealth(id string, health float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return false
	}
	e.Health = clampHealth(health)
	return true
}

func clampHealth(h float64) float64 {
	if math.IsNaN(h) {
		return 0
	}
	return math.Max(0, math.Min(MaxHealth, h))
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; !ok {
		return false
	}
	delete(r.entities, id)
	return true
}

// Get returns a copy of the entity.
func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entities[id]; ok {
		return *e, true
	}
	return Entity{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// IDs returns the known ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Each calls fn with a copy of every entity in id order.
func (r *Registry) Each(fn func(Entity)) {
	for _, id := range r.IDs() {
		if e, ok := r.Get(id); ok {
			fn(e)
		}
	}
}

// Clear drops every entity, e.g. after the connection is lost.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[string]*Entity)
}

// HitTest returns the first entity whose head sphere or body cylinder
// overlaps a sphere at pos.
func (r *Registry) HitTest(pos core.Vec3, radius float64) (string, bool) {
	for _, id := range r.IDs() {
		e, ok := r.Get(id)
		if ok && e.Hit(pos, radius) {
			return id, true
		}
	}
	return "", false
}

// Hit reports whether a sphere at pos overlaps the entity's hitbox at its
// presented position.
func (e Entity) Hit(pos core.Vec3, radius float64) bool {
	head := e.Position.Add(core.V3(0, PlayerHeight-HeadRadius, 0))
	if head.Distance(pos) < HeadRadius+radius {
		return true
	}

	bottom := e.Position.Y
	top := e.Position.Y + PlayerHeight - 2*HeadRadius
	if pos.Y < bottom || pos.Y > top {
		return false
	}
	dx, dz := pos.X-e.Position.X, pos.Z-e.Position.Z
	return math.Hypot(dx, dz) < PlayerRadius+radius
}
