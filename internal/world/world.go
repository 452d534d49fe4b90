// Package world holds the static arena geometry and answers collision
// queries for players and pulses.
package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/echochamber/arena/internal/material"
	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/pkg/core"
)

// ErrEmptyWall is returned for walls with a non-positive extent.
var ErrEmptyWall = errors.New("wall has no volume")

// Wall is an axis-aligned box made of a single material.
type Wall struct {
	Name     string
	Center   core.Vec3
	Size     core.Vec3
	Material material.Material
}

// Bounds returns the min and max corners of the box.
func (w Wall) Bounds() (core.Vec3, core.Vec3) {
	half := w.Size.Scale(0.5)
	return w.Center.Sub(half), w.Center.Add(half)
}

// WallConfig is the configuration form of a Wall.
type WallConfig struct {
	Name     string    `mapstructure:"name" json:"name"`
	Center   core.Vec3 `mapstructure:"center" json:"center"`
	Size     core.Vec3 `mapstructure:"size" json:"size"`
	Material string    `mapstructure:"material" json:"material"`
}

// World is immutable after construction and safe for concurrent reads.
type World struct {
	walls []Wall
}

// New validates walls and builds a World.
func New(walls []Wall) (*World, error) {
	for i, w := range walls {
		if !(w.Size.X > 0 && w.Size.Y > 0 && w.Size.Z > 0) || !w.Center.IsFinite() {
			return nil, fmt.Errorf("wall %d (%s): %w", i, w.Name, ErrEmptyWall)
		}
		if !w.Material.Valid() {
			return nil, fmt.Errorf("wall %d (%s): invalid material %d", i, w.Name, w.Material)
		}
	}
	return &World{walls: append([]Wall(nil), walls...)}, nil
}

// FromConfig parses material names and builds a World.
func FromConfig(cfgs []WallConfig) (*World, error) {
	walls := make([]Wall, 0, len(cfgs))
	for i, c := range cfgs {
		m, err := material.Parse(c.Material)
		if err != nil {
			return nil, fmt.Errorf("wall %d (%s): %w", i, c.Name, err)
		}
		walls = append(walls, Wall{Name: c.Name, Center: c.Center, Size: c.Size, Material: m})
	}
	return New(walls)
}

// Walls returns a copy of the wall list.
func (w *World) Walls() []Wall {
	return append([]Wall(nil), w.walls...)
}

// CheckCollision reports whether a sphere touches any wall.
func (w *World) CheckCollision(point core.Vec3, radius float64) bool {
	for _, wall := range w.walls {
		lo, hi := wall.Bounds()
		closest := core.Vec3{
			X: clamp(point.X, lo.X, hi.X),
			Y: clamp(point.Y, lo.Y, hi.Y),
			Z: clamp(point.Z, lo.Z, hi.Z),
		}
		if closest.Sub(point).LenSq() <= radius*radius {
			return true
		}
	}
	return false
}

// CheckPulseCollision casts a ray of length 2*radius from pos along dir and
// returns the nearest wall face it crosses. A pulse already inside a wall hits
// the closest face only while moving into it.
func (w *World) CheckPulseCollision(pos, dir core.Vec3, radius float64) (pulse.Hit, bool, error) {
	d, ok := dir.Normalize()
	if !ok {
		return pulse.Hit{}, false, fmt.Errorf("pulse direction %v: %w", dir, pulse.ErrDegenerateDirection)
	}
	if !pos.IsFinite() {
		return pulse.Hit{}, false, fmt.Errorf("pulse position %v is not finite", pos)
	}

	maxDist := 2 * radius
	best := math.Inf(1)
	var hit pulse.Hit
	for _, wall := range w.walls {
		t, normal, ok := raycast(wall, pos, d, maxDist)
		if !ok || t >= best {
			continue
		}
		best = t
		hit = pulse.Hit{Point: pos.Add(d.Scale(t)), Normal: normal, Material: wall.Material}
	}
	return hit, !math.IsInf(best, 1), nil
}

func raycast(wall Wall, origin, dir core.Vec3, maxDist float64) (float64, core.Vec3, bool) {
	lo, hi := wall.Bounds()
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	bmin := [3]float64{lo.X, lo.Y, lo.Z}
	bmax := [3]float64{hi.X, hi.Y, hi.Z}

	tNear, tFar := math.Inf(-1), math.Inf(1)
	axis := -1
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < core.Epsilon {
			if o[i] < bmin[i] || o[i] > bmax[i] {
				return 0, core.Vec3{}, false
			}
			continue
		}
		t1 := (bmin[i] - o[i]) / d[i]
		t2 := (bmax[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tNear {
			tNear, axis = t1, i
		}
		if t2 < tFar {
			tFar = t2
		}
		if tNear > tFar || tFar < 0 {
			return 0, core.Vec3{}, false
		}
	}

	if tNear < 0 {
		n := nearestFace(o, bmin, bmax)
		if dir.Dot(n) >= 0 {
			return 0, core.Vec3{}, false
		}
		return 0, n, true
	}
	if tNear > maxDist || axis < 0 {
		return 0, core.Vec3{}, false
	}

	var n [3]float64
	n[axis] = -math.Copysign(1, d[axis])
	return tNear, core.Vec3{X: n[0], Y: n[1], Z: n[2]}, true
}

// nearestFace returns the outward normal of the box face closest to o.
func nearestFace(o, bmin, bmax [3]float64) core.Vec3 {
	best := math.Inf(1)
	var n [3]float64
	for i := 0; i < 3; i++ {
		if d := o[i] - bmin[i]; d < best {
			best = d
			n = [3]float64{}
			n[i] = -1
		}
		if d := bmax[i] - o[i]; d < best {
			best = d
			n = [3]float64{}
			n[i] = 1
		}
	}
	return core.Vec3{X: n[0], Y: n[1], Z: n[2]}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
