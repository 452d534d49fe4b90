// pkg/core/vector.go
package core

import "math"

// Vec3 is a position or direction in arena space (Y is up).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// V3 is shorthand for constructing a Vec3.
func V3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) LenSq() float64 {
	return v.Dot(v)
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.LenSq())
}

// Distance returns the euclidean distance between v and o.
func (v Vec3) Distance(o Vec3) float64 {
	return v.Sub(o).Len()
}

// Normalize returns the unit vector of v. The second result is false when v has
// no usable length, in which case the zero vector is returned.
func (v Vec3) Normalize() (Vec3, bool) {
	l := v.Len()
	if l < Epsilon || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec3{}, false
	}
	inv := 1.0 / l
	return Vec3{v.X * inv, v.Y * inv, v.Z * inv}, true
}

// Lerp moves v towards target by fraction t.
func (v Vec3) Lerp(target Vec3, t float64) Vec3 {
	return Vec3{
		v.X + (target.X-v.X)*t,
		v.Y + (target.Y-v.Y)*t,
		v.Z + (target.Z-v.Z)*t,
	}
}

// Reflect mirrors v about the plane with unit normal n: v - 2(v·n)n.
func (v Vec3) Reflect(n Vec3) Vec3 {
	return v.Sub(n.Scale(2 * v.Dot(n)))
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Epsilon is the tolerance used for vector length checks.
const Epsilon = 1e-9

// Rotation is a camera orientation: pitch around X, yaw around Y (radians).
type Rotation struct {
	Pitch float64 `json:"rx"`
	Yaw   float64 `json:"ry"`
}

// Lerp moves each angle towards target by fraction t.
func (r Rotation) Lerp(target Rotation, t float64) Rotation {
	return Rotation{
		Pitch: r.Pitch + (target.Pitch-r.Pitch)*t,
		Yaw:   r.Yaw + (target.Yaw-r.Yaw)*t,
	}
}
