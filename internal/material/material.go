// Package material holds the fixed table of arena surface materials and the
// coefficients a bouncing pulse picks up from them.
package material

import (
	"fmt"
	"strings"
)

// Material identifies a collidable surface type.
type Material uint8

const (
	// None means the collision carried no material.
	None Material = iota
	Metal
	Glass
	Soft
)

// DefaultAmplification is applied to a bounce that reports no material.
const DefaultAmplification = 1.5

type properties struct {
	name          string
	amplification float64
	absorption    float64
	breakable     bool
	speedFactor   float64
}

var table = [...]properties{
	None:  {name: "none", amplification: DefaultAmplification, speedFactor: 1},
	Metal: {name: "metal", amplification: 1.3, absorption: 0.1, speedFactor: 1.1},
	Glass: {name: "glass", amplification: 2.0, absorption: 0.3, breakable: true, speedFactor: 1.3},
	Soft:  {name: "soft", amplification: 0.5, absorption: 0.8, speedFactor: 0.8},
}

// All lists the concrete materials in declaration order.
func All() []Material {
	return []Material{Metal, Glass, Soft}
}

// Valid reports whether m is one of the known values, None included.
func (m Material) Valid() bool {
	return int(m) < len(table)
}

func (m Material) props() properties {
	if !m.Valid() {
		return table[None]
	}
	return table[m]
}

// Amplification is the factor multiplied into a pulse's damage multiplier when
// it bounces off this material. None yields DefaultAmplification.
func (m Material) Amplification() float64 {
	return m.props().amplification
}

// Absorption is cosmetic and never affects damage.
func (m Material) Absorption() float64 {
	return m.props().absorption
}

// Breakable is true for glass only. No destruction state is tracked.
func (m Material) Breakable() bool {
	return m.props().breakable
}

// SpeedFactor scales pulse speed on bounce.
func (m Material) SpeedFactor() float64 {
	return m.props().speedFactor
}

func (m Material) String() string {
	if !m.Valid() {
		return fmt.Sprintf("material(%d)", uint8(m))
	}
	return table[m].name
}

// Parse maps a material name to its value. The empty string parses as None.
func Parse(s string) (Material, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return None, nil
	}
	for i, p := range table {
		if p.name == name {
			return Material(i), nil
		}
	}
	return None, fmt.Errorf("unknown material %q", s)
}

func (m Material) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid material %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Material) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
