// pkg/core/events.go
package core

import (
	"time"
)

// Match describes one recorded play session against a relay server.
type Match struct {
	ID            string
	ServerURL     string
	LocalPlayerID string
	StartedAt     time.Time
	EndedAt       time.Time
}

// PulseEventKind identifies a point in a pulse's lifecycle.
type PulseEventKind string

const (
	PulseFired     PulseEventKind = "fired"
	PulseBounced   PulseEventKind = "bounced"
	PulseExpired   PulseEventKind = "expired"
	PulseExhausted PulseEventKind = "exhausted"
	PulseScored    PulseEventKind = "scored"
)

// PulseEvent records a fired, bounced or destroyed sonic pulse.
// Trail is only populated for terminal kinds.
type PulseEvent struct {
	Time             time.Time
	PulseID          uint64
	OwnerID          string
	Remote           bool // created from a new_pulse message
	Kind             PulseEventKind
	Position         Vec3
	Direction        Vec3
	Speed            float64
	BounceCount      int
	DamageMultiplier float64
	Damage           float64
	Material         string
	Trail            []Vec3
}

// DamageEvent records damage reported to the server by this client.
type DamageEvent struct {
	Time     time.Time
	PulseID  uint64
	SourceID string
	TargetID string
	Damage   float64
}

// HealthEvent records an authoritative health change.
type HealthEvent struct {
	Time     time.Time
	PlayerID string
	Local    bool
	Health   float64
}

// ConnectionEvent records a network session state transition.
type ConnectionEvent struct {
	Time    time.Time
	From    string
	To      string
	Attempt int
	Reason  string
}
