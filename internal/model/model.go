package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table the relational recorders migrate.
var DatabaseModels = []any{
	&Match{},
	&PulseEvent{},
	&DamageEvent{},
	&HealthEvent{},
	&ConnectionEvent{},
}

// Match is one recorded session against a relay server.
type Match struct {
	gorm.Model
	MatchUID      string     `json:"matchUid" gorm:"size:64;uniqueIndex"`
	ServerURL     string     `json:"serverUrl" gorm:"size:255"`
	LocalPlayerID string     `json:"localPlayerId" gorm:"size:64"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt"`
}

func (*Match) TableName() string {
	return "matches"
}

////////////////////////
// EVENT MODELS
////////////////////////

// PulseEvent is one lifecycle step of a sonic pulse. Trail holds the path as
// WKT LINESTRING Z for terminal kinds; Payload keeps the full event as JSON.
type PulseEvent struct {
	ID               uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time             time.Time      `json:"time" gorm:"index:idx_pulse_time"`
	MatchID          uint           `json:"matchId" gorm:"index:idx_pulse_match_id"`
	Match            Match          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	PulseID          uint64         `json:"pulseId" gorm:"index:idx_pulse_pulse_id"`
	OwnerID          string         `json:"ownerId" gorm:"size:64"`
	Remote           bool           `json:"remote"`
	Kind             string         `json:"kind" gorm:"size:16"`
	X                float64        `json:"x"`
	Y                float64        `json:"y"`
	Z                float64        `json:"z"`
	Speed            float64        `json:"speed"`
	BounceCount      int            `json:"bounceCount"`
	DamageMultiplier float64        `json:"damageMultiplier"`
	Damage           float64        `json:"damage"`
	Material         string         `json:"material" gorm:"size:16"`
	Trail            string         `json:"trail"`
	Payload          datatypes.JSON `json:"payload"`
}

func (*PulseEvent) TableName() string {
	return "pulse_events"
}

// DamageEvent is damage this client reported to the relay.
type DamageEvent struct {
	ID       uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time `json:"time" gorm:"index:idx_damage_time"`
	MatchID  uint      `json:"matchId" gorm:"index:idx_damage_match_id"`
	Match    Match     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	PulseID  uint64    `json:"pulseId"`
	SourceID string    `json:"sourceId" gorm:"size:64"`
	TargetID string    `json:"targetId" gorm:"size:64"`
	Damage   float64   `json:"damage"`
}

func (*DamageEvent) TableName() string {
	return "damage_events"
}

// HealthEvent is an authoritative health value received from the relay.
type HealthEvent struct {
	ID       uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time `json:"time" gorm:"index:idx_health_time"`
	MatchID  uint      `json:"matchId" gorm:"index:idx_health_match_id"`
	Match    Match     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	PlayerID string    `json:"playerId" gorm:"size:64"`
	Local    bool      `json:"local"`
	Health   float64   `json:"health"`
}

func (*HealthEvent) TableName() string {
	return "health_events"
}

// ConnectionEvent is a network session state transition.
type ConnectionEvent struct {
	ID      uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time    time.Time `json:"time" gorm:"index:idx_connection_time"`
	MatchID uint      `json:"matchId" gorm:"index:idx_connection_match_id"`
	Match   Match     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:MatchID;"`
	From    string    `json:"from" gorm:"size:16"`
	To      string    `json:"to" gorm:"size:16"`
	Attempt int       `json:"attempt"`
	Reason  string    `json:"reason" gorm:"size:255"`
}

func (*ConnectionEvent) TableName() string {
	return "connection_events"
}
