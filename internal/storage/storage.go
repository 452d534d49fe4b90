// Package storage defines the match recorder interface and the wrapper the
// game loop uses to talk to whichever backend is configured.
package storage

import "github.com/echochamber/arena/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Match management
	StartMatch(m core.Match) error
	EndMatch() error

	// Event recording
	RecordPulse(e core.PulseEvent) error
	RecordDamage(e core.DamageEvent) error
	RecordHealth(e core.HealthEvent) error
	RecordConnection(e core.ConnectionEvent) error
}

// Exporter is an optional interface for backends that write a match file.
type Exporter interface {
	LastExportPath() string
}

// Discard is the "none" backend.
type Discard struct{}

func (Discard) Init() error                                 { return nil }
func (Discard) Close() error                                { return nil }
func (Discard) StartMatch(core.Match) error                 { return nil }
func (Discard) EndMatch() error                             { return nil }
func (Discard) RecordPulse(core.PulseEvent) error           { return nil }
func (Discard) RecordDamage(core.DamageEvent) error         { return nil }
func (Discard) RecordHealth(core.HealthEvent) error         { return nil }
func (Discard) RecordConnection(core.ConnectionEvent) error { return nil }
