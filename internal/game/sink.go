package game

import (
	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/internal/reconcile"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/pkg/core"
)

// Sink observes the game for presentation. It never influences simulation
// and is called on the loop goroutine.
type Sink interface {
	RemoteMoved(e reconcile.Entity)
	RemoteJoined(id string)
	RemoteLeft(id string)
	PulseSpawned(p *pulse.Pulse)
	PulseBounced(p *pulse.Pulse, hit pulse.Hit)
	PulseRemoved(p *pulse.Pulse)
	LocalHealthChanged(health float64)
	LocalRespawned(pos core.Vec3)
	ConnectionChanged(from, to session.State)
	ConnectionFailed(attempts int, err error)
}

// NopSink ignores everything. Embed it to observe a subset.
type NopSink struct{}

func (NopSink) RemoteMoved(reconcile.Entity)                   {}
func (NopSink) RemoteJoined(string)                            {}
func (NopSink) RemoteLeft(string)                              {}
func (NopSink) PulseSpawned(*pulse.Pulse)                      {}
func (NopSink) PulseBounced(*pulse.Pulse, pulse.Hit)           {}
func (NopSink) PulseRemoved(*pulse.Pulse)                      {}
func (NopSink) LocalHealthChanged(float64)                     {}
func (NopSink) LocalRespawned(core.Vec3)                       {}
func (NopSink) ConnectionChanged(session.State, session.State) {}
func (NopSink) ConnectionFailed(int, error)                    {}
