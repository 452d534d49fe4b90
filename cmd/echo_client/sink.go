package main

import (
	"log/slog"

	"github.com/echochamber/arena/internal/game"
	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/pkg/core"
)

// logSink reports what a renderer would draw. Per-frame movement is left out.
type logSink struct {
	game.NopSink
	logger *slog.Logger
}

func (s *logSink) RemoteJoined(id string) {
	s.logger.Info("Player joined", "remote", id)
}

func (s *logSink) RemoteLeft(id string) {
	s.logger.Info("Player left", "remote", id)
}

func (s *logSink) PulseBounced(p *pulse.Pulse, hit pulse.Hit) {
	s.logger.Debug("Pulse bounced",
		"pulse", p.ID(),
		"material", hit.Material.String(),
		"bounces", p.Bounces(),
		"multiplier", p.DamageMultiplier())
}

func (s *logSink) PulseRemoved(p *pulse.Pulse) {
	s.logger.Debug("Pulse removed", "pulse", p.ID(), "owner", p.OwnerID(), "reason", p.Reason())
}

func (s *logSink) LocalHealthChanged(health float64) {
	s.logger.Info("Health changed", "health", health)
}

func (s *logSink) LocalRespawned(pos core.Vec3) {
	s.logger.Info("Respawned", "x", pos.X, "y", pos.Y, "z", pos.Z)
}

func (s *logSink) ConnectionChanged(from, to session.State) {
	connState.Store(to.String())
	s.logger.Info("Connection state changed", "from", from.String(), "to", to.String())
}

func (s *logSink) ConnectionFailed(attempts int, err error) {
	s.logger.Error("Connection failed, giving up", "attempts", attempts, "error", err)
}
