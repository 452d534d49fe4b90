package session

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echochamber/arena/internal/dispatcher"
	"github.com/echochamber/arena/pkg/protocol"
)

func (s *Session) registerHandlers() {
	s.disp.Register(protocol.TypeRegister, s.onRegister, dispatcher.Logged())
	s.disp.Register(protocol.TypePlayerJoined, s.onPlayerJoined, dispatcher.Logged())
	s.disp.Register(protocol.TypePlayerLeft, s.onPlayerLeft, dispatcher.Logged())
	s.disp.Register(protocol.TypePositionsUpdate, s.onPositionsUpdate)
	s.disp.Register(protocol.TypeNewPulse, s.onNewPulse)
	s.disp.Register(protocol.TypeHealthUpdate, s.onHealthUpdate)
	s.disp.Register(protocol.TypeRespawn, s.onRespawn, dispatcher.Logged())
}

// onMessage decodes and routes one frame. Bad frames are logged and dropped;
// the connection is left alone.
func (s *Session) onMessage(data []byte, at time.Time) {
	msgType, err := protocol.Peek(data)
	if err != nil {
		s.malformed.Add(context.Background(), 1)
		s.logger.Warn("Dropping malformed message", "error", err, "bytes", len(data))
		return
	}
	s.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msgType)))

	if err := s.disp.Dispatch(dispatcher.Event{Type: msgType, Payload: data, ReceivedAt: at}); err != nil {
		s.malformed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msgType)))
		s.logger.Warn("Dropping message", "type", msgType, "error", err)
	}
}

// onRegister accepts the first register of each connection. The relay
// issues a fresh id per connection, so an id from an earlier connection is
// replaced, but a repeated register on the same connection is ignored.
func (s *Session) onRegister(e dispatcher.Event) error {
	var msg protocol.Register
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	if msg.ID == "" {
		s.logger.Warn("Ignoring register without id")
		return nil
	}
	if s.registered {
		s.logger.Warn("Ignoring repeated register", "current", s.localID, "offered", msg.ID)
		return nil
	}
	s.localID = msg.ID
	s.registered = true
	s.logger.Info("Registered", "id", msg.ID)
	s.handler.Registered(msg.ID)
	return nil
}

func (s *Session) onPlayerJoined(e dispatcher.Event) error {
	msg := protocol.PlayerJoined{Health: 100}
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	if msg.ID == "" || msg.ID == s.localID {
		return nil
	}
	s.handler.PlayerJoined(msg.ID, msg.Position, msg.Health)
	return nil
}

func (s *Session) onPlayerLeft(e dispatcher.Event) error {
	var msg protocol.PlayerLeft
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	s.handler.PlayerLeft(msg.ID)
	return nil
}

func (s *Session) onPositionsUpdate(e dispatcher.Event) error {
	var msg protocol.PositionsUpdate
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	ids := make([]string, 0, len(msg.Players))
	for id := range msg.Players {
		if id != s.localID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.handler.PlayerMoved(id, msg.Players[id])
	}
	return nil
}

func (s *Session) onNewPulse(e dispatcher.Event) error {
	var msg protocol.NewPulse
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	if msg.Pulse.PlayerID == s.localID {
		return nil
	}
	s.handler.RemotePulse(msg.Pulse)
	return nil
}

func (s *Session) onHealthUpdate(e dispatcher.Event) error {
	var msg protocol.HealthUpdate
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	s.handler.HealthChanged(msg.ID, msg.Health, msg.ID != "" && msg.ID == s.localID)
	return nil
}

func (s *Session) onRespawn(e dispatcher.Event) error {
	msg := protocol.Respawn{Position: protocol.SpawnTransform()}
	if err := protocol.Decode(e.Type, e.Payload, &msg); err != nil {
		return err
	}
	s.handler.Respawn(msg.Position)
	return nil
}
