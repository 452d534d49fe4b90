// Package relay is the authoritative arena server. It assigns player ids,
// fans out transforms and pulses, and applies reported damage.
package relay

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/echochamber/arena/internal/dispatcher"
	"github.com/echochamber/arena/internal/logging"
	"github.com/echochamber/arena/pkg/protocol"
)

const (
	DefaultBroadcastRate   = 100 * time.Millisecond
	DefaultMaxMessageBytes = 64 * 1024
	DefaultMessagesPerSec  = 60

	// MaxHealth is the health of a fresh or respawned player.
	MaxHealth = 100.0
)

// Config tunes the hub. Zero values take the package defaults.
type Config struct {
	BroadcastRate   time.Duration
	MaxMessageBytes int64
	MessagesPerSec  int
	Logger          zerolog.Logger

	// RespawnOffset returns a coordinate in [-5, 5). Defaults to a uniform
	// integer draw.
	RespawnOffset func() float64
}

func (c Config) withDefaults() Config {
	if c.BroadcastRate <= 0 {
		c.BroadcastRate = DefaultBroadcastRate
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MessagesPerSec <= 0 {
		c.MessagesPerSec = DefaultMessagesPerSec
	}
	if c.RespawnOffset == nil {
		c.RespawnOffset = func() float64 { return float64(rand.IntN(10) - 5) }
	}
	return c
}

type player struct {
	client *Client
	pos    protocol.Transform
	health float64
}

// membership joins and leaves share one channel so a leave can never be
// processed before its join.
type membership struct {
	client *Client
	join   bool
}

type inbound struct {
	client *Client
	data   []byte
	at     time.Time
}

// Hub owns all game state. Only the Run goroutine touches players.
type Hub struct {
	cfg  Config
	log  zerolog.Logger
	disp *dispatcher.Dispatcher

	upgrader ws.Upgrader
	members  chan membership
	inbox    chan inbound
	done     chan struct{}

	players map[string]*player
	order   []string
	sender  *player

	connected   atomic.Int64
	connections metric.Int64UpDownCounter
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(cfg Config) (*Hub, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.With().Str("component", "relay").Logger()

	h := &Hub{
		cfg: cfg,
		log: log,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		members: make(chan membership, 64),
		inbox:   make(chan inbound, 1024),
		done:    make(chan struct{}),
		players: make(map[string]*player),
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(cfg.Logger, "relay.dispatcher"))
	if err != nil {
		return nil, err
	}
	h.disp = d
	h.registerHandlers()

	h.connections, err = meter().Int64UpDownCounter("relay.connections",
		metric.WithDescription("Connected players"))
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Players returns the number of connected players.
func (h *Hub) Players() int {
	return int(h.connected.Load())
}

// ServeHTTP upgrades the request and attaches a client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	c := newClient(h, conn, remoteIP(r))
	select {
	case <-h.done:
		_ = conn.Close()
		return
	default:
	}
	select {
	case h.members <- membership{client: c, join: true}:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Run processes joins, leaves, messages and the position broadcast until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.BroadcastRate)
	defer ticker.Stop()
	defer close(h.done)

	h.log.Info().Dur("broadcastRate", h.cfg.BroadcastRate).Msg("Relay running")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case m := <-h.members:
			if m.join {
				h.join(m.client)
			} else {
				h.leave(m.client)
			}
		case m := <-h.inbox:
			h.handle(m)
		case <-ticker.C:
			h.broadcastPositions()
		}
	}
}

func (h *Hub) join(c *Client) {
	id := uuid.NewString()
	c.id = id
	p := &player{client: c, pos: protocol.SpawnTransform(), health: MaxHealth}

	c.sendMessage(protocol.Register{Type: protocol.TypeRegister, ID: id})
	for _, otherID := range h.order {
		other := h.players[otherID]
		c.sendMessage(protocol.PlayerJoined{
			Type:     protocol.TypePlayerJoined,
			ID:       otherID,
			Position: other.pos,
			Health:   other.health,
		})
	}
	h.broadcast(protocol.PlayerJoined{
		Type:     protocol.TypePlayerJoined,
		ID:       id,
		Position: p.pos,
		Health:   p.health,
	})

	h.players[id] = p
	h.order = append(h.order, id)
	h.connected.Add(1)
	h.connections.Add(context.Background(), 1)
	h.log.Info().Str("player", id).Str("addr", c.remoteAddr).Int("players", len(h.players)).Msg("Player connected")
}

func (h *Hub) leave(c *Client) {
	p, ok := h.players[c.id]
	if !ok || p.client != c {
		return
	}
	delete(h.players, c.id)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == c.id })
	c.close()
	h.connected.Add(-1)
	h.connections.Add(context.Background(), -1)

	h.broadcast(protocol.PlayerLeft{Type: protocol.TypePlayerLeft, ID: c.id})
	h.log.Info().Str("player", c.id).Int("players", len(h.players)).Msg("Player disconnected")
}

func (h *Hub) shutdown() {
	for _, id := range h.order {
		h.players[id].client.close()
	}
	h.players = make(map[string]*player)
	h.order = nil
	h.connected.Store(0)
	h.log.Info().Msg("Relay stopped")
}

func (h *Hub) handle(m inbound) {
	p, ok := h.players[m.client.id]
	if !ok || p.client != m.client {
		return
	}

	msgType, err := protocol.Peek(m.data)
	if err != nil {
		h.log.Error().Err(err).Str("player", m.client.id).Msg("Invalid JSON from player")
		return
	}

	h.sender = p
	defer func() { h.sender = nil }()

	err = h.disp.Dispatch(dispatcher.Event{Type: msgType, Payload: m.data, ReceivedAt: m.at})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrUnknownType):
		h.log.Debug().Str("type", msgType).Str("player", m.client.id).Msg("Ignoring unknown message type")
	default:
		h.log.Error().Err(err).Str("type", msgType).Str("player", m.client.id).Msg("Error processing message")
	}
}

func (h *Hub) broadcastPositions() {
	if len(h.players) == 0 {
		return
	}
	players := make(map[string]protocol.Transform, len(h.players))
	for id, p := range h.players {
		players[id] = p.pos
	}
	h.broadcast(protocol.PositionsUpdate{Type: protocol.TypePositionsUpdate, Players: players})
}

// broadcast encodes msg once and queues it for every player.
func (h *Hub) broadcast(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Encoding broadcast")
		return
	}
	for _, id := range h.order {
		h.players[id].client.sendRaw(data)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
