// Package game composes the session, reconciliation registry, pulses and
// recorder into a single-threaded frame loop.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/echochamber/arena/internal/pulse"
	"github.com/echochamber/arena/internal/reconcile"
	"github.com/echochamber/arena/internal/session"
	"github.com/echochamber/arena/internal/storage"
	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

// DefaultFrameInterval is the headless tick rate.
const DefaultFrameInterval = time.Second / 60

// Config wires a Game. Session.Sink is overwritten; the game observes the
// session itself.
type Config struct {
	Session   session.Config
	Reconcile reconcile.Options
	// Pulse is the template for every pulse. Position, direction and
	// identity fields are ignored.
	Pulse    pulse.Params
	Oracle   pulse.Oracle
	Recorder *storage.Recorder
	Sink     Sink
	// Controller drives the local player. It runs on the loop goroutine
	// before every Run tick.
	Controller Controller
	Logger     *slog.Logger
	Now        func() time.Time
}

// Controller supplies local input: movement and firing.
type Controller interface {
	Update(g *Game, dt float64)
}

// ControllerFunc adapts a function to Controller.
type ControllerFunc func(g *Game, dt float64)

func (f ControllerFunc) Update(g *Game, dt float64) { f(g, dt) }

// Game owns all simulation state. Every method must be called from the loop
// goroutine.
type Game struct {
	logger   *slog.Logger
	session  *session.Session
	registry *reconcile.Registry
	oracle   pulse.Oracle
	recorder *storage.Recorder
	sink     Sink
	control  Controller
	now      func() time.Time
	params   pulse.Params

	player  Player
	localID string
	pulses  []*pulse.Pulse
	nextID  uint64
	matchID string
	frames  uint64
}

// New builds a game with a disconnected session.
func New(cfg Config) (*Game, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = storage.NewRecorder(nil, cfg.Logger)
	}
	if cfg.Reconcile.LerpFactor == 0 {
		cfg.Reconcile.LerpFactor = reconcile.DefaultLerpFactor
	}
	if cfg.Pulse.Logger == nil {
		cfg.Pulse.Logger = cfg.Logger
	}

	g := &Game{
		logger:   cfg.Logger.With("component", "game"),
		registry: reconcile.NewRegistry(cfg.Reconcile),
		oracle:   cfg.Oracle,
		recorder: cfg.Recorder,
		sink:     cfg.Sink,
		control:  cfg.Controller,
		now:      cfg.Now,
		params:   cfg.Pulse,
		player:   newPlayer(),
	}

	cfg.Session.Sink = g
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	s, err := session.New(cfg.Session, g)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	g.session = s
	return g, nil
}

func (g *Game) Session() *session.Session     { return g.session }
func (g *Game) Registry() *reconcile.Registry { return g.registry }
func (g *Game) Player() Player                { return g.player }
func (g *Game) LocalID() string               { return g.localID }
func (g *Game) Frames() uint64                { return g.frames }
func (g *Game) MatchID() string               { return g.matchID }
func (g *Game) Pulses() []*pulse.Pulse        { return append([]*pulse.Pulse(nil), g.pulses...) }
func (g *Game) Recorder() *storage.Recorder   { return g.recorder }

// Connect starts the session. The game keeps running offline if it fails.
func (g *Game) Connect(ctx context.Context) error {
	return g.session.Connect(ctx)
}

// Close disconnects and finishes the recording.
func (g *Game) Close() error {
	g.session.Disconnect()
	return g.recorder.Close()
}

// Move sets the local player's transform from input.
func (g *Game) Move(pos core.Vec3, rot core.Rotation) {
	g.player.Position = pos
	g.player.Rotation = rot
}

// Tick advances one frame. Nothing raised inside a tick escapes it.
func (g *Game) Tick(dt float64) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Tick panicked", "frame", g.frames, "panic", r)
		}
	}()
	g.frames++

	g.session.Pump()
	g.session.SendPosition(g.player.Position, g.player.Rotation)

	g.registry.Tick(dt)
	g.registry.Each(g.sink.RemoteMoved)

	g.tickPulses(dt)
}

func (g *Game) update(dt float64) {
	if g.control == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Controller panicked", "frame", g.frames, "panic", r)
		}
	}()
	g.control.Update(g, dt)
}

func (g *Game) tickPulses(dt float64) {
	live := make([]*pulse.Pulse, 0, len(g.pulses))
	for _, p := range g.pulses {
		if g.stepPulse(p, dt) {
			live = append(live, p)
		}
	}
	g.pulses = live
}

// stepPulse advances one pulse and reports whether it stays in flight.
// A panic in a sink callback is contained to the pulse that raised it.
func (g *Game) stepPulse(p *pulse.Pulse, dt float64) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Pulse step panicked", "frame", g.frames, "pulse", p.ID(), "panic", r)
			keep = !p.Terminal()
		}
	}()

	res := p.Tick(dt, g.oracle)
	if res.Bounced {
		g.recordPulse(p, core.PulseBounced, res.Hit.Material.String())
		g.sink.PulseBounced(p, res.Hit)
	}
	if !p.Terminal() {
		g.collide(p)
	}
	if p.Terminal() {
		g.finish(p)
		return false
	}
	return true
}

func (g *Game) collide(p *pulse.Pulse) {
	if p.Remote() {
		if g.player.Alive() && g.player.hitBy(p.Position(), p.Radius()) {
			p.Score()
			g.player.takeDamage(p.Damage())
			g.recordHealth(g.localID, g.player.Health, true)
			g.sink.LocalHealthChanged(g.player.Health)
			return
		}
		if id, ok := g.registry.HitTest(p.Position(), p.Radius()); ok && id != p.OwnerID() {
			p.Score()
		}
		return
	}

	id, ok := g.registry.HitTest(p.Position(), p.Radius())
	if !ok {
		return
	}
	p.Score()
	dmg := p.Damage()
	if !g.session.SendDamage(id, dmg) {
		g.logger.Debug("Damage report dropped", "target", id, "damage", dmg)
	}
	g.recorder.Damage(core.DamageEvent{
		Time:     g.now().UTC(),
		PulseID:  p.ID(),
		SourceID: g.localID,
		TargetID: id,
		Damage:   dmg,
	})
}

func (g *Game) finish(p *pulse.Pulse) {
	var kind core.PulseEventKind
	switch p.Reason() {
	case pulse.Expired:
		kind = core.PulseExpired
	case pulse.Exhausted:
		kind = core.PulseExhausted
	default:
		kind = core.PulseScored
	}
	g.recordPulse(p, kind, "")
	g.sink.PulseRemoved(p)
}

// Fire spawns a locally owned pulse at origin and announces it.
func (g *Game) Fire(origin, dir core.Vec3) (*pulse.Pulse, error) {
	params := g.params
	g.nextID++
	params.ID = g.nextID
	params.NetID = ""
	params.OwnerID = g.localID
	params.Remote = false
	params.Position = origin
	params.Direction = dir
	params.Bounces = 0

	p, err := pulse.New(params)
	if err != nil {
		return nil, fmt.Errorf("fire: %w", err)
	}
	g.add(p)

	g.session.SendPulse(protocol.Pulse{
		Position:  p.Position(),
		Direction: p.Direction(),
		Speed:     p.Speed(),
		Damage:    p.BaseDamage(),
		Bounces:   p.Bounces(),
	})
	return p, nil
}

func (g *Game) add(p *pulse.Pulse) {
	g.recordPulse(p, core.PulseFired, "")
	g.sink.PulseSpawned(p)
	if p.Terminal() {
		g.finish(p)
		return
	}
	g.pulses = append(g.pulses, p)
}

func (g *Game) recordPulse(p *pulse.Pulse, kind core.PulseEventKind, material string) {
	e := core.PulseEvent{
		Time:             g.now().UTC(),
		PulseID:          p.ID(),
		OwnerID:          p.OwnerID(),
		Remote:           p.Remote(),
		Kind:             kind,
		Position:         p.Position(),
		Direction:        p.Direction(),
		Speed:            p.Speed(),
		BounceCount:      p.Bounces(),
		DamageMultiplier: p.DamageMultiplier(),
		Damage:           p.Damage(),
		Material:         material,
	}
	if p.Terminal() {
		e.Trail = p.Trail()
	}
	g.recorder.Pulse(e)
}

func (g *Game) recordHealth(id string, health float64, local bool) {
	g.recorder.Health(core.HealthEvent{
		Time:     g.now().UTC(),
		PlayerID: id,
		Local:    local,
		Health:   health,
	})
}

// Run ticks the game every frameInterval until ctx is done.
func (g *Game) Run(ctx context.Context, frameInterval time.Duration) error {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	last := g.now()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			now := g.now()
			dt := math.Min(now.Sub(last).Seconds(), 0.25)
			last = now
			g.update(dt)
			g.Tick(dt)
		}
	}
}

// session.Handler

func (g *Game) Registered(id string) {
	g.localID = id
	if g.matchID == "" {
		g.matchID = uuid.NewString()
		g.recorder.StartMatch(core.Match{
			ID:            g.matchID,
			ServerURL:     g.session.URL(),
			LocalPlayerID: id,
			StartedAt:     g.now().UTC(),
		})
	}
	g.logger.Info("Joined arena", "id", id, "match", g.matchID)
}

func (g *Game) PlayerJoined(id string, t protocol.Transform, health float64) {
	if g.registry.Add(id, t.Position(), t.Rotation(), health) {
		g.sink.RemoteJoined(id)
	}
	g.recordHealth(id, health, false)
}

func (g *Game) PlayerLeft(id string) {
	if g.registry.Remove(id) {
		g.sink.RemoteLeft(id)
	}
}

func (g *Game) PlayerMoved(id string, t protocol.Transform) {
	if g.registry.Upsert(id, t.Position(), t.Rotation()) {
		g.sink.RemoteJoined(id)
	}
}

func (g *Game) RemotePulse(msg protocol.Pulse) {
	params := g.params
	g.nextID++
	params.ID = g.nextID
	p, err := pulse.FromRemote(msg, params)
	if err != nil {
		g.logger.Warn("Dropping invalid remote pulse", "id", msg.ID, "owner", msg.PlayerID, "error", err)
		return
	}
	g.add(p)
}

func (g *Game) HealthChanged(id string, health float64, self bool) {
	if self {
		g.player.Health = math.Max(0, math.Min(reconcile.MaxHealth, health))
		g.recordHealth(id, g.player.Health, true)
		g.sink.LocalHealthChanged(g.player.Health)
		return
	}
	if g.registry.SetHealth(id, health) {
		e, _ := g.registry.Get(id)
		g.recordHealth(id, e.Health, false)
	}
}

func (g *Game) Respawn(t protocol.Transform) {
	g.player.Position = t.Position()
	g.player.Rotation = t.Rotation()
	g.player.Health = reconcile.MaxHealth
	g.recordHealth(g.localID, g.player.Health, true)
	g.sink.LocalRespawned(g.player.Position)
	g.sink.LocalHealthChanged(g.player.Health)
}

// session.StatusSink

func (g *Game) StateChanged(from, to session.State, attempt int, reason error) {
	e := core.ConnectionEvent{
		Time:    g.now().UTC(),
		From:    from.String(),
		To:      to.String(),
		Attempt: attempt,
	}
	if reason != nil {
		e.Reason = reason.Error()
	}
	g.recorder.Connection(e)

	if from == session.Connected {
		for _, id := range g.registry.IDs() {
			g.sink.RemoteLeft(id)
		}
		g.registry.Clear()
	}
	g.sink.ConnectionChanged(from, to)
}

func (g *Game) ConnectionFailed(attempts int, err error) {
	g.logger.Warn("Playing offline", "attempts", attempts, "error", err)
	g.sink.ConnectionFailed(attempts, err)
}
