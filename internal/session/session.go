// Package session owns the connection to the relay server: connect and
// reconnect with backoff, inbound message routing and rate limited outbound
// publishing.
//
// All state lives on the game loop goroutine. Dials, socket reads and
// backoff timers run elsewhere but only post events to an inbox that Pump
// drains once per frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echochamber/arena/internal/dispatcher"
	"github.com/echochamber/arena/pkg/core"
	"github.com/echochamber/arena/pkg/protocol"
)

const (
	DefaultPositionInterval     = 100 * time.Millisecond
	DefaultMaxReconnectAttempts = 5
	DefaultInitialBackoff       = time.Second
	DefaultMaxBackoff           = 30 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultInboxSize            = 1024
)

// Handler receives decoded inbound messages on the loop goroutine.
type Handler interface {
	Registered(id string)
	PlayerJoined(id string, t protocol.Transform, health float64)
	PlayerLeft(id string)
	PlayerMoved(id string, t protocol.Transform)
	RemotePulse(p protocol.Pulse)
	HealthChanged(id string, health float64, self bool)
	Respawn(t protocol.Transform)
}

// StatusSink observes connection state. ConnectionFailed is called once when
// the session gives up reconnecting.
type StatusSink interface {
	StateChanged(from, to State, attempt int, reason error)
	ConnectionFailed(attempts int, lastErr error)
}

// Config holds session settings. Zero values take the package defaults.
type Config struct {
	URL                  string
	PositionInterval     time.Duration
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	InboxSize            int

	Dialer Dialer
	Clock  Clock
	Logger *slog.Logger
	Sink   StatusSink
}

func (c Config) withDefaults() Config {
	if c.PositionInterval <= 0 {
		c.PositionInterval = DefaultPositionInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = &WSDialer{Logger: c.Logger}
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

type eventKind uint8

const (
	evDialed eventKind = iota
	evMessage
	evClosed
	evRetry
)

type event struct {
	gen  uint64
	kind eventKind
	conn Conn
	data []byte
	err  error
	at   time.Time
}

// Session is a client connection to the relay. Apart from construction,
// every method must be called from the game loop goroutine.
type Session struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	disp    *dispatcher.Dispatcher

	inbox chan event
	gen   uint64

	state    State
	conn     Conn
	connStop chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	timer    Timer
	backoff  *backoff.ExponentialBackOff
	attempts int
	lastErr  error

	localID        string
	registered     bool
	lastPositionAt time.Time

	// OTEL metrics
	sent       metric.Int64Counter
	dropped    metric.Int64Counter
	received   metric.Int64Counter
	malformed  metric.Int64Counter
	reconnects metric.Int64Counter
}

// New builds a disconnected session. Uses the global OTel meter for
// metrics (no-op if not configured).
func New(cfg Config, h Handler) (*Session, error) {
	if h == nil {
		return nil, errors.New("session: nil handler")
	}
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.Reset()

	s := &Session{
		cfg:     cfg,
		handler: h,
		logger:  cfg.Logger.With("component", "session"),
		inbox:   make(chan event, cfg.InboxSize),
		backoff: b,
	}

	d, err := dispatcher.New(s.logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	s.disp = d
	s.registerHandlers()

	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) initMetrics() error {
	m := meter()
	var err error

	if s.sent, err = m.Int64Counter("session.messages.sent",
		metric.WithDescription("Outbound messages handed to the transport")); err != nil {
		return fmt.Errorf("creating sent counter: %w", err)
	}
	if s.dropped, err = m.Int64Counter("session.messages.dropped",
		metric.WithDescription("Outbound messages dropped or skipped")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if s.received, err = m.Int64Counter("session.messages.received",
		metric.WithDescription("Inbound messages received")); err != nil {
		return fmt.Errorf("creating received counter: %w", err)
	}
	if s.malformed, err = m.Int64Counter("session.messages.malformed",
		metric.WithDescription("Inbound messages that failed to decode or dispatch")); err != nil {
		return fmt.Errorf("creating malformed counter: %w", err)
	}
	if s.reconnects, err = m.Int64Counter("session.reconnect.attempts",
		metric.WithDescription("Reconnect attempts scheduled")); err != nil {
		return fmt.Errorf("creating reconnect counter: %w", err)
	}
	return nil
}

func (s *Session) State() State     { return s.state }
func (s *Session) LocalID() string  { return s.localID }
func (s *Session) Attempts() int    { return s.attempts }
func (s *Session) URL() string      { return s.cfg.URL }
func (s *Session) LastError() error { return s.lastErr }

// Connect starts connecting from Disconnected or Failed. The context bounds
// every dial and retry until Disconnect.
func (s *Session) Connect(ctx context.Context) error {
	if s.state.active() {
		return ErrAlreadyStarted
	}
	if s.cfg.URL == "" {
		return errors.New("session: empty server url")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.attempts = 0
	s.lastErr = nil
	s.backoff.Reset()
	s.dial()
	return nil
}

// Disconnect closes the connection with a normal close code and cancels any
// pending dial or reconnect. Safe to call from any state, any number of times.
func (s *Session) Disconnect() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.dropConn(CloseNormal, "client disconnect")
	s.setState(Disconnected, nil)
}

// Pump runs every event queued so far. Call it once per frame.
func (s *Session) Pump() int {
	pending := len(s.inbox)
	for i := 0; i < pending; i++ {
		s.handle(<-s.inbox)
	}
	return pending
}

func (s *Session) handle(ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session event panicked", "panic", r)
		}
	}()

	if ev.gen != s.gen {
		if ev.kind == evDialed && ev.conn != nil {
			_ = ev.conn.Close(CloseNormal, "stale")
		}
		return
	}

	switch ev.kind {
	case evDialed:
		s.onDialed(ev.conn, ev.err)
	case evMessage:
		s.onMessage(ev.data, ev.at)
	case evClosed:
		s.onClosed(ev.err)
	case evRetry:
		s.timer = nil
		if s.state == Reconnecting {
			s.dial()
		}
	}
}

// post delivers an event unless stop closes first.
func (s *Session) post(stop <-chan struct{}, ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-stop:
		return false
	}
}

func (s *Session) dial() {
	s.gen++
	gen, ctx := s.gen, s.ctx
	s.setState(Connecting, nil)

	go func() {
		conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
		if !s.post(ctx.Done(), event{gen: gen, kind: evDialed, conn: conn, err: err}) && conn != nil {
			_ = conn.Close(CloseNormal, "cancelled")
		}
	}()
}

func (s *Session) onDialed(conn Conn, err error) {
	if err != nil {
		s.logger.Warn("Connect failed", "url", s.cfg.URL, "attempt", s.attempts, "error", err)
		s.scheduleReconnect(err)
		return
	}

	s.conn = conn
	s.connStop = make(chan struct{})
	s.attempts = 0
	s.lastErr = nil
	s.backoff.Reset()
	s.localID = ""
	s.registered = false
	s.lastPositionAt = time.Time{}
	s.setState(Connected, nil)
	s.logger.Info("Connected", "url", s.cfg.URL)

	go s.readLoop(s.gen, conn, s.connStop)
}

func (s *Session) readLoop(gen uint64, conn Conn, stop <-chan struct{}) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.post(stop, event{gen: gen, kind: evClosed, err: err})
			return
		}
		if !s.post(stop, event{gen: gen, kind: evMessage, data: data, at: time.Now()}) {
			return
		}
	}
}

func (s *Session) onClosed(err error) {
	code := CloseCode(err)
	s.dropConn(CloseNormal, "")

	if code == CloseNormal {
		s.logger.Info("Server closed connection")
		s.setState(Disconnected, nil)
		return
	}
	s.logger.Warn("Connection lost", "code", code, "error", err)
	s.scheduleReconnect(err)
}

func (s *Session) scheduleReconnect(cause error) {
	s.lastErr = cause
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.setState(Failed, cause)
		s.logger.Error("Giving up reconnecting", "attempts", s.attempts, "error", cause)
		if s.cfg.Sink != nil {
			s.cfg.Sink.ConnectionFailed(s.attempts, cause)
		}
		return
	}

	s.attempts++
	delay := s.backoff.NextBackOff()
	s.reconnects.Add(context.Background(), 1)
	s.setState(Reconnecting, cause)
	s.logger.Info("Reconnecting", "attempt", s.attempts, "max", s.cfg.MaxReconnectAttempts, "backoff", delay)

	gen, stop := s.gen, s.ctx.Done()
	s.timer = s.cfg.Clock.AfterFunc(delay, func() {
		s.post(stop, event{gen: gen, kind: evRetry})
	})
}

func (s *Session) dropConn(code int, reason string) {
	if s.connStop != nil {
		close(s.connStop)
		s.connStop = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(code, reason); err != nil {
			s.logger.Debug("Closing connection", "error", err)
		}
		s.conn = nil
	}
	s.localID = ""
	s.registered = false
}

func (s *Session) setState(to State, reason error) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("Session state changed", "from", from, "to", to, "attempt", s.attempts)
	if s.cfg.Sink != nil {
		s.cfg.Sink.StateChanged(from, to, s.attempts, reason)
	}
}

// SendPosition publishes the local transform, at most once per
// PositionInterval. Calls inside the interval are skipped, not queued.
func (s *Session) SendPosition(pos core.Vec3, rot core.Rotation) bool {
	now := s.cfg.Clock.Now()
	if !s.lastPositionAt.IsZero() && now.Sub(s.lastPositionAt) < s.cfg.PositionInterval {
		return false
	}
	msg := protocol.Position{Type: protocol.TypePosition, Transform: protocol.NewTransform(pos, rot)}
	if !s.send(protocol.TypePosition, msg) {
		return false
	}
	s.lastPositionAt = now
	return true
}

// SendPulse announces a locally fired pulse. Sent once, never retried.
func (s *Session) SendPulse(p protocol.Pulse) bool {
	p.ID, p.PlayerID = "", ""
	return s.send(protocol.TypePulse, protocol.PulseFired{Type: protocol.TypePulse, Pulse: p})
}

// SendDamage reports damage dealt to another player. Sent once, never retried.
func (s *Session) SendDamage(targetID string, damage float64) bool {
	return s.send(protocol.TypeDamage, protocol.Damage{Type: protocol.TypeDamage, TargetID: targetID, Damage: damage})
}

func (s *Session) send(msgType string, msg any) bool {
	typeAttr := metric.WithAttributes(attribute.String("type", msgType))

	if s.state != Connected || s.conn == nil || s.localID == "" {
		s.dropped.Add(context.Background(), 1, typeAttr)
		return false
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("Encoding outbound message", "type", msgType, "error", err)
		s.dropped.Add(context.Background(), 1, typeAttr)
		return false
	}
	if err := s.conn.WriteMessage(data); err != nil {
		s.logger.Warn("Dropping outbound message", "type", msgType, "error", err)
		s.dropped.Add(context.Background(), 1, typeAttr)
		return false
	}
	s.sent.Add(context.Background(), 1, typeAttr)
	return true
}
