package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownType is returned by Dispatch for message types without a handler.
var ErrUnknownType = errors.New("unknown message type")

// Event is one inbound protocol frame.
type Event struct {
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers. Handlers run synchronously
// on the caller's goroutine; it is not safe to Register concurrently with
// Dispatch.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	processed metric.Int64Counter
	failed    metric.Int64Counter
	unknown   metric.Int64Counter
	latency   metric.Float64Histogram
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	m := meter()

	var err error

	d.processed, err = m.Int64Counter(
		"dispatcher.messages.processed",
		metric.WithDescription("Total inbound messages handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.messages.failed",
		metric.WithDescription("Total inbound messages whose handler failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.unknown, err = m.Int64Counter(
		"dispatcher.messages.unknown",
		metric.WithDescription("Total inbound messages with no registered handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unknown counter: %w", err)
	}

	d.latency, err = m.Float64Histogram(
		"dispatcher.messages.latency",
		metric.WithDescription("Time from receipt to handler completion"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given message type with optional configuration.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.withRecover(msgType, h)

	if cfg.logged {
		handler = d.withLogging(msgType, handler)
	}

	d.handlers[msgType] = handler
}

// Dispatch routes an event to its registered handler. A panicking handler is
// reported as an error.
func (d *Dispatcher) Dispatch(e Event) error {
	typeAttr := metric.WithAttributes(attribute.String("type", e.Type))

	h, ok := d.handlers[e.Type]
	if !ok {
		d.unknown.Add(context.Background(), 1, typeAttr)
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	err := h(e)
	if !e.ReceivedAt.IsZero() {
		d.latency.Record(context.Background(), float64(time.Since(e.ReceivedAt).Microseconds())/1000, typeAttr)
	}
	if err != nil {
		d.failed.Add(context.Background(), 1, typeAttr)
		return err
	}
	d.processed.Add(context.Background(), 1, typeAttr)
	return nil
}

// HasHandler returns true if a handler is registered for the type.
func (d *Dispatcher) HasHandler(msgType string) bool {
	_, ok := d.handlers[msgType]
	return ok
}

// Types lists the registered message types in sorted order.
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func (d *Dispatcher) withRecover(msgType string, h HandlerFunc) HandlerFunc {
	return func(e Event) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler for %s panicked: %v", msgType, r)
			}
		}()
		return h(e)
	}
}

func (d *Dispatcher) withLogging(msgType string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling message", "type", msgType, "bytes", len(e.Payload))

		err := h(e)

		if err != nil {
			d.logger.Error("message failed", "type", msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "type", msgType, "duration", time.Since(start))
		}

		return err
	}
}
