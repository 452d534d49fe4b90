package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echochamber/arena/pkg/core"
)

const instrumentationName = "github.com/echochamber/arena/internal/storage"

// Recorder wraps a Backend so that recording can never fail or panic into
// the game loop. Errors are logged and counted.
type Recorder struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	started bool

	failures metric.Int64Counter
}

// NewRecorder wraps backend. A nil backend records nothing.
func NewRecorder(backend Backend, logger *slog.Logger) *Recorder {
	if backend == nil {
		backend = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{backend: backend, logger: logger}
	failures, err := otel.Meter(instrumentationName).Int64Counter("recorder.failures",
		metric.WithDescription("Recorder calls that returned an error or panicked"))
	if err != nil {
		logger.Warn("failed to create recorder metrics", "error", err)
	}
	r.failures = failures
	return r
}

// Backend returns the wrapped backend.
func (r *Recorder) Backend() Backend {
	return r.backend
}

// Started reports whether a match is being recorded.
func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// StartMatch ends any open match and begins m.
func (r *Recorder) StartMatch(m core.Match) {
	r.mu.Lock()
	open := r.started
	r.mu.Unlock()
	if open {
		r.EndMatch()
	}
	if r.call("start_match", func() error { return r.backend.StartMatch(m) }) {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()
		r.logger.Info("match recording started", "match", m.ID)
	}
}

// EndMatch finishes the open match, if any.
func (r *Recorder) EndMatch() {
	r.mu.Lock()
	open := r.started
	r.started = false
	r.mu.Unlock()
	if !open {
		return
	}
	if r.call("end_match", r.backend.EndMatch) {
		if e, ok := r.backend.(Exporter); ok && e.LastExportPath() != "" {
			r.logger.Info("match exported", "path", e.LastExportPath())
		}
	}
}

func (r *Recorder) Pulse(e core.PulseEvent) {
	r.call("pulse", func() error { return r.backend.RecordPulse(e) })
}

func (r *Recorder) Damage(e core.DamageEvent) {
	r.call("damage", func() error { return r.backend.RecordDamage(e) })
}

func (r *Recorder) Health(e core.HealthEvent) {
	r.call("health", func() error { return r.backend.RecordHealth(e) })
}

func (r *Recorder) Connection(e core.ConnectionEvent) {
	r.call("connection", func() error { return r.backend.RecordConnection(e) })
}

// Close ends the open match and closes the backend.
func (r *Recorder) Close() error {
	r.EndMatch()
	var err error
	r.call("close", func() error {
		err = r.backend.Close()
		return err
	})
	return err
}

// call runs fn and reports whether it succeeded.
func (r *Recorder) call(op string, fn func() error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(op, fmt.Errorf("panic: %v", p))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		r.fail(op, err)
		return false
	}
	return true
}

func (r *Recorder) fail(op string, err error) {
	r.logger.Error("recorder call failed", "op", op, "error", err)
	if r.failures != nil {
		r.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
