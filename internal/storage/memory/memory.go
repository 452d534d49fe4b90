// Package memory buffers a match in process and writes it to a single file
// when the match ends.
package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/queue"
	"github.com/echochamber/arena/pkg/core"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// ErrNoMatch is returned by EndMatch when no match is in progress.
var ErrNoMatch = errors.New("no match in progress")

// Backend keeps every event of the current match in memory.
type Backend struct {
	cfg config.MemoryConfig
	log zerolog.Logger

	mu     sync.Mutex
	match  *core.Match
	now    func() time.Time
	export string

	pulses      *queue.Queue[core.PulseEvent]
	damage      *queue.Queue[core.DamageEvent]
	health      *queue.Queue[core.HealthEvent]
	connections *queue.Queue[core.ConnectionEvent]
}

// New creates a memory backend.
func New(cfg config.MemoryConfig, log zerolog.Logger) *Backend {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	return &Backend{
		cfg:         cfg,
		log:         log.With().Str("backend", "memory").Logger(),
		now:         time.Now,
		pulses:      queue.New[core.PulseEvent](),
		damage:      queue.New[core.DamageEvent](),
		health:      queue.New[core.HealthEvent](),
		connections: queue.New[core.ConnectionEvent](),
	}
}

// Init validates the export format.
func (b *Backend) Init() error {
	switch b.cfg.Format {
	case FormatJSON, FormatMsgpack:
		return nil
	default:
		return fmt.Errorf("unknown memory export format: %s", b.cfg.Format)
	}
}

// Close exports a match that was never ended.
func (b *Backend) Close() error {
	b.mu.Lock()
	open := b.match != nil
	b.mu.Unlock()
	if !open {
		return nil
	}
	return b.EndMatch()
}

// StartMatch begins a new match. Events buffered before it, such as the
// connection handshake, are exported with it.
func (b *Backend) StartMatch(m core.Match) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m.StartedAt.IsZero() {
		m.StartedAt = b.now().UTC()
	}
	b.match = &m
	return nil
}

// EndMatch writes the match file and clears the buffers.
func (b *Backend) EndMatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.match == nil {
		return ErrNoMatch
	}
	if b.match.EndedAt.IsZero() {
		b.match.EndedAt = b.now().UTC()
	}

	export := b.buildExport()
	path, err := b.write(export)
	if err != nil {
		return err
	}

	b.export = path
	b.match = nil
	b.log.Info().
		Str("path", path).
		Int("pulses", len(export.Pulses)).
		Int("damage", len(export.Damage)).
		Msg("Match exported")
	return nil
}

func (b *Backend) RecordPulse(e core.PulseEvent) error {
	b.pulses.Push(e)
	return nil
}

func (b *Backend) RecordDamage(e core.DamageEvent) error {
	b.damage.Push(e)
	return nil
}

func (b *Backend) RecordHealth(e core.HealthEvent) error {
	b.health.Push(e)
	return nil
}

func (b *Backend) RecordConnection(e core.ConnectionEvent) error {
	b.connections.Push(e)
	return nil
}

// LastExportPath returns the file written by the most recent EndMatch.
func (b *Backend) LastExportPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.export
}
