// Package gormstorage implements storage.Backend on any GORM dialect with
// in-process queues drained by a background writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/echochamber/arena/internal/database"
	"github.com/echochamber/arena/internal/model"
	"github.com/echochamber/arena/internal/model/convert"
	"github.com/echochamber/arena/internal/queue"
	"github.com/echochamber/arena/pkg/core"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// MaxPending caps each event queue; the oldest rows are dropped beyond it.
const MaxPending = 100_000

// ErrNotInitialized is returned when a match is started before Init.
var ErrNotInitialized = errors.New("gorm backend not initialized")

// Dependencies holds everything the backend needs. Open is called by Init
// when DB is nil.
type Dependencies struct {
	DB            *gorm.DB
	Open          func() (*gorm.DB, error)
	Logger        zerolog.Logger
	FlushInterval time.Duration
}

type queues struct {
	Pulses      *queue.Queue[model.PulseEvent]
	Damage      *queue.Queue[model.DamageEvent]
	Health      *queue.Queue[model.HealthEvent]
	Connections *queue.Queue[model.ConnectionEvent]
}

func newQueues() *queues {
	return &queues{
		Pulses:      queue.NewBounded[model.PulseEvent](MaxPending),
		Damage:      queue.NewBounded[model.DamageEvent](MaxPending),
		Health:      queue.NewBounded[model.HealthEvent](MaxPending),
		Connections: queue.NewBounded[model.ConnectionEvent](MaxPending),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	queues  *queues
	matchID atomic.Uint64
	match   model.Match

	mu       sync.Mutex // serializes flushes
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a GORM storage backend. Record calls are accepted before Init
// and are written once a match has been started.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{deps: deps, queues: newQueues()}
}

// DB returns the underlying connection, nil before Init.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init opens the database if needed, migrates the schema and starts the
// writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		if b.deps.Open == nil {
			return ErrNotInitialized
		}
		db, err := b.deps.Open()
		if err != nil {
			return err
		}
		b.deps.DB = db
	}

	if err := database.Migrate(b.deps.DB, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.Flush()
}

// StartMatch inserts the match row; subsequent events reference it.
func (b *Backend) StartMatch(m core.Match) error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}
	row := convert.CoreToMatch(m)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	b.mu.Lock()
	b.match = row
	b.mu.Unlock()
	b.matchID.Store(uint64(row.ID))
	b.deps.Logger.Info().Str("match", m.ID).Uint("id", row.ID).Msg("Match started")
	return nil
}

// EndMatch flushes queued events and stamps the end time.
func (b *Backend) EndMatch() error {
	if b.matchID.Load() == 0 {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ended := time.Now().UTC()
	if err := b.deps.DB.Model(&b.match).Update("ended_at", ended).Error; err != nil {
		return fmt.Errorf("failed to close match: %w", err)
	}
	b.matchID.Store(0)
	return nil
}

// RecordPulse queues a pulse lifecycle event.
func (b *Backend) RecordPulse(e core.PulseEvent) error {
	b.queues.Pulses.Push(convert.CoreToPulseEvent(e))
	return nil
}

// RecordDamage queues a damage report.
func (b *Backend) RecordDamage(e core.DamageEvent) error {
	b.queues.Damage.Push(convert.CoreToDamageEvent(e))
	return nil
}

// RecordHealth queues a health update.
func (b *Backend) RecordHealth(e core.HealthEvent) error {
	b.queues.Health.Push(convert.CoreToHealthEvent(e))
	return nil
}

// RecordConnection queues a session transition.
func (b *Backend) RecordConnection(e core.ConnectionEvent) error {
	b.queues.Connections.Push(convert.CoreToConnectionEvent(e))
	return nil
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.queues.Pulses.Len() + b.queues.Damage.Len() + b.queues.Health.Len() + b.queues.Connections.Len()
}

// Flush writes every queue in one pass. Rows stay queued while no match is
// active or when a write fails.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	matchID := uint(b.matchID.Load())
	if b.deps.DB == nil || matchID == 0 {
		return nil
	}

	return errors.Join(
		writeQueue(b.deps.DB, b.queues.Pulses, "pulse events", b.deps.Logger, func(items []model.PulseEvent) {
			for i := range items {
				items[i].MatchID = matchID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Damage, "damage events", b.deps.Logger, func(items []model.DamageEvent) {
			for i := range items {
				items[i].MatchID = matchID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Health, "health events", b.deps.Logger, func(items []model.HealthEvent) {
			for i := range items {
				items[i].MatchID = matchID
			}
		}),
		writeQueue(b.deps.DB, b.queues.Connections, "connection events", b.deps.Logger, func(items []model.ConnectionEvent) {
			for i := range items {
				items[i].MatchID = matchID
			}
		}),
	)
}

// writeQueue writes all items from a queue in a transaction. On failure the
// items go back to the front of the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger, stamp func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.Drain()
	stamp(items)

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Match").Create(&items).Error
	})
	if err != nil {
		log.Error().Err(err).Str("queue", name).Int("count", len(items)).Msg("Error writing rows")
		q.Requeue(items...)
		return fmt.Errorf("write %s: %w", name, err)
	}

	log.Trace().Str("queue", name).Int("count", len(items)).Msg("Rows written")
	return nil
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush()
		}
	}
}
