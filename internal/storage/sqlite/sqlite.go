// Package sqlitestorage records matches into an in-memory SQLite database
// that is periodically dumped to disk with VACUUM INTO. Everything else is
// delegated to the GORM backend.
package sqlitestorage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/database"
	gormstorage "github.com/echochamber/arena/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg      config.SQLiteConfig
	log      zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a SQLite backend. cfg.Path is the dump target; when empty the
// database lives only in memory.
func New(cfg config.SQLiteConfig, log zerolog.Logger) *Backend {
	log = log.With().Str("backend", "sqlite").Logger()
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			Open:   func() (*gorm.DB, error) { return database.OpenSQLite("", log) },
			Logger: log,
		}),
		cfg: cfg,
		log: log,
	}
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.Path != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// EndMatch finalizes the match and writes a dump so the file is complete.
func (b *Backend) EndMatch() error {
	if err := b.Backend.EndMatch(); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump goroutine, closes the GORM backend and writes a
// final dump.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.Dump()
}

// Dump writes the database to cfg.Path. It is a no-op without a path.
func (b *Backend) Dump() error {
	if b.cfg.Path == "" || b.DB() == nil {
		return nil
	}
	if err := b.Backend.Flush(); err != nil {
		b.log.Warn().Err(err).Msg("Flush before dump failed")
	}
	took, err := database.DumpToDisk(b.DB(), b.cfg.Path)
	if err != nil {
		return fmt.Errorf("sqlite dump: %w", err)
	}
	b.log.Debug().Dur("duration", took).Str("path", b.cfg.Path).Msg("Dumped to disk")
	return nil
}

func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}
