// Package postgres records matches into Postgres through the GORM backend.
package postgres

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/database"
	gormstorage "github.com/echochamber/arena/internal/storage/gorm"
)

// Backend is the GORM backend bound to a Postgres connection opened on Init.
type Backend struct {
	*gormstorage.Backend
	cfg config.PostgresConfig
}

// New creates a Postgres backend. No connection is made until Init.
func New(cfg config.PostgresConfig, log zerolog.Logger) *Backend {
	log = log.With().Str("backend", "postgres").Logger()
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			Open:   func() (*gorm.DB, error) { return database.OpenPostgres(cfg, log) },
			Logger: log,
		}),
		cfg: cfg,
	}
}

// Config returns the connection settings.
func (b *Backend) Config() config.PostgresConfig {
	return b.cfg
}
