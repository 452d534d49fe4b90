package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/storage/influx"
	"github.com/echochamber/arena/internal/storage/memory"
	"github.com/echochamber/arena/internal/storage/postgres"
	sqlitestorage "github.com/echochamber/arena/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration. The backend
// is not initialized.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.New(cfg.Memory, log), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, log), nil
	case "postgres":
		return postgres.New(cfg.Postgres, log), nil
	case "influx", "influxdb":
		return influx.New(cfg.Influx, log), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
