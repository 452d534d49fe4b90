package main

import (
	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/storage"
)

// initRecorder creates the configured backend. Any failure degrades to a
// recorder that discards everything.
func initRecorder() *storage.Recorder {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, ZLogger)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return storage.NewRecorder(nil, Logger)
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend, recording disabled", "error", err, "type", storageCfg.Type)
		return storage.NewRecorder(nil, Logger)
	}
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return storage.NewRecorder(backend, Logger)
}
