// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/storage/memory"
	"github.com/dinorun/posecontrol/internal/storage/postgres"
	sqlitestorage "github.com/dinorun/posecontrol/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(cfg.Postgres, logger)
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpPath:     cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
		}, logger)
	case "memory", "":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
