// Package postgres implements the storage.Backend interface using GORM/PostgreSQL
// with the queue-based gesture writer of the GORM backend.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/database"
	gormstorage "github.com/dinorun/posecontrol/internal/storage/gorm"

	"gorm.io/gorm"
)

const (
	maxOpenConns = 10
	pingTimeout  = 5 * time.Second
)

// Backend is a GORM backend bound to a Postgres connection.
type Backend struct {
	*gormstorage.Backend
	db *gorm.DB
}

// New opens the Postgres connection described by cfg and verifies it.
func New(cfg config.PostgresConfig, logger *slog.Logger) (*Backend, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(pingTimeout * 12)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	return Wrap(db, logger), nil
}

// Wrap builds a Backend around an already opened connection.
func Wrap(db *gorm.DB, logger *slog.Logger) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: db, Logger: logger}),
		db:      db,
	}
}

// Close flushes queued gestures and closes the connection pool.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func validate(cfg config.PostgresConfig) error {
	switch {
	case cfg.Host == "":
		return fmt.Errorf("postgres: host is required")
	case cfg.Database == "":
		return fmt.Errorf("postgres: database is required")
	}
	return nil
}
