// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend via composition; the only SQLite-specific concerns are
// creating the in-memory DB and the periodic disk dump.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/database"
	gormstorage "github.com/dinorun/posecontrol/internal/storage/gorm"

	"gorm.io/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
	Source       string // DSN of the working database; empty means shared in-memory
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      Config
	log      *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a new SQLite storage backend.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := database.OpenSQLite(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: logger,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		log:      logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, flushes the GORM backend, writes a final
// dump and closes the database.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		if err = b.Backend.Close(); err != nil {
			return
		}
		if b.cfg.DumpPath != "" {
			if err = b.Dump(); err != nil {
				return
			}
		}
		if sqlDB, dbErr := b.db.DB(); dbErr == nil {
			err = sqlDB.Close()
		}
	})
	return err
}

// Dump writes a point-in-time snapshot to DumpPath.
func (b *Backend) Dump() error {
	if err := b.Backend.Flush(); err != nil {
		return err
	}
	return database.DumpToDisk(b.db, b.cfg.DumpPath)
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			} else {
				b.log.Debug("Dumped to disk", "duration", time.Since(start))
			}
		}
	}
}
