// Package database opens and prepares the GORM connections used by the
// storage backends.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SchemaVersion is stored in service_infos after migration.
const SchemaVersion = 1

// MemoryDSN is the shared-cache in-memory SQLite database.
const MemoryDSN = "file::memory:?cache=shared"

// PostgresDSN builds the connection string for cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)
}

// OpenPostgres returns a connection to the Postgres database.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite returns a connection to a SQLite database.
// If path is empty, uses the shared in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = MemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// Migrate creates or updates the schema and records the schema version.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	var info model.ServiceInfo
	err := db.Where(model.ServiceInfo{Name: "posecontrol"}).
		Attrs(model.ServiceInfo{SchemaVersion: SchemaVersion}).
		FirstOrCreate(&info).Error
	if err != nil {
		return fmt.Errorf("failed to create service_info entry: %w", err)
	}
	return nil
}

// DumpToDisk vacuums db into a file at path, replacing any existing file.
func DumpToDisk(db *gorm.DB, path string) error {
	if path == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	// remove existing file if it exists
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	escaped := strings.ReplaceAll(path, "'", "''")
	if err := db.Exec("VACUUM INTO 'file:" + escaped + "';").Error; err != nil {
		return fmt.Errorf("error dumping DB to disk: %w", err)
	}
	return nil
}

// BackupPaths returns paths to all .db files in dir.
func BackupPaths(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dbPaths []string
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".db" {
			dbPaths = append(dbPaths, filepath.Join(dir, file.Name()))
		}
	}
	return dbPaths, nil
}
