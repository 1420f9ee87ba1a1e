package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host:     "db",
		Port:     "5433",
		Username: "u",
		Password: "p",
		Database: "games",
	})

	assert.Equal(t, "host=db port=5433 user=u password=p dbname=games sslmode=disable", dsn)
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	db, err := OpenSQLite(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	// Idempotent.
	require.NoError(t, Migrate(db))

	for _, m := range model.DatabaseModels {
		assert.True(t, db.Migrator().HasTable(m))
	}

	var infos []model.ServiceInfo
	require.NoError(t, db.Find(&infos).Error)
	require.Len(t, infos, 1)
	assert.Equal(t, uint(SchemaVersion), infos[0].SchemaVersion)
}

func TestDumpToDisk(t *testing.T) {
	db, err := OpenSQLite(openTestDB(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.Score{SessionID: "s1", Value: 42}).Error)

	out := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	require.NoError(t, DumpToDisk(db, out))

	dumped, err := OpenSQLite(out)
	require.NoError(t, err)
	var scores []model.Score
	require.NoError(t, dumped.Find(&scores).Error)
	require.Len(t, scores, 1)
	assert.Equal(t, uint(42), scores[0].Value)
}

func TestDumpToDisk_NoPath(t *testing.T) {
	db, err := OpenSQLite(openTestDB(t))
	require.NoError(t, err)

	assert.Error(t, DumpToDisk(db, ""))
}

func TestBackupPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.db", "b.db", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.db"), 0o755))

	paths, err := BackupPaths(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db")}, paths)

	_, err = BackupPaths(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
