package sqlitestorage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dinorun/posecontrol/internal/database"
	"github.com/dinorun/posecontrol/internal/model"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = filepath.Join(t.TempDir(), "work.db")
	}
	b, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	return b
}

func TestCloseWritesFinalDump(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "sessions.db")
	b := newTestBackend(t, Config{DumpPath: dumpPath})

	require.NoError(t, b.StartSession(&core.Session{ID: "s1", StartedAt: time.Now()}))
	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: core.Jump}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := os.Stat(dumpPath)
	require.NoError(t, err)

	dumped, err := database.OpenSQLite(dumpPath)
	require.NoError(t, err)
	var count int64
	dumped.Model(&model.GestureEvent{}).Count(&count)
	assert.Equal(t, int64(1), count, "queued gestures are flushed before the dump")
}

func TestDumpLoop(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "periodic.db")
	b := newTestBackend(t, Config{DumpPath: dumpPath, DumpInterval: 10 * time.Millisecond})
	defer b.Close()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(dumpPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoDumpPath(t *testing.T) {
	b := newTestBackend(t, Config{})

	s := &core.Score{SessionID: "s1", Value: 10}
	require.NoError(t, b.RecordScore(s))
	best, ok, err := b.HighScore()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(10), best.Value)

	assert.NoError(t, b.Close())
}
