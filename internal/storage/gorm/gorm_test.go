package gormstorage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dinorun/posecontrol/internal/database"
	"github.com/dinorun/posecontrol/internal/model"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 2, 18, 30, 0, 0, time.UTC)

// newTestBackend creates a Backend on a temporary SQLite file. The writer
// interval is long so tests control flushing.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "gorm.db"))
	require.NoError(t, err)

	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startSession(t *testing.T, b *Backend, id string) {
	t.Helper()
	require.NoError(t, b.StartSession(&core.Session{ID: id, StartedAt: t0, Mode: "shoulders", ThresholdPx: 50, DelayMs: 3000}))
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInitClose(t *testing.T) {
	b := newTestBackend(t)
	require.NotNil(t, b.DB())

	assert.True(t, b.DB().Migrator().HasTable(&model.GestureEvent{}))
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close(), "close is idempotent")
}

func TestRecordGesture_QueuesUntilFlush(t *testing.T) {
	b := newTestBackend(t)
	startSession(t, b, "s1")

	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Time: t0, Gesture: core.Jump, FrameSeq: 4}))
	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Time: t0, Gesture: core.Neutral, Previous: core.Jump}))
	assert.Equal(t, 2, b.Pending())

	var count int64
	b.DB().Model(&model.GestureEvent{}).Count(&count)
	assert.Equal(t, int64(0), count)

	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())

	b.DB().Model(&model.GestureEvent{}).Count(&count)
	assert.Equal(t, int64(2), count)

	var rows []model.GestureEvent
	require.NoError(t, b.DB().Order("id").Find(&rows).Error)
	assert.Equal(t, "jump", rows[0].Gesture)
	assert.Equal(t, uint64(4), rows[0].FrameSeq)
	assert.Equal(t, "jump", rows[1].Previous)
}

func TestCloseFlushesQueue(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	startSession(t, b, "s1")

	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: core.Crouch}))
	require.NoError(t, b.Close())

	var count int64
	db.Model(&model.GestureEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestWriterLoopFlushes(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "loop.db"))
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()
	startSession(t, b, "s1")

	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: core.Jump}))

	assert.Eventually(t, func() bool { return b.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEndSession(t *testing.T) {
	b := newTestBackend(t)
	startSession(t, b, "s1")
	require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: core.Jump}))

	require.NoError(t, b.EndSession("s1", t0.Add(time.Minute)))
	assert.Equal(t, 0, b.Pending(), "end session flushes")

	var sess model.Session
	require.NoError(t, b.DB().First(&sess, "id = ?", "s1").Error)
	require.NotNil(t, sess.EndedAt)
	assert.True(t, sess.EndedAt.Equal(t0.Add(time.Minute)))

	err := b.EndSession("missing", t0)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestRecordScoreAndHighScore(t *testing.T) {
	b := newTestBackend(t)

	_, ok, err := b.HighScore()
	require.NoError(t, err)
	assert.False(t, ok)

	zero := &core.Score{SessionID: "s1", Time: t0, Value: 0}
	require.NoError(t, b.RecordScore(zero))
	_, ok, err = b.HighScore()
	require.NoError(t, err)
	assert.False(t, ok, "zero is not a high score")

	for _, v := range []uint{100, 640, 320} {
		s := &core.Score{SessionID: "s1", Time: t0, Value: v}
		require.NoError(t, b.RecordScore(s))
		assert.NotZero(t, s.ID)
	}

	best, ok, err := b.HighScore()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(640), best.Value)
}

func TestLoadSession(t *testing.T) {
	b := newTestBackend(t)
	startSession(t, b, "s1")

	require.NoError(t, b.RecordCalibration(&core.Baseline{
		SessionID: "s1", ReferenceY: 300, CapturedAt: t0.Add(3 * time.Second),
		Keypoints: []core.Keypoint{{Index: core.LeftShoulder, Part: "leftShoulder", Y: 300}},
	}))
	for _, g := range []core.Gesture{core.Jump, core.Neutral, core.Jump} {
		require.NoError(t, b.RecordGesture(&core.GestureEvent{SessionID: "s1", Time: t0, Gesture: g}))
	}
	require.NoError(t, b.RecordScore(&core.Score{SessionID: "s1", Time: t0, Value: 42}))

	sum, err := b.LoadSession("s1")
	require.NoError(t, err)

	assert.Equal(t, "s1", sum.Session.ID)
	assert.Equal(t, "shoulders", sum.Session.Mode)
	require.Len(t, sum.Calibrations, 1)
	assert.Equal(t, 300.0, sum.Calibrations[0].ReferenceY)
	require.Len(t, sum.Calibrations[0].Keypoints, 1)
	assert.Equal(t, 2, sum.Transitions["jump"])
	assert.Equal(t, 1, sum.Transitions["neutral"])
	assert.Equal(t, uint(42), sum.BestScore)
	assert.Equal(t, 1, sum.Scores)

	_, err = b.LoadSession("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
