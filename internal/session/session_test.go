package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dinorun/posecontrol/internal/calibration"
	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/internal/logging"
	"github.com/dinorun/posecontrol/internal/storage/memory"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualScheduler) schedule(_ time.Duration, f func()) calibration.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{f: f}
	m.timers = append(m.timers, t)
	return t
}

// fireLast runs the most recently scheduled timer.
func (m *manualScheduler) fireLast() {
	m.mu.Lock()
	t := m.timers[len(m.timers)-1]
	m.mu.Unlock()
	if !t.stopped {
		t.f()
	}
}

type recordingSeries struct {
	mu       sync.Mutex
	gestures []core.GestureEvent
	cals     []core.Baseline
}

func (r *recordingSeries) WriteGesture(e core.GestureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gestures = append(r.gestures, e)
	return nil
}

func (r *recordingSeries) WriteCalibration(b core.Baseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cals = append(r.cals, b)
	return nil
}

func gestureConfig() config.GestureConfig {
	return config.GestureConfig{
		CalibrationDelay:    3 * time.Second,
		ThresholdPx:         50,
		ConfidenceThreshold: 0.3,
		Mode:                "shoulders",
		NoseThresholdPx:     70,
	}
}

func shoulderFrame(y float64) core.PoseFrame {
	return core.PoseFrame{Poses: []core.Pose{{
		Score: 0.9,
		Keypoints: []core.Keypoint{
			{Index: core.LeftShoulder, Part: "leftShoulder", X: 280, Y: y, Score: 0.9},
			{Index: core.RightShoulder, Part: "rightShoulder", X: 360, Y: y, Score: 0.9},
		},
	}}}
}

type fixture struct {
	s      *Session
	sched  *manualScheduler
	store  *memory.Backend
	series *recordingSeries
	active *logging.ActiveSessions
}

func newFixture(t *testing.T, cfg config.GestureConfig) *fixture {
	t.Helper()
	f := &fixture{
		sched:  &manualScheduler{},
		store:  memory.New(config.MemoryConfig{}),
		series: &recordingSeries{},
		active: &logging.ActiveSessions{},
	}
	s, err := New(Dependencies{
		Config:     cfg,
		Storage:    f.store,
		TimeSeries: f.series,
		Active:     f.active,
		Scheduler:  f.sched.schedule,
	}, "127.0.0.1:5000")
	require.NoError(t, err)
	f.s = s
	t.Cleanup(s.Stop)
	return f
}

func TestNew_InvalidMode(t *testing.T) {
	cfg := gestureConfig()
	cfg.Mode = "elbows"
	_, err := New(Dependencies{Config: cfg}, "")
	assert.Error(t, err)
}

func TestNew_Info(t *testing.T) {
	f := newFixture(t, gestureConfig())
	info := f.s.Info()
	assert.Len(t, info.ID, 36)
	assert.Equal(t, "127.0.0.1:5000", info.RemoteAddr)
	assert.Equal(t, "shoulders", info.Mode)
	assert.Equal(t, int64(3000), info.DelayMs)
}

func TestStart_SchedulesOnceAndRecords(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))
	assert.ErrorIs(t, f.s.Start(context.Background()), ErrAlreadyStarted)

	assert.Len(t, f.sched.timers, 1)
	assert.Equal(t, core.PendingCapture, f.s.Calibration().State())

	_, ok := f.store.Record(f.s.ID())
	assert.True(t, ok, "session recorded on start")
}

// Frames 300 (capture), then 300, 240, 240, 300, 360 against threshold 50.
func TestTick_GestureSequence(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))

	var got []core.Gesture
	f.s.Dispatcher().RegisterAll(func(e dispatcher.Event) error {
		got = append(got, e.Gesture)
		return nil
	})

	assert.Equal(t, core.Neutral, f.s.Tick(), "no frame, uncalibrated")

	f.s.Submit(shoulderFrame(300))
	f.sched.fireLast()
	require.Equal(t, core.Calibrated, f.s.Calibration().State())

	for _, y := range []float64{300, 240, 240, 300, 360} {
		f.s.Submit(shoulderFrame(y))
		f.s.Tick()
	}

	assert.Equal(t, []core.Gesture{
		core.Neutral,
		core.Neutral, core.Jump, core.Jump, core.Neutral, core.Crouch,
	}, got)

	rec, ok := f.store.Record(f.s.ID())
	require.True(t, ok)
	require.Len(t, rec.Calibrations, 1)
	assert.Equal(t, 300.0, rec.Calibrations[0].ReferenceY)

	// edges only: N->J, J->N, N->C
	require.Len(t, rec.Gestures, 3)
	assert.Equal(t, core.Jump, rec.Gestures[0].Gesture)
	assert.Equal(t, core.Neutral, rec.Gestures[0].Previous)
	assert.Equal(t, 240.0, rec.Gestures[0].CurrentY)
	assert.Equal(t, core.Crouch, rec.Gestures[2].Gesture)

	assert.Len(t, f.series.gestures, 3)
	assert.Len(t, f.series.cals, 1)
}

func TestTick_ReusesLastFrame(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))
	f.s.Submit(shoulderFrame(300))
	f.sched.fireLast()

	f.s.Submit(shoulderFrame(240))
	assert.Equal(t, core.Jump, f.s.Tick())
	assert.Equal(t, core.Jump, f.s.Tick())
	assert.Equal(t, core.Jump, f.s.Last())
}

func TestTick_StaleFrameIsNeutral(t *testing.T) {
	cfg := gestureConfig()
	cfg.FrameStale = 200 * time.Millisecond

	now := time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)
	sched := &manualScheduler{}
	s, err := New(Dependencies{
		Config:    cfg,
		Scheduler: sched.schedule,
		Now:       func() time.Time { return now },
	}, "")
	require.NoError(t, err)
	defer s.Stop()
	require.NoError(t, s.Start(context.Background()))

	s.Submit(core.PoseFrame{ReceivedAt: now, Poses: shoulderFrame(300).Poses})
	sched.fireLast()
	s.Submit(core.PoseFrame{ReceivedAt: now, Poses: shoulderFrame(240).Poses})
	assert.Equal(t, core.Jump, s.Tick())

	now = now.Add(time.Second)
	assert.Equal(t, core.Neutral, s.Tick())
}

func TestTick_EmptyCaptureStaysPending(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))

	f.s.Submit(core.PoseFrame{})
	f.sched.fireLast()
	assert.Equal(t, core.PendingCapture, f.s.Calibration().State())

	f.s.Submit(shoulderFrame(240))
	assert.Equal(t, core.Neutral, f.s.Tick())
}

func TestRecalibrate(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))
	f.s.Submit(shoulderFrame(300))
	f.sched.fireLast()

	f.s.Recalibrate(0)
	assert.Equal(t, core.PendingCapture, f.s.Calibration().State())
	require.Len(t, f.sched.timers, 2)

	f.s.Submit(shoulderFrame(200))
	assert.Equal(t, core.Neutral, f.s.Tick(), "uncalibrated while pending")

	f.sched.fireLast()
	b, ok := f.s.Calibration().Baseline()
	require.True(t, ok)
	assert.Equal(t, 200.0, b.ReferenceY)
}

func TestRecordScore(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))

	sc, err := f.s.RecordScore(128)
	require.NoError(t, err)
	assert.NotZero(t, sc.ID)

	best, ok, err := f.store.HighScore()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint(128), best.Value)
}

func TestStop_Idempotent(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))
	sub := f.s.Frames().Subscribe()

	f.s.Stop()
	f.s.Stop()

	assert.True(t, f.sched.timers[0].stopped, "pending capture cancelled")
	assert.Equal(t, core.Uninitialized, f.s.Calibration().State())
	assert.Equal(t, 0, f.s.Frames().Subscribers())
	_, open := <-sub.C()
	assert.False(t, open)

	rec, _ := f.store.Record(f.s.ID())
	assert.NotNil(t, rec.Session.EndedAt)
	assert.NotNil(t, f.s.Info().EndedAt)

	assert.ErrorIs(t, f.s.Start(context.Background()), ErrStopped)
	assert.Equal(t, core.Neutral, f.s.Tick())
}

func TestStop_WithoutStart(t *testing.T) {
	f := newFixture(t, gestureConfig())
	f.s.Stop()
	_, ok := f.store.Record(f.s.ID())
	assert.False(t, ok)
}

func TestTickLoop(t *testing.T) {
	cfg := gestureConfig()
	cfg.TickInterval = 5 * time.Millisecond
	f := newFixture(t, cfg)

	var mu sync.Mutex
	ticks := 0
	f.s.Dispatcher().RegisterAll(func(dispatcher.Event) error {
		mu.Lock()
		ticks++
		mu.Unlock()
		return nil
	})
	require.NoError(t, f.s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	f.s.Stop()
}

func TestActiveSessions(t *testing.T) {
	f := newFixture(t, gestureConfig())
	provider := f.active.Provider()

	require.NoError(t, f.s.Start(context.Background()))
	assert.Equal(t, int64(1), provider()[0].Value.Int64())
	f.s.Stop()
	assert.Equal(t, int64(0), provider()[0].Value.Int64())
}

func TestWatchPosture(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))
	f.s.Submit(shoulderFrame(300))
	f.sched.fireLast()
	require.Equal(t, core.Calibrated, f.s.Calibration().State())

	postures := make(chan Posture, 8)
	require.NoError(t, f.s.WatchPosture(func(p Posture) { postures <- p }))
	assert.Equal(t, 1, f.s.Frames().Subscribers())

	f.s.Submit(shoulderFrame(240))
	select {
	case p := <-postures:
		require.NoError(t, p.Err)
		assert.Equal(t, core.Jump, p.Reading.Gesture)
		assert.Equal(t, 240.0, p.Reading.CurrentY)
		assert.Equal(t, 300.0, p.Reading.ReferenceY)
	case <-time.After(2 * time.Second):
		t.Fatal("no posture delivered")
	}

	f.s.Stop()
	assert.Equal(t, 0, f.s.Frames().Subscribers())
	assert.ErrorIs(t, f.s.WatchPosture(func(Posture) {}), ErrStopped)
}

func TestWatchPosture_Uncalibrated(t *testing.T) {
	f := newFixture(t, gestureConfig())
	require.NoError(t, f.s.Start(context.Background()))

	postures := make(chan Posture, 8)
	require.NoError(t, f.s.WatchPosture(func(p Posture) { postures <- p }))

	f.s.Submit(shoulderFrame(300))
	select {
	case p := <-postures:
		assert.Error(t, p.Err)
		assert.Equal(t, uint64(1), p.Frame.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("no posture delivered")
	}
}
