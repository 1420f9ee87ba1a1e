// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/pkg/core"
)

var t0 = time.Date(2026, 4, 2, 18, 30, 0, 0, time.UTC)

func startedBackend(t *testing.T, cfg config.MemoryConfig, id string) *Backend {
	t.Helper()
	b := New(cfg)
	if err := b.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := b.StartSession(&core.Session{ID: id, StartedAt: t0, Mode: "shoulders", ThresholdPx: 50, DelayMs: 3000}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return b
}

func TestNew(t *testing.T) {
	cfg := config.MemoryConfig{
		OutputDir:      "/tmp/test",
		CompressOutput: true,
	}
	b := New(cfg)

	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.cfg.OutputDir != "/tmp/test" {
		t.Errorf("expected OutputDir=/tmp/test, got %s", b.cfg.OutputDir)
	}
	if b.sessions == nil {
		t.Error("sessions map not initialized")
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.Init(); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestStartSession_Duplicate(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	if err := b.StartSession(&core.Session{ID: "s1"}); err == nil {
		t.Error("expected error for duplicate session")
	}
	if got := b.Sessions(); len(got) != 1 || got[0] != "s1" {
		t.Errorf("unexpected sessions %v", got)
	}
}

func TestRecordGesture_AssignsIDs(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	e1 := &core.GestureEvent{SessionID: "s1", Time: t0.Add(time.Second), Gesture: core.Jump}
	e2 := &core.GestureEvent{SessionID: "s1", Time: t0.Add(2 * time.Second), Gesture: core.Neutral, Previous: core.Jump}

	if err := b.RecordGesture(e1); err != nil {
		t.Fatalf("RecordGesture failed: %v", err)
	}
	if err := b.RecordGesture(e2); err != nil {
		t.Fatalf("RecordGesture failed: %v", err)
	}

	if e1.ID != 1 || e2.ID != 2 {
		t.Errorf("expected IDs 1,2 got %d,%d", e1.ID, e2.ID)
	}

	rec, ok := b.Record("s1")
	if !ok {
		t.Fatal("record missing")
	}
	if len(rec.Gestures) != 2 {
		t.Errorf("expected 2 gestures, got %d", len(rec.Gestures))
	}
}

func TestRecord_UnknownSession(t *testing.T) {
	b := New(config.MemoryConfig{})

	if err := b.RecordGesture(&core.GestureEvent{SessionID: "nope"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := b.RecordCalibration(&core.Baseline{SessionID: "nope"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := b.EndSession("nope", t0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := b.LoadSession("nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordCalibration_CopiesKeypoints(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	bl := &core.Baseline{SessionID: "s1", ReferenceY: 300, CapturedAt: t0.Add(3 * time.Second),
		Keypoints: []core.Keypoint{{Index: core.LeftShoulder, Y: 300}}}
	if err := b.RecordCalibration(bl); err != nil {
		t.Fatalf("RecordCalibration failed: %v", err)
	}
	bl.Keypoints[0].Y = 1

	rec, _ := b.Record("s1")
	if rec.Calibrations[0].Keypoints[0].Y != 300 {
		t.Error("stored baseline shares keypoint slice with caller")
	}
}

func TestHighScore(t *testing.T) {
	b := New(config.MemoryConfig{})

	if _, ok, err := b.HighScore(); err != nil || ok {
		t.Errorf("expected no high score, got ok=%v err=%v", ok, err)
	}

	// A zero score does not count as a high score.
	if err := b.RecordScore(&core.Score{SessionID: "a", Value: 0}); err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if _, ok, _ := b.HighScore(); ok {
		t.Error("zero score must not be a high score")
	}

	for _, v := range []uint{120, 450, 300} {
		if err := b.RecordScore(&core.Score{SessionID: "a", Value: v}); err != nil {
			t.Fatalf("RecordScore failed: %v", err)
		}
	}

	best, ok, err := b.HighScore()
	if err != nil || !ok {
		t.Fatalf("expected high score, got ok=%v err=%v", ok, err)
	}
	if best.Value != 450 {
		t.Errorf("expected 450, got %d", best.Value)
	}
	if best.ID == 0 {
		t.Error("expected score ID to be assigned")
	}
}

func TestLoadSession_Summary(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	_ = b.RecordCalibration(&core.Baseline{SessionID: "s1", ReferenceY: 320, CapturedAt: t0.Add(10 * time.Second)})
	_ = b.RecordCalibration(&core.Baseline{SessionID: "s1", ReferenceY: 300, CapturedAt: t0.Add(3 * time.Second)})
	for _, g := range []core.Gesture{core.Jump, core.Neutral, core.Jump, core.Crouch} {
		_ = b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: g})
	}
	_ = b.RecordScore(&core.Score{SessionID: "s1", Value: 77})
	_ = b.RecordScore(&core.Score{SessionID: "s1", Value: 99})

	sum, err := b.LoadSession("s1")
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}

	if sum.Transitions["jump"] != 2 || sum.Transitions["crouch"] != 1 || sum.Transitions["neutral"] != 1 {
		t.Errorf("unexpected transitions %v", sum.Transitions)
	}
	if sum.BestScore != 99 || sum.Scores != 2 {
		t.Errorf("unexpected scores best=%d n=%d", sum.BestScore, sum.Scores)
	}
	if len(sum.Calibrations) != 2 || sum.Calibrations[0].ReferenceY != 300 {
		t.Errorf("calibrations not ordered by capture time: %+v", sum.Calibrations)
	}
}

func TestEndSession_NoExport(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	if err := b.EndSession("s1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	rec, _ := b.Record("s1")
	if rec.Session.EndedAt == nil || !rec.Session.EndedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("EndedAt not stamped: %v", rec.Session.EndedAt)
	}
}

func TestEndSession_ExportJSON(t *testing.T) {
	dir := t.TempDir()
	b := startedBackend(t, config.MemoryConfig{OutputDir: dir}, "s1")
	_ = b.RecordGesture(&core.GestureEvent{SessionID: "s1", Time: t0.Add(1500 * time.Millisecond), FrameSeq: 9, Gesture: core.Jump, CurrentY: 240})

	if err := b.EndSession("s1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	rec, _ := b.Record("s1")
	path := b.ExportPath(rec.Session)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}

	var export SessionExport
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("invalid export JSON: %v", err)
	}
	if export.Session.ID != "s1" {
		t.Errorf("unexpected session id %q", export.Session.ID)
	}
	if len(export.Gestures) != 1 || export.Gestures[0].OffsetMs != 1500 || export.Gestures[0].Gesture != core.Jump {
		t.Errorf("unexpected gestures %+v", export.Gestures)
	}
	if export.Calibrations == nil || export.Scores == nil {
		t.Error("empty collections should export as arrays")
	}
}

func TestEndSession_ExportGzip(t *testing.T) {
	dir := t.TempDir()
	b := startedBackend(t, config.MemoryConfig{OutputDir: dir, CompressOutput: true}, "s1")

	if err := b.EndSession("s1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	rec, _ := b.Record("s1")
	f, err := os.Open(b.ExportPath(rec.Session))
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	var export SessionExport
	if err := json.NewDecoder(gr).Decode(&export); err != nil {
		t.Fatalf("invalid gzipped JSON: %v", err)
	}
	if export.Session.EndedAt == nil {
		t.Error("expected EndedAt in export")
	}
}

func TestConcurrentRecording(t *testing.T) {
	b := startedBackend(t, config.MemoryConfig{}, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = b.RecordGesture(&core.GestureEvent{SessionID: "s1", Gesture: core.Jump})
		}()
		go func(v uint) {
			defer wg.Done()
			_ = b.RecordScore(&core.Score{SessionID: "s1", Value: v})
		}(uint(i))
	}
	wg.Wait()

	rec, _ := b.Record("s1")
	if len(rec.Gestures) != 50 || len(rec.Scores) != 50 {
		t.Errorf("expected 50/50, got %d/%d", len(rec.Gestures), len(rec.Scores))
	}
}
