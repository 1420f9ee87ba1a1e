// Package session drives one play session: it owns the calibration store, the
// latest-frame holder, the classifier and the gesture dispatcher, and runs
// the visual tick loop that turns frames into gestures.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/calibration"
	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/internal/frame"
	"github.com/dinorun/posecontrol/internal/gesture"
	"github.com/dinorun/posecontrol/internal/logging"
	"github.com/dinorun/posecontrol/internal/storage"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/google/uuid"
)

var (
	ErrStopped        = errors.New("session stopped")
	ErrAlreadyStarted = errors.New("session already started")
)

// TimeSeries receives gesture transitions and calibrations, e.g. the influx
// manager.
type TimeSeries interface {
	WriteGesture(e core.GestureEvent) error
	WriteCalibration(b core.Baseline) error
}

// Dependencies holds everything a session needs. Only Config is required.
type Dependencies struct {
	Config     config.GestureConfig
	Storage    storage.Backend
	TimeSeries TimeSeries
	Logger     *slog.Logger
	Active     *logging.ActiveSessions

	// DispatchLogger receives dispatcher diagnostics. Defaults to Logger.
	DispatchLogger dispatcher.Logger

	// Scheduler and Now replace the wall clock, for tests and replays.
	Scheduler calibration.Scheduler
	Now       func() time.Time
}

// Session is one calibration-and-play lifecycle.
type Session struct {
	deps   Dependencies
	info   core.Session
	logger *slog.Logger

	frames     *frame.Latest
	store      *calibration.Store
	classifier *gesture.Classifier
	dispatcher *dispatcher.Dispatcher

	mu      sync.Mutex
	last    core.Gesture
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	watchers sync.WaitGroup
}

// Posture is the measurement of one delivered frame against the current
// baseline. Err is set when the frame could not be measured.
type Posture struct {
	Frame   core.PoseFrame
	Reading gesture.Reading
	Err     error
	Skipped uint64
}

// New creates a session with a fresh ID. remoteAddr is recorded with the
// session for diagnostics.
func New(deps Dependencies, remoteAddr string) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config

	id := uuid.NewString()
	logger := deps.Logger.With("session", id)

	opts, err := gesture.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	classifier := gesture.New(append(opts, gesture.WithLogger(logger))...)

	var dlog dispatcher.Logger = logger
	if deps.DispatchLogger != nil {
		dlog = deps.DispatchLogger
	}
	d, err := dispatcher.New(dlog)
	if err != nil {
		return nil, err
	}

	s := &Session{
		deps:   deps,
		logger: logger,
		info: core.Session{
			ID:          id,
			RemoteAddr:  remoteAddr,
			Mode:        classifier.Mode().String(),
			ThresholdPx: cfg.ThresholdPx,
			DelayMs:     cfg.CalibrationDelay.Milliseconds(),
		},
		frames:     frame.NewLatest(),
		classifier: classifier,
		dispatcher: d,
		done:       make(chan struct{}),
	}
	if classifier.Mode() == gesture.ModeNose {
		s.info.ThresholdPx = cfg.NoseThresholdPx
	}

	storeOpts := []calibration.Option{
		calibration.WithLogger(logger),
		calibration.WithSessionID(id),
		calibration.WithClock(deps.Now),
		calibration.WithRetry(cfg.CaptureRetry),
	}
	if deps.Scheduler != nil {
		storeOpts = append(storeOpts, calibration.WithScheduler(deps.Scheduler))
	}
	if cfg.ConfidenceGating {
		storeOpts = append(storeOpts, calibration.WithConfidenceGate(cfg.ConfidenceThreshold))
	}
	s.store = calibration.New(s.frames, storeOpts...)
	s.store.OnCalibrated(s.recordCalibration)

	return s, nil
}

// ID returns the session token.
func (s *Session) ID() string { return s.info.ID }

// Info returns the session record.
func (s *Session) Info() core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Calibration returns the session's calibration store.
func (s *Session) Calibration() *calibration.Store { return s.store }

// Dispatcher returns the dispatcher receiving one event per tick.
func (s *Session) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Frames returns the latest-frame holder.
func (s *Session) Frames() *frame.Latest { return s.frames }

// Start records the session, schedules calibration and starts the tick loop
// when a tick interval is configured.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.info.StartedAt = s.deps.Now()
	info := s.info
	s.mu.Unlock()

	if s.deps.Storage != nil {
		if err := s.deps.Storage.StartSession(&info); err != nil {
			s.logger.Error("Failed to record session start", "error", err)
		}
	}
	if s.deps.Active != nil {
		s.deps.Active.Add(1)
	}

	s.store.StartSession(s.deps.Config.CalibrationDelay)

	interval := s.deps.Config.TickInterval
	if interval <= 0 {
		close(s.done)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.tickLoop(ctx, interval)

	s.logger.Info("Session started", "remote", info.RemoteAddr, "mode", info.Mode, "tick", interval)
	return nil
}

func (s *Session) tickLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// WatchPosture subscribes to delivered frames and calls fn with each frame's
// measurement on its own goroutine. Frames that arrive faster than fn runs
// are conflated. The subscription ends in Stop.
func (s *Session) WatchPosture(fn func(Posture)) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.watchers.Add(1)
	sub := s.frames.Subscribe()
	s.mu.Unlock()

	go func() {
		defer s.watchers.Done()
		defer sub.Close()
		for f := range sub.C() {
			p := s.measure(f)
			p.Skipped = sub.Skipped()
			fn(p)
		}
	}()
	return nil
}

func (s *Session) measure(f core.PoseFrame) Posture {
	var baseline *core.Baseline
	if b, ok := s.store.Baseline(); ok {
		baseline = &b
	}
	r, err := s.classifier.Measure(f, baseline)
	return Posture{Frame: f, Reading: r, Err: err}
}

// Submit delivers a pose frame. Returns false if it is older than the
// frame already held.
func (s *Session) Submit(f core.PoseFrame) bool {
	return s.frames.Submit(f)
}

// Tick classifies the most recent frame and dispatches exactly one gesture.
// The same frame is reused when nothing newer arrived. A frame older than
// the configured staleness limit counts as no pose.
func (s *Session) Tick() core.Gesture {
	now := s.deps.Now()
	f, _ := s.frames.Latest()
	if stale := s.deps.Config.FrameStale; stale > 0 && !f.ReceivedAt.IsZero() && now.Sub(f.ReceivedAt) > stale {
		f = core.PoseFrame{Seq: f.Seq}
	}

	var baseline *core.Baseline
	if b, ok := s.store.Baseline(); ok {
		baseline = &b
	}

	reading, err := s.classifier.Measure(f, baseline)
	g := reading.Gesture
	if err != nil {
		g = core.Neutral
		s.logger.Debug("classification abstained", "frame", f.Seq, "reason", err)
	}

	s.mu.Lock()
	prev := s.last
	s.last = g
	s.mu.Unlock()

	if g != prev {
		s.recordGesture(core.GestureEvent{
			SessionID: s.info.ID,
			Time:      now,
			FrameSeq:  f.Seq,
			Gesture:   g,
			Previous:  prev,
			CurrentY:  reading.CurrentY,
		})
	}

	err = s.dispatcher.Dispatch(dispatcher.Event{
		SessionID: s.info.ID,
		Gesture:   g,
		FrameSeq:  f.Seq,
		Timestamp: now,
	})
	if err != nil && !errors.Is(err, dispatcher.ErrClosed) {
		s.logger.Warn("Gesture dispatch failed", "gesture", g.String(), "error", err)
	}
	return g
}

// Last returns the gesture of the most recent tick.
func (s *Session) Last() core.Gesture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Recalibrate discards the baseline and schedules a new capture after
// delay, or after the configured delay when delay is zero.
func (s *Session) Recalibrate(delay time.Duration) calibration.Token {
	if delay <= 0 {
		delay = s.deps.Config.CalibrationDelay
	}
	s.logger.Info("Recalibration requested", "delay", delay)
	return s.store.Recalibrate(delay)
}

// RecordScore stores the final score of a run.
func (s *Session) RecordScore(value uint) (core.Score, error) {
	score := core.Score{SessionID: s.info.ID, Time: s.deps.Now(), Value: value}
	if s.deps.Storage == nil {
		return score, nil
	}
	err := s.deps.Storage.RecordScore(&score)
	return score, err
}

// Stop cancels the pending capture, stops the tick loop, releases frame
// subscriptions and handlers and records the end of the session.
// Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-s.done
	}

	s.store.Reset()
	s.frames.CloseAll()
	s.watchers.Wait()
	s.dispatcher.Close()

	if !started {
		return
	}
	end := s.deps.Now()
	s.mu.Lock()
	s.info.EndedAt = &end
	s.mu.Unlock()

	if s.deps.Storage != nil {
		if err := s.deps.Storage.EndSession(s.info.ID, end); err != nil {
			s.logger.Error("Failed to record session end", "error", err)
		}
	}
	if s.deps.Active != nil {
		s.deps.Active.Add(-1)
	}
	s.logger.Info("Session stopped")
}

func (s *Session) recordCalibration(b core.Baseline) {
	if s.deps.Storage != nil {
		if err := s.deps.Storage.RecordCalibration(&b); err != nil {
			s.logger.Error("Failed to record calibration", "error", err)
		}
	}
	if s.deps.TimeSeries != nil {
		if err := s.deps.TimeSeries.WriteCalibration(b); err != nil {
			s.logger.Warn("Failed to write calibration point", "error", err)
		}
	}
}

func (s *Session) recordGesture(e core.GestureEvent) {
	if s.deps.Storage != nil {
		if err := s.deps.Storage.RecordGesture(&e); err != nil {
			s.logger.Error("Failed to record gesture", "error", err)
		}
	}
	if s.deps.TimeSeries != nil {
		if err := s.deps.TimeSeries.WriteGesture(e); err != nil {
			s.logger.Warn("Failed to write gesture point", "error", err)
		}
	}
}
