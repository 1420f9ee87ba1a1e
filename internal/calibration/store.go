// Package calibration captures and holds the per-session baseline that
// gestures are measured against.
package calibration

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/pkg/core"
)

// DefaultDelay is the settling time between session start and capture.
const DefaultDelay = 3000 * time.Millisecond

var (
	// ErrStaleTimer is reported when a capture timer fires for a session that
	// has since been reset.
	ErrStaleTimer = errors.New("calibration timer fired for a stale session")
	// ErrMissingShoulders means no pose in the frame had both shoulders.
	ErrMissingShoulders = errors.New("no pose with both shoulder keypoints")
	// ErrNotPending means a capture was attempted outside PendingCapture.
	ErrNotPending = errors.New("calibration is not pending capture")
)

// FrameSource yields the most recently delivered frame.
type FrameSource interface {
	Latest() (core.PoseFrame, bool)
}

// Token identifies one calibration session. Reset invalidates it.
type Token uint64

// Option configures a Store.
type Option func(*Store)

// WithScheduler replaces the timer implementation.
func WithScheduler(s Scheduler) Option {
	return func(st *Store) { st.schedule = s }
}

// WithLogger sets the logger used for capture and stale-timer messages.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// WithRetry makes a failed delayed capture try again after interval.
// Zero disables retries.
func WithRetry(interval time.Duration) Option {
	return func(st *Store) { st.retry = interval }
}

// WithConfidenceGate requires both shoulders to score above threshold
// before they count as present.
func WithConfidenceGate(threshold float64) Option {
	return func(st *Store) {
		st.gate = true
		st.threshold = threshold
	}
}

// WithSessionID stamps captured baselines with id.
func WithSessionID(id string) Option {
	return func(st *Store) { st.sessionID = id }
}

// WithClock overrides the time source used for CapturedAt.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// Store owns the calibration state and the single baseline for a session.
// All methods are safe for concurrent use; the capture timer fires on its
// own goroutine.
type Store struct {
	src       FrameSource
	schedule  Scheduler
	logger    *slog.Logger
	now       func() time.Time
	retry     time.Duration
	gate      bool
	threshold float64
	sessionID string

	mu        sync.Mutex
	state     core.CalibrationState
	baseline  core.Baseline
	token     Token
	timer     Timer
	captureAt time.Time

	// notifyMu serializes each transition with its notifications, so
	// callbacks observe transitions in order. Callbacks must not call back
	// into StartSession, Capture, Reset or Recalibrate.
	notifyMu sync.Mutex

	cbMu         sync.RWMutex
	onCalibrated []func(core.Baseline)
	onState      []func(core.CalibrationState)
}

// New creates a Store in the Uninitialized state reading frames from src.
func New(src FrameSource, opts ...Option) *Store {
	s := &Store{
		src:      src,
		schedule: AfterFunc,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnCalibrated registers fn to run after each successful capture.
func (s *Store) OnCalibrated(fn func(core.Baseline)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onCalibrated = append(s.onCalibrated, fn)
}

// OnStateChange registers fn to run after each state transition.
func (s *Store) OnStateChange(fn func(core.CalibrationState)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onState = append(s.onState, fn)
}

// StartSession moves Uninitialized to PendingCapture and schedules a capture
// after delay. In any other state it does nothing and returns false; the
// pending timer and its capture time are left untouched.
func (s *Store) StartSession(delay time.Duration) (Token, bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.startSession(delay)
}

func (s *Store) startSession(delay time.Duration) (Token, bool) {
	s.mu.Lock()
	if s.state != core.Uninitialized {
		tok := s.token
		s.mu.Unlock()
		return tok, false
	}
	if delay < 0 {
		delay = 0
	}
	s.state = core.PendingCapture
	tok := s.token
	s.arm(tok, delay)
	s.mu.Unlock()

	s.logger.Debug("calibration scheduled", "session", s.sessionID, "delay", delay)
	s.notifyState(core.PendingCapture)
	return tok, true
}

// arm schedules the capture timer. Caller holds mu.
func (s *Store) arm(tok Token, delay time.Duration) {
	s.captureAt = s.now().Add(delay)
	s.timer = s.schedule(delay, func() { s.fire(tok) })
}

// fire runs when the capture timer expires.
func (s *Store) fire(tok Token) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if tok != s.token {
		s.mu.Unlock()
		s.logger.Warn("dropping calibration timer", "session", s.sessionID, "error", ErrStaleTimer)
		return
	}
	s.timer = nil

	var frame core.PoseFrame
	if s.src != nil {
		frame, _ = s.src.Latest()
	}

	b, err := s.captureLocked(frame)
	if err != nil {
		retrying := s.retry > 0 && errors.Is(err, ErrMissingShoulders)
		if retrying {
			s.arm(tok, s.retry)
		}
		s.mu.Unlock()
		s.logger.Info("calibration capture skipped", "session", s.sessionID, "frame", frame.Seq, "reason", err, "retry", retrying)
		return
	}
	s.mu.Unlock()

	s.committed(b)
}

// Capture attempts to take the baseline from frame. It succeeds only while
// PendingCapture and when a pose with both shoulders exists; otherwise the
// state is unchanged and no retry is scheduled.
func (s *Store) Capture(frame core.PoseFrame) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	b, err := s.captureLocked(frame)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("calibration capture skipped", "session", s.sessionID, "frame", frame.Seq, "reason", err)
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.committed(b)
	return true
}

func (s *Store) captureLocked(frame core.PoseFrame) (core.Baseline, error) {
	if s.state != core.PendingCapture {
		return core.Baseline{}, ErrNotPending
	}

	for _, pose := range frame.Poses {
		left, right, ok := pose.Shoulders()
		if !ok {
			continue
		}
		if s.gate && !(left.Trusted(s.threshold) && right.Trusted(s.threshold)) {
			continue
		}

		b := core.Baseline{
			SessionID:  s.sessionID,
			ReferenceY: (left.Y + right.Y) / 2,
			CapturedAt: s.now(),
			Keypoints:  append([]core.Keypoint(nil), pose.Keypoints...),
		}
		if nose, ok := pose.Keypoint(core.Nose); ok {
			b.NoseY = nose.Y
			b.HasNose = true
		}

		s.baseline = b
		s.state = core.Calibrated
		return b, nil
	}
	return core.Baseline{}, ErrMissingShoulders
}

func (s *Store) committed(b core.Baseline) {
	s.logger.Info("calibration captured", "session", b.SessionID, "referenceY", b.ReferenceY)
	s.notifyState(core.Calibrated)

	s.cbMu.RLock()
	fns := s.onCalibrated
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(b)
	}
}

// Baseline returns the captured baseline. ok is false unless Calibrated.
func (s *Store) Baseline() (core.Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != core.Calibrated {
		return core.Baseline{}, false
	}
	return s.baseline, true
}

// State returns the current calibration state.
func (s *Store) State() core.CalibrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current session token.
func (s *Store) Token() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// CaptureAt returns when the pending capture is due. ok is false unless
// PendingCapture with a timer armed.
func (s *Store) CaptureAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != core.PendingCapture || s.timer == nil {
		return time.Time{}, false
	}
	return s.captureAt, true
}

// Reset cancels any pending capture, invalidates the session token and
// clears the baseline.
func (s *Store) Reset() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.token++
	prev := s.state
	s.state = core.Uninitialized
	s.baseline = core.Baseline{}
	s.captureAt = time.Time{}
	s.mu.Unlock()

	if prev != core.Uninitialized {
		s.logger.Debug("calibration reset", "session", s.sessionID, "from", prev.String())
		s.notifyState(core.Uninitialized)
	}
}

// Recalibrate discards the current baseline and starts a new capture.
func (s *Store) Recalibrate(delay time.Duration) Token {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.reset()
	tok, _ := s.startSession(delay)
	return tok
}

func (s *Store) notifyState(st core.CalibrationState) {
	s.cbMu.RLock()
	fns := s.onState
	s.cbMu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}
