// internal/storage/memory/memory.go
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/pkg/core"
)

// SessionRecord groups a session with everything recorded during it
type SessionRecord struct {
	Session      core.Session
	Calibrations []core.Baseline
	Gestures     []core.GestureEvent
	Scores       []core.Score
}

// Backend keeps all sessions in memory and optionally exports them to JSON
type Backend struct {
	cfg config.MemoryConfig

	sessions map[string]*SessionRecord
	order    []string

	gestureID uint
	scoreID   uint
	mu        sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		sessions: make(map[string]*SessionRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession registers a new session. Starting an id twice is an error.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already started", s.ID)
	}
	b.sessions[s.ID] = &SessionRecord{Session: *s}
	b.order = append(b.order, s.ID)
	return nil
}

// EndSession stamps the end time and exports the session if configured
func (b *Backend) EndSession(id string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[id]
	if !ok {
		return fmt.Errorf("end session %s: %w", id, core.ErrNotFound)
	}
	ended := at
	rec.Session.EndedAt = &ended

	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON(rec)
}

// RecordCalibration stores a captured baseline
func (b *Backend) RecordCalibration(bl *core.Baseline) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[bl.SessionID]
	if !ok {
		return fmt.Errorf("record calibration for %s: %w", bl.SessionID, core.ErrNotFound)
	}
	cp := *bl
	cp.Keypoints = append([]core.Keypoint(nil), bl.Keypoints...)
	rec.Calibrations = append(rec.Calibrations, cp)
	return nil
}

// RecordGesture stores a gesture transition and assigns its ID
func (b *Backend) RecordGesture(e *core.GestureEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[e.SessionID]
	if !ok {
		return fmt.Errorf("record gesture for %s: %w", e.SessionID, core.ErrNotFound)
	}
	b.gestureID++
	e.ID = b.gestureID
	rec.Gestures = append(rec.Gestures, *e)
	return nil
}

// RecordScore stores a score and assigns its ID. Scores without a known
// session are kept under an anonymous record.
func (b *Backend) RecordScore(s *core.Score) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[s.SessionID]
	if !ok {
		rec = &SessionRecord{Session: core.Session{ID: s.SessionID}}
		b.sessions[s.SessionID] = rec
		b.order = append(b.order, s.SessionID)
	}
	b.scoreID++
	s.ID = b.scoreID
	rec.Scores = append(rec.Scores, *s)
	return nil
}

// HighScore returns the best score across all sessions
func (b *Backend) HighScore() (core.Score, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var best core.Score
	for _, id := range b.order {
		for _, s := range b.sessions[id].Scores {
			if s.Value > best.Value {
				best = s
			}
		}
	}
	return best, best.Value > 0, nil
}

// LoadSession returns the stored history of a session
func (b *Backend) LoadSession(id string) (core.SessionSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.sessions[id]
	if !ok {
		return core.SessionSummary{}, fmt.Errorf("load session %s: %w", id, core.ErrNotFound)
	}
	return summarize(rec), nil
}

// Sessions returns the ids of all known sessions, oldest first
func (b *Backend) Sessions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Record returns a copy of the stored session record
func (b *Backend) Record(id string) (SessionRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.sessions[id]
	if !ok {
		return SessionRecord{}, false
	}
	return SessionRecord{
		Session:      rec.Session,
		Calibrations: append([]core.Baseline(nil), rec.Calibrations...),
		Gestures:     append([]core.GestureEvent(nil), rec.Gestures...),
		Scores:       append([]core.Score(nil), rec.Scores...),
	}, true
}

func summarize(rec *SessionRecord) core.SessionSummary {
	sum := core.SessionSummary{
		Session:      rec.Session,
		Calibrations: append([]core.Baseline(nil), rec.Calibrations...),
		Transitions:  make(map[string]int),
		Scores:       len(rec.Scores),
	}
	for _, g := range rec.Gestures {
		sum.Transitions[g.Gesture.String()]++
	}
	for _, s := range rec.Scores {
		if s.Value > sum.BestScore {
			sum.BestScore = s.Value
		}
	}
	sort.Slice(sum.Calibrations, func(i, j int) bool {
		return sum.Calibrations[i].CapturedAt.Before(sum.Calibrations[j].CapturedAt)
	})
	return sum
}
