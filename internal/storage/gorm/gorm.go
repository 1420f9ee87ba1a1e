// Package gormstorage implements the storage.Backend interface on top of GORM.
// Gesture transitions go through an in-memory queue drained by a background
// writer; sessions, calibrations and scores are written directly.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dinorun/posecontrol/internal/database"
	"github.com/dinorun/posecontrol/internal/model"
	"github.com/dinorun/posecontrol/internal/model/convert"
	"github.com/dinorun/posecontrol/internal/queue"
	"github.com/dinorun/posecontrol/pkg/core"

	"gorm.io/gorm"
)

const (
	// DefaultFlushInterval is how often queued gestures are written.
	DefaultFlushInterval = 2 * time.Second
	// DefaultQueueLimit caps queued gestures while the database is unreachable.
	DefaultQueueLimit = 50000
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
	QueueLimit    int
}

// Backend implements storage.Backend using GORM with queue-based gesture writes.
type Backend struct {
	deps     Dependencies
	gestures *queue.Queue[model.GestureEvent]

	writeMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = DefaultQueueLimit
	}
	return &Backend{
		deps:     deps,
		gestures: queue.New[model.GestureEvent](deps.QueueLimit),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database connection")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()

	b.deps.Logger.Info("Database setup complete", "dialect", b.deps.DB.Name())
	return nil
}

// Close stops the writer and flushes anything still queued.
func (b *Backend) Close() error {
	var err error
	b.stopOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
		err = b.Flush()
	})
	return err
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error("Error writing gesture events", "error", err, "queued", b.gestures.Len())
			}
		}
	}
}

// Flush writes all queued gesture events in one transaction. On failure the
// batch is put back at the front of the queue.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.gestures.Empty() || b.deps.DB == nil {
		return nil
	}

	items := b.gestures.Drain()
	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		b.gestures.Requeue(items)
		return fmt.Errorf("creating gesture events: %w", err)
	}
	if dropped := b.gestures.Dropped(); dropped > 0 {
		b.deps.Logger.Warn("Gesture events dropped while queue was full", "dropped", dropped)
	}
	return nil
}

// Pending returns the number of queued gesture events.
func (b *Backend) Pending() int {
	return b.gestures.Len()
}

// StartSession inserts the session row.
func (b *Backend) StartSession(s *core.Session) error {
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// EndSession stamps ended_at and flushes the session's gestures.
func (b *Backend) EndSession(id string, at time.Time) error {
	res := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Update("ended_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to end session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("end session %s: %w", id, core.ErrNotFound)
	}
	return b.Flush()
}

// RecordCalibration inserts a calibration row.
func (b *Backend) RecordCalibration(bl *core.Baseline) error {
	row, err := convert.CoreToCalibration(*bl)
	if err != nil {
		return err
	}
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert calibration: %w", err)
	}
	return nil
}

// RecordGesture queues a gesture transition for the writer.
func (b *Backend) RecordGesture(e *core.GestureEvent) error {
	b.gestures.Push(convert.CoreToGestureEvent(*e))
	return nil
}

// RecordScore inserts a score and assigns its ID.
func (b *Backend) RecordScore(s *core.Score) error {
	row := convert.CoreToScore(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	s.ID = row.ID
	return nil
}

// HighScore returns the highest positive score.
func (b *Backend) HighScore() (core.Score, bool, error) {
	var row model.Score
	res := b.deps.DB.Where("value > ?", 0).Order("value desc, id asc").Limit(1).Find(&row)
	if res.Error != nil {
		return core.Score{}, false, fmt.Errorf("failed to query high score: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.Score{}, false, nil
	}
	return convert.ScoreToCore(row), true, nil
}

// LoadSession returns the stored history of a session.
func (b *Backend) LoadSession(id string) (core.SessionSummary, error) {
	if err := b.Flush(); err != nil {
		b.deps.Logger.Warn("Flush before load failed", "error", err)
	}

	var sess model.Session
	if err := b.deps.DB.Where("id = ?", id).First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.SessionSummary{}, fmt.Errorf("load session %s: %w", id, core.ErrNotFound)
		}
		return core.SessionSummary{}, fmt.Errorf("failed to load session: %w", err)
	}

	sum := core.SessionSummary{
		Session:     convert.SessionToCore(sess),
		Transitions: make(map[string]int),
	}

	var cals []model.Calibration
	if err := b.deps.DB.Where("session_id = ?", id).Order("captured_at asc").Find(&cals).Error; err != nil {
		return core.SessionSummary{}, fmt.Errorf("failed to load calibrations: %w", err)
	}
	for _, c := range cals {
		sum.Calibrations = append(sum.Calibrations, convert.CalibrationToCore(c))
	}

	var counts []struct {
		Gesture string
		N       int
	}
	err := b.deps.DB.Model(&model.GestureEvent{}).
		Select("gesture, count(*) as n").
		Where("session_id = ?", id).
		Group("gesture").
		Scan(&counts).Error
	if err != nil {
		return core.SessionSummary{}, fmt.Errorf("failed to count gestures: %w", err)
	}
	for _, c := range counts {
		sum.Transitions[c.Gesture] = c.N
	}

	var scores []model.Score
	if err := b.deps.DB.Where("session_id = ?", id).Find(&scores).Error; err != nil {
		return core.SessionSummary{}, fmt.Errorf("failed to load scores: %w", err)
	}
	sum.Scores = len(scores)
	for _, s := range scores {
		if s.Value > sum.BestScore {
			sum.BestScore = s.Value
		}
	}

	return sum, nil
}
