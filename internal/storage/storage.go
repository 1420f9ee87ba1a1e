// internal/storage/storage.go
package storage

import (
	"time"

	"github.com/dinorun/posecontrol/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession(id string, at time.Time) error

	// Recording
	RecordCalibration(b *core.Baseline) error
	RecordGesture(e *core.GestureEvent) error
	// RecordScore assigns ID to the passed pointer.
	RecordScore(s *core.Score) error

	// HighScore returns the best score recorded. ok is false when no
	// positive score exists.
	HighScore() (s core.Score, ok bool, err error)
}

// SessionReader is an optional interface for backends that can return the
// recorded history of a session.
type SessionReader interface {
	// LoadSession returns core.ErrNotFound for unknown ids.
	LoadSession(id string) (core.SessionSummary, error)
}
