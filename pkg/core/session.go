// pkg/core/session.go
package core

import (
	"errors"
	"time"
)

// Session represents one play session, from calibration start to teardown.
type Session struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	RemoteAddr  string     `json:"remoteAddr"`
	Mode        string     `json:"mode"`
	ThresholdPx float64    `json:"thresholdPx"`
	DelayMs     int64      `json:"delayMs"`
}

// GestureEvent records a gesture transition within a session.
type GestureEvent struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	FrameSeq  uint64    `json:"frameSeq"`
	Gesture   Gesture   `json:"gesture"`
	Previous  Gesture   `json:"previous"`
	CurrentY  float64   `json:"currentY"`
}

// Score is a finished run's score.
type Score struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	Value     uint      `json:"value"`
}

// SessionSummary is the stored history of one session.
type SessionSummary struct {
	Session      Session        `json:"session"`
	Calibrations []Baseline     `json:"calibrations"`
	Transitions  map[string]int `json:"transitions"`
	BestScore    uint           `json:"bestScore"`
	Scores       int            `json:"scores"`
}

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("not found")
