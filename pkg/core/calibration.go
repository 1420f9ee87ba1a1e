// pkg/core/calibration.go
package core

import (
	"fmt"
	"time"
)

// CalibrationState is the lifecycle of a calibration session.
type CalibrationState uint8

const (
	Uninitialized CalibrationState = iota
	PendingCapture
	Calibrated
)

func (s CalibrationState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case PendingCapture:
		return "pending_capture"
	case Calibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("CalibrationState(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CalibrationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Baseline is the reference measurement of the user's neutral pose.
// ReferenceY is the mean shoulder Y of the capture frame. NoseY is recorded
// when the nose keypoint was present, for nose-line classification.
type Baseline struct {
	SessionID  string     `json:"sessionId"`
	ReferenceY float64    `json:"referenceY"`
	NoseY      float64    `json:"noseY"`
	HasNose    bool       `json:"hasNose"`
	CapturedAt time.Time  `json:"capturedAt"`
	Keypoints  []Keypoint `json:"keypoints,omitempty"`
}
