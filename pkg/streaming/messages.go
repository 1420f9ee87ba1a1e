package streaming

import (
	"encoding/json"

	"github.com/dinorun/posecontrol/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	// client -> server
	TypePoseFrame   = "pose_frame"
	TypeRecalibrate = "recalibrate"
	TypeScore       = "score"

	// server -> client
	TypeHello       = "hello"
	TypeGesture     = "gesture"
	TypeCalibration = "calibration"
	TypePosture     = "posture"
	TypeAck         = "ack"
	TypeError       = "error"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload is sent once after the connection is accepted.
type HelloPayload struct {
	SessionID           string  `json:"sessionId"`
	CalibrationDelayMs  int64   `json:"calibrationDelayMs"`
	ThresholdPx         float64 `json:"thresholdPx"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

// GesturePayload carries one classification result.
type GesturePayload struct {
	SessionID string       `json:"sessionId"`
	Seq       uint64       `json:"seq"`
	Gesture   core.Gesture `json:"gesture"`
}

// CalibrationPayload reports a calibration state change.
type CalibrationPayload struct {
	SessionID  string                `json:"sessionId"`
	State      core.CalibrationState `json:"state"`
	ReferenceY *float64              `json:"referenceY,omitempty"`
}

// PosturePayload echoes the tracked line for the newest frame so the client
// can draw it against the reference line. CurrentY and ReferenceY are set
// only once calibrated and the frame could be measured. Skipped counts frames
// replaced before they were echoed.
type PosturePayload struct {
	SessionID  string       `json:"sessionId"`
	Seq        uint64       `json:"seq"`
	Gesture    core.Gesture `json:"gesture"`
	CurrentY   *float64     `json:"currentY,omitempty"`
	ReferenceY *float64     `json:"referenceY,omitempty"`
	Skipped    uint64       `json:"skipped"`
	Reason     string       `json:"reason,omitempty"`
}

// RecalibratePayload requests a new baseline capture.
// A zero DelayMs uses the configured default.
type RecalibratePayload struct {
	DelayMs int64 `json:"delayMs"`
}

// ScorePayload reports a finished run.
type ScorePayload struct {
	Score uint `json:"score"`
}

// ErrorPayload reports a rejected message.
type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}
