// Package convert translates between core records and GORM models.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/dinorun/posecontrol/internal/model"
	"github.com/dinorun/posecontrol/pkg/core"
	"gorm.io/datatypes"
)

// CoreToSession converts a core.Session to a GORM Session.
func CoreToSession(s core.Session) model.Session {
	return model.Session{
		ID:          s.ID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		RemoteAddr:  s.RemoteAddr,
		Mode:        s.Mode,
		ThresholdPx: s.ThresholdPx,
		DelayMs:     s.DelayMs,
	}
}

// SessionToCore converts a GORM Session to a core.Session.
func SessionToCore(s model.Session) core.Session {
	return core.Session{
		ID:          s.ID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		RemoteAddr:  s.RemoteAddr,
		Mode:        s.Mode,
		ThresholdPx: s.ThresholdPx,
		DelayMs:     s.DelayMs,
	}
}

// CoreToCalibration converts a baseline to a GORM Calibration.
// Keypoints are stored as a JSON array.
func CoreToCalibration(b core.Baseline) (model.Calibration, error) {
	kps := b.Keypoints
	if kps == nil {
		kps = []core.Keypoint{}
	}
	raw, err := json.Marshal(kps)
	if err != nil {
		return model.Calibration{}, fmt.Errorf("encode keypoints: %w", err)
	}
	return model.Calibration{
		SessionID:  b.SessionID,
		CapturedAt: b.CapturedAt,
		ReferenceY: b.ReferenceY,
		NoseY:      b.NoseY,
		HasNose:    b.HasNose,
		Keypoints:  datatypes.JSON(raw),
	}, nil
}

// CalibrationToCore converts a GORM Calibration back to a baseline.
func CalibrationToCore(c model.Calibration) core.Baseline {
	var kps []core.Keypoint
	if len(c.Keypoints) > 0 {
		_ = json.Unmarshal(c.Keypoints, &kps)
	}
	if len(kps) == 0 {
		kps = nil
	}
	return core.Baseline{
		SessionID:  c.SessionID,
		ReferenceY: c.ReferenceY,
		NoseY:      c.NoseY,
		HasNose:    c.HasNose,
		CapturedAt: c.CapturedAt,
		Keypoints:  kps,
	}
}

// CoreToGestureEvent converts a core.GestureEvent to a GORM GestureEvent.
func CoreToGestureEvent(e core.GestureEvent) model.GestureEvent {
	return model.GestureEvent{
		ID:        e.ID,
		SessionID: e.SessionID,
		Time:      e.Time,
		FrameSeq:  e.FrameSeq,
		Gesture:   e.Gesture.String(),
		Previous:  e.Previous.String(),
		CurrentY:  e.CurrentY,
	}
}

// GestureEventToCore converts a GORM GestureEvent to a core.GestureEvent.
// Unknown gesture names read back as Neutral.
func GestureEventToCore(e model.GestureEvent) core.GestureEvent {
	g, _ := core.ParseGesture(e.Gesture)
	prev, _ := core.ParseGesture(e.Previous)
	return core.GestureEvent{
		ID:        e.ID,
		SessionID: e.SessionID,
		Time:      e.Time,
		FrameSeq:  e.FrameSeq,
		Gesture:   g,
		Previous:  prev,
		CurrentY:  e.CurrentY,
	}
}

// CoreToScore converts a core.Score to a GORM Score.
func CoreToScore(s core.Score) model.Score {
	return model.Score{
		ID:        s.ID,
		SessionID: s.SessionID,
		Time:      s.Time,
		Value:     s.Value,
	}
}

// ScoreToCore converts a GORM Score to a core.Score.
func ScoreToCore(s model.Score) core.Score {
	return core.Score{
		ID:        s.ID,
		SessionID: s.SessionID,
		Time:      s.Time,
		Value:     s.Value,
	}
}
