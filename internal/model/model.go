package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ServiceInfo{},
	&Session{},
	&Calibration{},
	&GestureEvent{},
	&Score{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ServiceInfo records the schema version written by this service.
type ServiceInfo struct {
	gorm.Model
	Name          string `json:"name" gorm:"size:64"`
	SchemaVersion uint   `json:"schemaVersion"`
}

func (*ServiceInfo) TableName() string {
	return "service_infos"
}

////////////////////////
// SESSION MODELS
////////////////////////

// Session is one play session from calibration start to teardown.
type Session struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	StartedAt   time.Time  `json:"startedAt" gorm:"index:idx_session_started_at"`
	EndedAt     *time.Time `json:"endedAt"`
	RemoteAddr  string     `json:"remoteAddr" gorm:"size:64"`
	Mode        string     `json:"mode" gorm:"size:16"`
	ThresholdPx float64    `json:"thresholdPx"`
	DelayMs     int64      `json:"delayMs"`
}

func (*Session) TableName() string {
	return "sessions"
}

// Calibration is one captured baseline. A session has several when it was
// recalibrated.
type Calibration struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID  string         `json:"sessionId" gorm:"size:36;index:idx_calibration_session_id"`
	CapturedAt time.Time      `json:"capturedAt"`
	ReferenceY float64        `json:"referenceY"`
	NoseY      float64        `json:"noseY"`
	HasNose    bool           `json:"hasNose"`
	Keypoints  datatypes.JSON `json:"keypoints"`
}

func (*Calibration) TableName() string {
	return "calibrations"
}

// GestureEvent is a gesture transition observed in a session.
type GestureEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID string    `json:"sessionId" gorm:"size:36;index:idx_gesture_session_id"`
	Time      time.Time `json:"time" gorm:"index:idx_gesture_time"`
	FrameSeq  uint64    `json:"frameSeq"`
	Gesture   string    `json:"gesture" gorm:"size:16"`
	Previous  string    `json:"previous" gorm:"size:16"`
	CurrentY  float64   `json:"currentY"`
}

func (*GestureEvent) TableName() string {
	return "gesture_events"
}

// Score is the final score of one run.
type Score struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID string    `json:"sessionId" gorm:"size:36;index:idx_score_session_id"`
	Time      time.Time `json:"time"`
	Value     uint      `json:"value" gorm:"index:idx_score_value"`
}

func (*Score) TableName() string {
	return "scores"
}
