// pkg/core/frame.go
package core

import "time"

// Pose is one detected person: an ordered list of keypoints plus the model's
// overall pose score.
type Pose struct {
	Score     float64    `json:"score"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Keypoint returns the keypoint with the given schema index.
// Keypoints are normally stored in schema order; if the slot does not match,
// the pose is searched by index and then by part name.
func (p Pose) Keypoint(index int) (Keypoint, bool) {
	if index >= 0 && index < len(p.Keypoints) && p.Keypoints[index].Index == index {
		return p.Keypoints[index], true
	}
	part := PartName(index)
	for _, kp := range p.Keypoints {
		if kp.Index == index || (part != "" && kp.Part == part) {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Shoulders returns the left and right shoulder keypoints if both are present.
func (p Pose) Shoulders() (left, right Keypoint, ok bool) {
	left, lok := p.Keypoint(LeftShoulder)
	right, rok := p.Keypoint(RightShoulder)
	return left, right, lok && rok
}

// ShoulderLineY returns the mean Y of both shoulders.
func (p Pose) ShoulderLineY() (float64, bool) {
	left, right, ok := p.Shoulders()
	if !ok {
		return 0, false
	}
	return (left.Y + right.Y) / 2, true
}

// PoseFrame is the list of poses detected for one sampled instant.
type PoseFrame struct {
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"receivedAt"`
	Poses      []Pose    `json:"poses"`
}

// Empty reports whether the frame carries no poses.
func (f PoseFrame) Empty() bool {
	return len(f.Poses) == 0
}

// Primary returns the first pose in the frame. Multi-person frames are not
// disambiguated beyond the first entry.
func (f PoseFrame) Primary() (Pose, bool) {
	if len(f.Poses) == 0 {
		return Pose{}, false
	}
	return f.Poses[0], true
}
