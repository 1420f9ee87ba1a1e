// pkg/core/keypoint.go
package core

import "strings"

/* skeleton keypoints, PoseNet / COCO order
0: Nose
1: Left Eye
2: Right Eye
3: Left Ear
4: Right Ear
5: Left Shoulder
6: Right Shoulder
7: Left Elbow
8: Right Elbow
9: Left Wrist
10: Right Wrist
11: Left Hip
12: Right Hip
13: Left Knee
14: Right Knee
15: Left Ankle
16: Right Ankle
*/
const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	NumKeypoints
)

// DefaultConfidenceThreshold is the score a keypoint must exceed to be trusted.
const DefaultConfidenceThreshold = 0.3

// partNames maps keypoint indices to the part names emitted by PoseNet.
var partNames = [NumKeypoints]string{
	"nose",
	"leftEye",
	"rightEye",
	"leftEar",
	"rightEar",
	"leftShoulder",
	"rightShoulder",
	"leftElbow",
	"rightElbow",
	"leftWrist",
	"rightWrist",
	"leftHip",
	"rightHip",
	"leftKnee",
	"rightKnee",
	"leftAnkle",
	"rightAnkle",
}

// PartName returns the PoseNet part name for a keypoint index, or "" if unknown.
func PartName(index int) string {
	if index < 0 || index >= NumKeypoints {
		return ""
	}
	return partNames[index]
}

// PartIndex returns the keypoint index for a part name. Both the PoseNet
// camelCase form ("leftShoulder") and the snake_case form ("left_shoulder")
// are recognised.
func PartIndex(part string) (int, bool) {
	norm := strings.ReplaceAll(part, "_", "")
	for i, name := range partNames {
		if strings.EqualFold(name, norm) {
			return i, true
		}
	}
	return -1, false
}

// Keypoint is a single tracked body landmark in image pixels.
// Screen Y grows downward.
type Keypoint struct {
	Index int     `json:"index"`
	Part  string  `json:"part"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Trusted reports whether the keypoint score is above the given threshold.
func (k Keypoint) Trusted(threshold float64) bool {
	return k.Score > threshold
}
