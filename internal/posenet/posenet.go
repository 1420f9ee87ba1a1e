// Package posenet decodes pose estimator output into core poses.
//
// Two layouts are accepted:
//
//	ml5 PoseNet:  [{"pose":{"score":0.9,"keypoints":[{"part":"nose","score":0.9,"position":{"x":1,"y":2}}]}}]
//	tfjs flat:    [{"score":0.9,"keypoints":[{"name":"nose","score":0.9,"x":1,"y":2}]}]
package posenet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dinorun/posecontrol/pkg/core"
)

// ErrEmptyPayload is returned for a zero-length payload.
var ErrEmptyPayload = errors.New("empty pose payload")

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type rawKeypoint struct {
	Part     string    `json:"part"`
	Name     string    `json:"name"`
	Score    float64   `json:"score"`
	Position *position `json:"position"`
	X        *float64  `json:"x"`
	Y        *float64  `json:"y"`
}

type rawPose struct {
	Score     float64       `json:"score"`
	Keypoints []rawKeypoint `json:"keypoints"`
}

type rawResult struct {
	Pose *rawPose `json:"pose"`
	rawPose
}

// Parse decodes a JSON array of estimator results.
// Keypoints are placed at their schema index; unknown parts are dropped.
func Parse(data []byte) ([]core.Pose, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	var results []rawResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode poses: %w", err)
	}

	poses := make([]core.Pose, 0, len(results))
	for i, r := range results {
		src := r.rawPose
		if r.Pose != nil {
			src = *r.Pose
		}
		pose, err := convert(src)
		if err != nil {
			return nil, fmt.Errorf("pose %d: %w", i, err)
		}
		poses = append(poses, pose)
	}
	return poses, nil
}

// ParseFrame decodes data into a PoseFrame with the given sequence number.
func ParseFrame(seq uint64, data []byte) (core.PoseFrame, error) {
	poses, err := Parse(data)
	if err != nil {
		return core.PoseFrame{}, err
	}
	return core.PoseFrame{Seq: seq, Poses: poses}, nil
}

func convert(p rawPose) (core.Pose, error) {
	out := core.Pose{Score: p.Score}
	slots := make([]core.Keypoint, core.NumKeypoints)
	filled := make([]bool, core.NumKeypoints)

	for j, kp := range p.Keypoints {
		part := kp.Part
		if part == "" {
			part = kp.Name
		}
		idx, known := core.PartIndex(part)
		if !known {
			// Unnamed keypoints are taken in schema order.
			if part != "" || j >= core.NumKeypoints {
				continue
			}
			idx = j
		}
		part = core.PartName(idx)

		var x, y float64
		switch {
		case kp.Position != nil:
			x, y = kp.Position.X, kp.Position.Y
		case kp.X != nil && kp.Y != nil:
			x, y = *kp.X, *kp.Y
		default:
			return core.Pose{}, fmt.Errorf("keypoint %q has no position", part)
		}

		slots[idx] = core.Keypoint{Index: idx, Part: part, X: x, Y: y, Score: kp.Score}
		filled[idx] = true
	}

	// Keep schema order, leaving out keypoints the estimator did not report.
	for i, ok := range filled {
		if ok {
			out.Keypoints = append(out.Keypoints, slots[i])
		}
	}
	return out, nil
}
