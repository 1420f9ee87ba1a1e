package gesture

import "errors"

// Abstention reasons. Each one means the frame is classified Neutral.
var (
	ErrNoPose           = errors.New("frame has no poses")
	ErrUncalibrated     = errors.New("no baseline captured")
	ErrMissingKeypoints = errors.New("required keypoints missing")
	ErrLowConfidence    = errors.New("required keypoints below confidence threshold")
	ErrOutsidePlayZone  = errors.New("player outside play zone")
)
