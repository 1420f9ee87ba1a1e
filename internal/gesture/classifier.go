// Package gesture maps a pose frame and a calibration baseline to a gesture.
package gesture

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/pkg/core"

	geom "github.com/peterstace/simplefeatures/geom"
)

const (
	// DefaultThresholdPx is the shoulder displacement needed for a gesture.
	DefaultThresholdPx = 50.0
	// DefaultNoseThresholdPx is the nose displacement used in nose mode.
	DefaultNoseThresholdPx = 70.0
)

// Mode selects which body line is compared against the baseline.
type Mode uint8

const (
	// ModeShoulders compares the mean shoulder Y with Baseline.ReferenceY.
	ModeShoulders Mode = iota
	// ModeNose compares the nose Y with Baseline.NoseY.
	ModeNose
)

func (m Mode) String() string {
	switch m {
	case ModeShoulders:
		return "shoulders"
	case ModeNose:
		return "nose"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses "shoulders" or "nose".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shoulders", "shoulder":
		return ModeShoulders, nil
	case "nose":
		return ModeNose, nil
	default:
		return ModeShoulders, fmt.Errorf("unknown gesture mode: %q", s)
	}
}

// Reading is the outcome of one evaluation.
type Reading struct {
	Gesture    core.Gesture
	CurrentY   float64
	ReferenceY float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold sets the shoulder-mode threshold in pixels.
func WithThreshold(px float64) Option {
	return func(c *Classifier) { c.threshold = px }
}

// WithNoseLine switches to nose mode with the given threshold.
func WithNoseLine(px float64) Option {
	return func(c *Classifier) {
		c.mode = ModeNose
		c.noseThreshold = px
	}
}

// WithConfidenceGate makes keypoints at or below threshold count as missing.
func WithConfidenceGate(threshold float64) Option {
	return func(c *Classifier) {
		c.gate = true
		c.confidence = threshold
	}
}

// WithPlayZone only classifies while the nose lies inside the rectangle.
func WithPlayZone(minX, minY, maxX, maxY float64) Option {
	return func(c *Classifier) {
		env := geom.NewEnvelope(geom.XY{X: minX, Y: minY}, geom.XY{X: maxX, Y: maxY})
		c.zone = &env
	}
}

// WithLogger sets the logger used for debug-level abstention messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// OptionsFromConfig translates gesture settings into classifier options.
func OptionsFromConfig(cfg config.GestureConfig) ([]Option, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithThreshold(cfg.ThresholdPx)}
	if mode == ModeNose {
		opts = append(opts, WithNoseLine(cfg.NoseThresholdPx))
	}
	if cfg.ConfidenceGating {
		opts = append(opts, WithConfidenceGate(cfg.ConfidenceThreshold))
	}
	if z := cfg.PlayZone; z.Enabled {
		opts = append(opts, WithPlayZone(z.MinX, z.MinY, z.MaxX, z.MaxY))
	}
	return opts, nil
}

// Classifier holds classification settings. It keeps no per-frame state and
// never modifies the baseline.
type Classifier struct {
	mode          Mode
	threshold     float64
	noseThreshold float64
	gate          bool
	confidence    float64
	zone          *geom.Envelope
	logger        *slog.Logger
}

// New creates a shoulder-mode Classifier with default thresholds.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		mode:          ModeShoulders,
		threshold:     DefaultThresholdPx,
		noseThreshold: DefaultNoseThresholdPx,
		confidence:    core.DefaultConfidenceThreshold,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the configured reference line.
func (c *Classifier) Mode() Mode { return c.mode }

// Measure evaluates the primary pose of frame against baseline. A non-nil
// error names the abstention reason; the reading is then Neutral.
func (c *Classifier) Measure(frame core.PoseFrame, baseline *core.Baseline) (Reading, error) {
	pose, ok := frame.Primary()
	if !ok {
		return Reading{}, ErrNoPose
	}
	if baseline == nil {
		return Reading{}, ErrUncalibrated
	}

	if c.zone != nil {
		nose, err := c.keypoint(pose, core.Nose)
		if err != nil {
			return Reading{}, err
		}
		if !c.zone.Contains(geom.XY{X: nose.X, Y: nose.Y}) {
			return Reading{}, ErrOutsidePlayZone
		}
	}

	var current, ref, threshold float64
	switch c.mode {
	case ModeNose:
		if !baseline.HasNose {
			return Reading{}, ErrUncalibrated
		}
		nose, err := c.keypoint(pose, core.Nose)
		if err != nil {
			return Reading{}, err
		}
		current, ref, threshold = nose.Y, baseline.NoseY, c.noseThreshold
	default:
		left, err := c.keypoint(pose, core.LeftShoulder)
		if err != nil {
			return Reading{}, err
		}
		right, err := c.keypoint(pose, core.RightShoulder)
		if err != nil {
			return Reading{}, err
		}
		current, ref, threshold = (left.Y+right.Y)/2, baseline.ReferenceY, c.threshold
	}

	r := Reading{Gesture: core.Neutral, CurrentY: current, ReferenceY: ref}
	switch {
	case current < ref-threshold:
		r.Gesture = core.Jump
	case current > ref+threshold:
		r.Gesture = core.Crouch
	}
	return r, nil
}

func (c *Classifier) keypoint(p core.Pose, index int) (core.Keypoint, error) {
	kp, ok := p.Keypoint(index)
	if !ok {
		return core.Keypoint{}, fmt.Errorf("%w: %s", ErrMissingKeypoints, core.PartName(index))
	}
	if c.gate && !kp.Trusted(c.confidence) {
		return core.Keypoint{}, fmt.Errorf("%w: %s", ErrLowConfidence, core.PartName(index))
	}
	return kp, nil
}

// Evaluate returns the gesture for frame and the abstention reason, if any.
func (c *Classifier) Evaluate(frame core.PoseFrame, baseline *core.Baseline) (core.Gesture, error) {
	r, err := c.Measure(frame, baseline)
	return r.Gesture, err
}

// Classify returns the gesture for frame. Abstentions, including internal
// failures, are logged at debug level and yield Neutral.
func (c *Classifier) Classify(frame core.PoseFrame, baseline *core.Baseline) (g core.Gesture) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classification failed", "frame", frame.Seq, "panic", r)
			g = core.Neutral
		}
	}()

	g, err := c.Evaluate(frame, baseline)
	if err != nil {
		c.logger.Debug("classification abstained", "frame", frame.Seq, "reason", err)
		return core.Neutral
	}
	return g
}

// Classify is the shoulder-line rule with the given threshold and no
// confidence gating.
func Classify(frame core.PoseFrame, baseline *core.Baseline, thresholdPx float64) core.Gesture {
	return New(WithThreshold(thresholdPx)).Classify(frame, baseline)
}
