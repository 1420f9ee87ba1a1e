// Package runner is the game-side consumer of gestures: a jumping and ducking
// runner with gravity, a two-frame run animation, score and speed scale.
package runner

import (
	"math"
	"sync"

	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/pkg/core"
)

const (
	JumpSpeed          = 0.45
	Gravity            = 0.0012
	FrameCount         = 2
	FrameTime          = 100
	ScorePerMs         = 0.01
	StartSpeedScale    = 1.3
	SpeedScaleIncrease = 0.00001
)

// State is a snapshot of the runner.
type State struct {
	Jumping    bool    `json:"jumping"`
	Ducking    bool    `json:"ducking"`
	Bottom     float64 `json:"bottom"`
	Frame      int     `json:"frame"`
	Score      uint    `json:"score"`
	SpeedScale float64 `json:"speedScale"`
	Jumps      int     `json:"jumps"`
	Ducks      int     `json:"ducks"`
}

// Runner applies gestures and advances the game by frame deltas.
// Safe for concurrent use.
type Runner struct {
	mu sync.Mutex

	jumping   bool
	ducking   bool
	bottom    float64
	yVelocity float64

	frame      int
	frameTime  float64
	score      float64
	speedScale float64

	jumps int
	ducks int
}

// New returns a runner at the start of a run.
func New() *Runner {
	r := &Runner{}
	r.Reset()
	return r
}

// Reset starts a new run.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jumping, r.ducking = false, false
	r.bottom, r.yVelocity = 0, 0
	r.frame, r.frameTime = 0, 0
	r.score, r.speedScale = 0, StartSpeedScale
	r.jumps, r.ducks = 0, 0
}

// Apply reacts to one gesture. Jump while airborne does not restack
// velocity; Crouch ducks only on the ground; Neutral releases the duck.
func (r *Runner) Apply(g core.Gesture) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch g {
	case core.Jump:
		if r.jumping {
			return
		}
		r.yVelocity = JumpSpeed
		r.jumping = true
		r.jumps++
	case core.Crouch:
		if r.ducking || r.jumping {
			return
		}
		r.ducking = true
		r.bottom = 0
		r.ducks++
	default:
		r.ducking = false
		if !r.jumping {
			r.bottom = 0
		}
	}
}

// Handle is a dispatcher.HandlerFunc applying the event's gesture.
func (r *Runner) Handle(e dispatcher.Event) error {
	r.Apply(e.Gesture)
	return nil
}

// Update advances the run by delta milliseconds.
func (r *Runner) Update(delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run(delta)
	r.jump(delta)
	r.speedScale += delta * SpeedScaleIncrease
	r.score += delta * ScorePerMs
}

func (r *Runner) run(delta float64) {
	if r.jumping || r.ducking {
		return
	}
	if r.frameTime >= FrameTime {
		r.frame = (r.frame + 1) % FrameCount
		r.frameTime -= FrameTime
	}
	r.frameTime += delta * r.speedScale
}

func (r *Runner) jump(delta float64) {
	if !r.jumping {
		return
	}
	r.bottom += r.yVelocity * delta
	if r.bottom <= 0 {
		r.bottom = 0
		r.jumping = false
	}
	r.yVelocity -= Gravity * delta
}

// Score returns the whole points scored so far.
func (r *Runner) Score() uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint(math.Floor(r.score))
}

// State returns a snapshot of the runner.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Jumping:    r.jumping,
		Ducking:    r.ducking,
		Bottom:     r.bottom,
		Frame:      r.frame,
		Score:      uint(math.Floor(r.score)),
		SpeedScale: r.speedScale,
		Jumps:      r.jumps,
		Ducks:      r.ducks,
	}
}
