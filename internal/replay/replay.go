// Package replay feeds a recorded pose stream through a session on a
// virtual clock and reports the gestures it produced.
//
// A recording is JSON lines, one frame per line:
//
//	{"t":0,"poses":[{"pose":{"score":0.9,"keypoints":[...]}}]}
//
// t is the offset in milliseconds from the start of the recording.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dinorun/posecontrol/internal/config"
	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/internal/posenet"
	"github.com/dinorun/posecontrol/internal/runner"
	"github.com/dinorun/posecontrol/internal/session"
	"github.com/dinorun/posecontrol/internal/storage"
	"github.com/dinorun/posecontrol/pkg/core"
)

const (
	maxLineSize         = 4 << 20
	defaultTickInterval = 16 * time.Millisecond
)

// Line is one recorded frame.
type Line struct {
	OffsetMs int64           `json:"t"`
	Poses    json.RawMessage `json:"poses"`
}

// Transition is a gesture change observed during the replay.
type Transition struct {
	Offset   time.Duration `json:"offset"`
	FrameSeq uint64        `json:"frameSeq"`
	From     core.Gesture  `json:"from"`
	To       core.Gesture  `json:"to"`
}

// Result summarizes a replay.
type Result struct {
	SessionID   string               `json:"sessionId"`
	Frames      int                  `json:"frames"`
	Ticks       int                  `json:"ticks"`
	Counts      map[core.Gesture]int `json:"counts"`
	Transitions []Transition         `json:"transitions"`
	Baseline    *core.Baseline       `json:"baseline,omitempty"`
	Runner      runner.State         `json:"runner"`
}

// Options tune a replay.
type Options struct {
	Storage storage.Backend
	Logger  *slog.Logger
	// Start is the virtual start time. Zero means the Unix epoch.
	Start time.Time
	// Tail keeps ticking for this long after the last frame.
	Tail time.Duration
	// OnTransition is called for each gesture change.
	OnTransition func(Transition)
}

// Run replays the recording in r with the given gesture settings.
func Run(ctx context.Context, r io.Reader, cfg config.GestureConfig, opts Options) (Result, error) {
	if opts.Start.IsZero() {
		opts.Start = time.Unix(0, 0).UTC()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	// the replay drives ticks itself
	cfg.TickInterval = 0

	clock := NewClock(opts.Start)
	sess, err := session.New(session.Dependencies{
		Config:    cfg,
		Storage:   opts.Storage,
		Logger:    opts.Logger,
		Scheduler: clock.AfterFunc,
		Now:       clock.Now,
	}, "replay")
	if err != nil {
		return Result{}, err
	}
	defer sess.Stop()

	res := Result{SessionID: sess.ID(), Counts: make(map[core.Gesture]int)}
	game := runner.New()
	prev := core.Neutral

	sess.Dispatcher().RegisterAll(game.Handle)
	sess.Dispatcher().RegisterAll(func(e dispatcher.Event) error {
		res.Ticks++
		res.Counts[e.Gesture]++
		if e.Gesture != prev {
			t := Transition{Offset: e.Timestamp.Sub(opts.Start), FrameSeq: e.FrameSeq, From: prev, To: e.Gesture}
			res.Transitions = append(res.Transitions, t)
			if opts.OnTransition != nil {
				opts.OnTransition(t)
			}
			prev = e.Gesture
		}
		return nil
	})

	if err := sess.Start(ctx); err != nil {
		return Result{}, err
	}

	// step advances the virtual clock to target one tick at a time
	var elapsed time.Duration
	step := func(target time.Duration) {
		for elapsed+tick <= target {
			clock.Advance(tick)
			elapsed += tick
			sess.Tick()
			game.Update(float64(tick.Milliseconds()))
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return res, fmt.Errorf("line %d: %w", lineNo, err)
		}
		offset := time.Duration(line.OffsetMs) * time.Millisecond
		if offset < elapsed {
			return res, fmt.Errorf("line %d: offset %dms goes backwards", lineNo, line.OffsetMs)
		}

		step(offset)
		if gap := offset - elapsed; gap > 0 {
			clock.Advance(gap)
			elapsed = offset
		}

		f, err := posenet.ParseFrame(0, line.Poses)
		if err != nil {
			return res, fmt.Errorf("line %d: %w", lineNo, err)
		}
		f.ReceivedAt = clock.Now()
		sess.Submit(f)
		res.Frames++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("reading recording: %w", err)
	}

	step(elapsed + tick + opts.Tail)

	if b, ok := sess.Calibration().Baseline(); ok {
		res.Baseline = &b
	}
	res.Runner = game.State()
	return res, nil
}
