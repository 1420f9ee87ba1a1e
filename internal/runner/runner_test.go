package runner

import (
	"testing"

	"github.com/dinorun/posecontrol/internal/dispatcher"
	"github.com/dinorun/posecontrol/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New()
	st := r.State()
	assert.False(t, st.Jumping)
	assert.False(t, st.Ducking)
	assert.Equal(t, StartSpeedScale, st.SpeedScale)
	assert.Zero(t, st.Score)
}

func TestJumpDoesNotRestack(t *testing.T) {
	r := New()
	r.Apply(core.Jump)
	r.Update(100)
	b1 := r.State().Bottom

	r.Apply(core.Jump)
	r.Update(100)
	st := r.State()
	assert.Equal(t, 1, st.Jumps)
	// the second step uses the decayed velocity
	assert.InDelta(t, b1+(JumpSpeed-Gravity*100)*100, st.Bottom, 1e-9)
}

func TestJumpLands(t *testing.T) {
	r := New()
	r.Apply(core.Jump)
	for i := 0; i < 100 && r.State().Jumping; i++ {
		r.Update(16)
	}
	st := r.State()
	assert.False(t, st.Jumping)
	assert.Equal(t, 0.0, st.Bottom)

	r.Apply(core.Jump)
	assert.Equal(t, 2, r.State().Jumps, "can jump again after landing")
}

func TestCrouchOnlyOnGround(t *testing.T) {
	r := New()
	r.Apply(core.Jump)
	r.Apply(core.Crouch)
	assert.False(t, r.State().Ducking)

	r = New()
	r.Apply(core.Crouch)
	r.Apply(core.Crouch)
	st := r.State()
	assert.True(t, st.Ducking)
	assert.Equal(t, 1, st.Ducks)

	r.Apply(core.Neutral)
	assert.False(t, r.State().Ducking)
}

func TestRunAnimation(t *testing.T) {
	r := New()
	// frameTime accrues delta*speedScale and flips once it reaches 100
	r.Update(100)
	assert.Equal(t, 0, r.State().Frame)
	r.Update(1)
	assert.Equal(t, 1, r.State().Frame)

	r.Apply(core.Crouch)
	before := r.State().Frame
	for i := 0; i < 10; i++ {
		r.Update(100)
	}
	assert.Equal(t, before, r.State().Frame, "no animation while ducking")
}

func TestScoreAndSpeed(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		r.Update(100)
	}
	st := r.State()
	assert.Equal(t, uint(10), st.Score)
	assert.Equal(t, uint(10), r.Score())
	assert.InDelta(t, StartSpeedScale+1000*SpeedScaleIncrease, st.SpeedScale, 1e-12)

	r.Reset()
	assert.Zero(t, r.Score())
}

func TestHandleViaDispatcher(t *testing.T) {
	d, err := dispatcher.New(nil)
	require.NoError(t, err)
	defer d.Close()

	r := New()
	d.RegisterAll(r.Handle)

	require.NoError(t, d.Dispatch(dispatcher.Event{Gesture: core.Crouch}))
	assert.True(t, r.State().Ducking)
	require.NoError(t, d.Dispatch(dispatcher.Event{Gesture: core.Neutral}))
	assert.False(t, r.State().Ducking)
}
