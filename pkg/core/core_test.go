package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartName(t *testing.T) {
	assert.Equal(t, "nose", PartName(Nose))
	assert.Equal(t, "leftShoulder", PartName(LeftShoulder))
	assert.Equal(t, "rightAnkle", PartName(RightAnkle))
	assert.Equal(t, "", PartName(-1))
	assert.Equal(t, "", PartName(NumKeypoints))
}

func TestPartIndex(t *testing.T) {
	tests := []struct {
		part string
		want int
		ok   bool
	}{
		{"leftShoulder", LeftShoulder, true},
		{"left_shoulder", LeftShoulder, true},
		{"RightShoulder", RightShoulder, true},
		{"nose", Nose, true},
		{"tail", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.part, func(t *testing.T) {
			got, ok := PartIndex(tt.part)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeypointTrusted(t *testing.T) {
	k := Keypoint{Score: 0.3}
	assert.False(t, k.Trusted(0.3))
	assert.True(t, k.Trusted(0.29))
}

func TestParseGesture(t *testing.T) {
	for _, g := range Gestures {
		parsed, err := ParseGesture(g.String())
		require.NoError(t, err)
		assert.Equal(t, g, parsed)
	}

	g, err := ParseGesture(" Duck ")
	require.NoError(t, err)
	assert.Equal(t, Crouch, g)

	_, err = ParseGesture("wave")
	assert.Error(t, err)
}

func TestGestureJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Gesture{"g": Jump})
	require.NoError(t, err)
	assert.JSONEq(t, `{"g":"jump"}`, string(b))

	var out struct {
		G Gesture `json:"g"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"g":"crouch"}`), &out))
	assert.Equal(t, Crouch, out.G)

	assert.Error(t, json.Unmarshal([]byte(`{"g":"spin"}`), &out))
	assert.Equal(t, "Gesture(9)", Gesture(9).String())
}

func TestCalibrationStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "pending_capture", PendingCapture.String())
	assert.Equal(t, "calibrated", Calibrated.String())
	assert.Equal(t, "CalibrationState(7)", CalibrationState(7).String())

	b, err := json.Marshal(Calibrated)
	require.NoError(t, err)
	assert.Equal(t, `"calibrated"`, string(b))
}
