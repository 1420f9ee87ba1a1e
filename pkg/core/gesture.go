// pkg/core/gesture.go
package core

import (
	"fmt"
	"strings"
)

// Gesture is the discrete action classified for a frame.
type Gesture uint8

const (
	Neutral Gesture = iota
	Jump
	Crouch
)

// Gestures lists every gesture value.
var Gestures = []Gesture{Neutral, Jump, Crouch}

func (g Gesture) String() string {
	switch g {
	case Neutral:
		return "neutral"
	case Jump:
		return "jump"
	case Crouch:
		return "crouch"
	default:
		return fmt.Sprintf("Gesture(%d)", uint8(g))
	}
}

// ParseGesture parses the text form produced by String.
func ParseGesture(s string) (Gesture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "neutral":
		return Neutral, nil
	case "jump":
		return Jump, nil
	case "crouch", "duck":
		return Crouch, nil
	default:
		return Neutral, fmt.Errorf("unknown gesture: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (g Gesture) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Gesture) UnmarshalText(b []byte) error {
	parsed, err := ParseGesture(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
