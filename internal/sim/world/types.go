package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// PlayerID identifies a player across the network. It is chosen by the
// client at login and is stable for the whole session.
type PlayerID uint64

func (p PlayerID) String() string { return fmt.Sprintf("P%d", uint64(p)) }

// Owner is a local handle for a simulated object. Handles are recycled, so
// the generation distinguishes a reused slot from the previous occupant.
type Owner struct {
	Index uint32
	Gen   uint32
}

func (o Owner) String() string { return fmt.Sprintf("%dv%d", o.Index, o.Gen) }

// Less orders owners for deterministic iteration.
func (o Owner) Less(b Owner) bool {
	if o.Index != b.Index {
		return o.Index < b.Index
	}
	return o.Gen < b.Gen
}

type Transform struct {
	Translation mgl64.Vec3 `json:"translation" msgpack:"t"`
}

func TransformAt(x, y, z float64) Transform {
	return Transform{Translation: mgl64.Vec3{x, y, z}}
}

const DefaultPlayerSpeed = 100.0

type Player struct {
	ID    PlayerID `json:"id" msgpack:"id"`
	Speed float64  `json:"speed" msgpack:"speed"`
}

func NewPlayer(id PlayerID, speed float64) Player {
	if speed <= 0 {
		speed = DefaultPlayerSpeed
	}
	return Player{ID: id, Speed: speed}
}

// RawInput is one player's movement intent for a single frame.
type RawInput struct {
	X int8 `json:"x" msgpack:"x"`
	Y int8 `json:"y" msgpack:"y"`
}

func (in RawInput) IsZero() bool { return in == RawInput{} }

// Clamp limits each axis to [-1, 1].
func (in RawInput) Clamp() RawInput {
	clamp := func(v int8) int8 {
		if v > 1 {
			return 1
		}
		if v < -1 {
			return -1
		}
		return v
	}
	return RawInput{X: clamp(in.X), Y: clamp(in.Y)}
}

// InputFrame is every player's input for one frame.
type InputFrame map[PlayerID]RawInput

// StepFunc advances the world by exactly one frame. It must be a pure
// function of the world, the input and dt.
type StepFunc func(w *World, input InputFrame, dt float64)
