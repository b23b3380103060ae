package runtime

import "rollback.gg/internal/sim/world"

// TickLogEntry is everything the server fed the engine during one tick, in
// the order it was applied, plus the resulting state digest.
type TickLogEntry struct {
	Frame     uint64          `json:"frame"`
	Simulated uint64          `json:"simulated"`
	Kind      string          `json:"kind"`
	Steps     int             `json:"steps"`
	Leaves    []string        `json:"leaves,omitempty"`
	Joins     []RecordedJoin  `json:"joins,omitempty"`
	Inputs    []RecordedInput `json:"inputs,omitempty"`
	Digest    string          `json:"digest"`
}

type RecordedJoin struct {
	PlayerID    uint64     `json:"player_id"`
	ObjectID    string     `json:"object_id"`
	Speed       float64    `json:"speed"`
	Translation [3]float64 `json:"translation"`
}

type RecordedInput struct {
	PlayerID uint64 `json:"player_id"`
	Frame    uint64 `json:"frame"`
	X        int8   `json:"x"`
	Y        int8   `json:"y"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// InputSource supplies the local player's input for a frame.
type InputSource interface {
	Input(frame uint64) world.RawInput
}

type InputFunc func(frame uint64) world.RawInput

func (f InputFunc) Input(frame uint64) world.RawInput { return f(frame) }
