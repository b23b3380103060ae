package rollback

import (
	"fmt"
	"sort"

	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/world"
)

// Checkpoint is enough to rebuild an engine exactly: the oldest retained
// state, which no correction can change any more, plus every input that can
// still be replayed on top of it.
type Checkpoint struct {
	// Clock frame at capture.
	Frame  uint64
	Base   *Snapshot
	Inputs []IdentifiedInput
}

func (e *Engine) Checkpoint(unixMillis int64) (Checkpoint, error) {
	base, ok := e.attrs[0].oldest()
	if !ok {
		return Checkpoint{}, &InvariantError{Frame: e.clock.Count(), Reason: "attribute history is empty"}
	}
	snap := NewSnapshot(base, unixMillis, nil, nil)
	for _, a := range e.attrs {
		if !a.export(base, e.bridge, snap) {
			return Checkpoint{}, &InvariantError{Frame: e.clock.Count(), Reason: fmt.Sprintf("%s history lost frame %d", a.name(), base)}
		}
	}

	var inputs []IdentifiedInput
	for f := base + 1; f <= e.clock.Count(); f++ {
		slot := e.inputs.At(f)
		players := make([]world.PlayerID, 0, len(slot))
		for p := range slot {
			players = append(players, p)
		}
		sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
		for _, p := range players {
			inputs = append(inputs, IdentifiedInput{Player: p, Raw: slot[p], Frame: f})
		}
	}
	inputs = append(inputs, e.inputs.StagedInputs()...)
	return Checkpoint{Frame: e.clock.Count(), Base: snap, Inputs: inputs}, nil
}

// RestoreEngine rebuilds w from cp.Base and ticks it forward to cp.Frame
// with the recorded input. w must be empty.
func RestoreEngine(w *world.World, cfg Config, cp Checkpoint) (*Engine, error) {
	if cp.Base == nil {
		return nil, fmt.Errorf("restore: checkpoint has no base snapshot")
	}
	if cp.Frame <= cp.Base.Frame() {
		return nil, fmt.Errorf("restore: checkpoint frame %d not after base frame %d", cp.Frame, cp.Base.Frame())
	}
	if cfg.Bridge == nil {
		cfg.Bridge = bridge.New()
	}
	transforms := cp.Base.Transforms()
	players := cp.Base.Players()
	for _, id := range cp.Base.IDs() {
		o, _, err := cfg.Bridge.Materialize(w, id)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		if tr, ok := transforms[id]; ok {
			_ = w.SetTransform(o, tr)
		}
		if p, ok := players[id]; ok {
			_ = w.SetPlayer(o, p)
		}
	}

	cfg.StartFrame = cp.Base.Frame() + 1
	e := NewEngine(w, cfg)
	for _, in := range cp.Inputs {
		e.inputs.Accept(in)
	}
	for e.clock.Count() < cp.Frame {
		if _, err := e.Tick(); err != nil {
			return nil, err
		}
	}
	return e, nil
}
