package rollback

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/frame"
	"rollback.gg/internal/sim/world"
)

type Config struct {
	// Frame the clock reads before the first tick. Zero means 1.
	StartFrame uint64
	Window     int
	Step       world.StepFunc

	// Shared with whoever mints stable ids (the server) or learns them from
	// connect events (clients). Nil creates a private map.
	Bridge *bridge.Map
	Logger *log.Logger
}

type TickKind int

const (
	TickPlain TickKind = iota + 1
	TickRollback
	TickResync
	TickRollForward
)

func (k TickKind) String() string {
	switch k {
	case TickPlain:
		return "plain"
	case TickRollback:
		return "rollback"
	case TickResync:
		return "resync"
	case TickRollForward:
		return "roll_forward"
	default:
		return "unknown"
	}
}

// TickReport describes what one Tick did.
type TickReport struct {
	Kind TickKind
	// Clock frame the tick started on.
	Frame uint64
	// Frame the world state was rewound to, or the snapshot frame.
	From uint64
	// Steps run, including the tick's own.
	Steps int
	// Set when a correction was discarded as stale; the tick still ran.
	Dropped error
}

// Stats are cumulative engine counters. They are safe to read from other
// goroutines while the engine ticks.
type Stats struct {
	Ticks          atomic.Uint64
	PlainTicks     atomic.Uint64
	Rollbacks      atomic.Uint64
	Resyncs        atomic.Uint64
	RollForwards   atomic.Uint64
	Resimulated    atomic.Uint64
	StaleInputs    atomic.Uint64
	StagedInputs   atomic.Uint64
	StaleSnapshots atomic.Uint64
	StaleRollbacks atomic.Uint64
}

type StatsSnapshot struct {
	Ticks          uint64 `json:"ticks"`
	PlainTicks     uint64 `json:"plain_ticks"`
	Rollbacks      uint64 `json:"rollbacks"`
	Resyncs        uint64 `json:"resyncs"`
	RollForwards   uint64 `json:"roll_forwards"`
	Resimulated    uint64 `json:"resimulated_frames"`
	StaleInputs    uint64 `json:"stale_inputs"`
	StagedInputs   uint64 `json:"staged_inputs"`
	StaleSnapshots uint64 `json:"stale_snapshots"`
	StaleRollbacks uint64 `json:"stale_rollbacks"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Ticks:          s.Ticks.Load(),
		PlainTicks:     s.PlainTicks.Load(),
		Rollbacks:      s.Rollbacks.Load(),
		Resyncs:        s.Resyncs.Load(),
		RollForwards:   s.RollForwards.Load(),
		Resimulated:    s.Resimulated.Load(),
		StaleInputs:    s.StaleInputs.Load(),
		StagedInputs:   s.StagedInputs.Load(),
		StaleSnapshots: s.StaleSnapshots.Load(),
		StaleRollbacks: s.StaleRollbacks.Load(),
	}
}

// Engine owns the world, its history and the clock. It is not safe for
// concurrent use; the runtime loop is its only caller.
type Engine struct {
	world  *world.World
	bridge *bridge.Map
	step   world.StepFunc
	dt     float64
	log    *log.Logger

	clock       *frame.Clock
	inputs      *InputReconciler
	attrs       []attribute
	corrections Corrections

	stats Stats
}

func NewEngine(w *world.World, cfg Config) *Engine {
	if cfg.StartFrame == 0 {
		cfg.StartFrame = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Step == nil {
		cfg.Step = world.ProcessInput
	}
	if cfg.Bridge == nil {
		cfg.Bridge = bridge.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		world:  w,
		bridge: cfg.Bridge,
		step:   cfg.Step,
		dt:     w.DeltaSeconds(),
		log:    cfg.Logger,
		clock:  frame.NewClock(cfg.StartFrame),
		inputs: NewInputReconciler(cfg.StartFrame, cfg.Window, cfg.Logger),
		attrs:  newAttributes(cfg.StartFrame-1, cfg.Window),
	}
	for _, a := range e.attrs {
		a.seed(w)
	}
	return e
}

func (e *Engine) World() *world.World  { return e.world }
func (e *Engine) Bridge() *bridge.Map  { return e.bridge }
func (e *Engine) Window() int          { return e.inputs.Window() }
func (e *Engine) Stats() StatsSnapshot { return e.stats.Snapshot() }

// Frame is the frame the next Tick will simulate.
func (e *Engine) Frame() uint64 { return e.clock.Count() }

// SimulatedFrame is the last frame whose step has run; the world holds its
// state.
func (e *Engine) SimulatedFrame() uint64 { return e.attrs[0].currentFrame() }

// AcceptInput feeds a remote or local input into the reconciler. Input for a
// frame already simulated schedules a rollback to it.
func (e *Engine) AcceptInput(in IdentifiedInput) AcceptResult {
	res := e.inputs.Accept(in)
	switch res {
	case Applied:
		if in.Frame < e.clock.Count() {
			e.corrections.RequestRollback(in.Frame)
		}
	case Staged:
		e.stats.StagedInputs.Add(1)
	case Dropped:
		e.stats.StaleInputs.Add(1)
	}
	return res
}

// RecordLocalInput stores the local player's input for the frame about to be
// simulated.
func (e *Engine) RecordLocalInput(player world.PlayerID, raw world.RawInput) IdentifiedInput {
	in := IdentifiedInput{Player: player, Raw: raw, Frame: e.clock.Count()}
	e.inputs.Accept(in)
	return in
}

// InputAt returns the recorded input for frame.
func (e *Engine) InputAt(f uint64) world.InputFrame { return e.inputs.At(f) }

func (e *Engine) RequestRollback(f uint64) { e.corrections.RequestRollback(f) }

func (e *Engine) RequestSync(s *Snapshot) error { return e.corrections.RequestSync(s) }

// SpawnPlayer adds a networked player object under id. Its starting values
// are written into every retained frame so a rollback past the spawn leaves
// it where it appeared.
func (e *Engine) SpawnPlayer(id bridge.StableID, p world.Player, tr world.Transform) (world.Owner, error) {
	if _, ok := e.bridge.Lookup(id); ok {
		return world.Owner{}, fmt.Errorf("spawn %s: %w", p.ID, bridge.ErrDuplicateStableID)
	}
	o := e.world.SpawnPlayer(p.ID, tr)
	if err := e.world.SetPlayer(o, p); err != nil {
		return world.Owner{}, err
	}
	if err := e.bridge.Insert(id, o); err != nil {
		e.world.Despawn(o)
		return world.Owner{}, err
	}
	for _, a := range e.attrs {
		a.backfill(e.world, o)
	}
	return o, nil
}

// Despawn removes the object bound to id. History keeps its old values;
// restores skip owners that no longer exist.
func (e *Engine) Despawn(id bridge.StableID) bool {
	o, ok := e.bridge.Remove(id)
	if !ok {
		return false
	}
	return e.world.Despawn(o)
}

// Snapshot captures the state after the last simulated frame.
func (e *Engine) Snapshot(unixMillis int64) *Snapshot {
	return CaptureSnapshot(e.world, e.bridge, e.SimulatedFrame(), unixMillis)
}

// Join applies the first authoritative snapshot and ticks until the clock
// reaches target, the frame the server is estimated to be on.
func (e *Engine) Join(snap *Snapshot, target uint64) (int, error) {
	if err := e.RequestSync(snap); err != nil {
		return 0, err
	}
	ticks := 0
	for {
		if _, err := e.Tick(); err != nil {
			return ticks, err
		}
		ticks++
		if e.clock.Count() >= target {
			return ticks, nil
		}
	}
}

// Tick runs exactly one frame of wall-clock time, applying at most one
// drained correction first.
func (e *Engine) Tick() (TickReport, error) {
	f := e.clock.Count()
	p := e.corrections.Drain()
	rep := TickReport{Frame: f}

	var err error
	handled := false
	if p.Sync != nil {
		handled, err = e.applySync(p.Sync, &rep)
		if err != nil {
			return rep, err
		}
	}
	if !handled && p.HasRollback {
		handled, err = e.applyRollback(p.Rollback, &rep)
		if err != nil {
			return rep, err
		}
	}
	if !handled {
		e.simulate(f)
		rep.Kind = TickPlain
		rep.From = f - 1
		rep.Steps = 1
		e.stats.PlainTicks.Add(1)
	}

	e.clock.Increment()
	e.inputs.Advance(e.clock.Count())
	e.stats.Ticks.Add(1)
	return rep, nil
}

func (e *Engine) applySync(s *Snapshot, rep *TickReport) (bool, error) {
	f := e.clock.Count()
	sf := s.Frame()

	if sf > f {
		for next := f + 1; next <= sf+1; next++ {
			e.inputs.Advance(next)
		}
		owners, _, err := e.materialize(s)
		if err != nil {
			return false, err
		}
		for _, a := range e.attrs {
			a.reset(e.world, s, owners)
		}
		e.clock.JumpTo(sf + 1)
		e.simulate(sf + 1)
		*rep = TickReport{Kind: TickRollForward, Frame: f, From: sf, Steps: 1}
		e.stats.RollForwards.Add(1)
		e.log.Printf("rolled forward from frame %d to snapshot frame %d", f, sf)
		return true, nil
	}

	if sf != f && !e.attrs[0].holds(sf) {
		e.stats.StaleSnapshots.Add(1)
		rep.Dropped = fmt.Errorf("%w: snapshot frame %d, current frame %d", ErrStaleSnapshot, sf, f)
		e.log.Printf("dropping snapshot: %v", rep.Dropped)
		return false, nil
	}

	owners, created, err := e.materialize(s)
	if err != nil {
		return false, err
	}
	for _, a := range e.attrs {
		if !a.rollbackAndSync(e.world, s, owners) {
			return false, &InvariantError{Frame: f, Reason: fmt.Sprintf("%s history lost frame %d during resync", a.name(), sf)}
		}
		// Objects first seen in this snapshot get its values as their past,
		// like SpawnPlayer does, so a later rollback below sf restores them.
		for _, o := range created {
			a.backfill(e.world, o)
		}
	}
	steps := e.resimulate(sf+1, f)
	*rep = TickReport{Kind: TickResync, Frame: f, From: sf, Steps: steps}
	e.stats.Resyncs.Add(1)
	return true, nil
}

func (e *Engine) applyRollback(r uint64, rep *TickReport) (bool, error) {
	f := e.clock.Count()
	switch {
	case r == f:
		return false, nil
	case r > f || r == 0 || !e.attrs[0].holds(r-1) || !e.inputs.Holds(r):
		e.stats.StaleRollbacks.Add(1)
		rep.Dropped = fmt.Errorf("%w: rollback to %d, current frame %d", ErrStaleRollback, r, f)
		e.log.Printf("dropping rollback: %v", rep.Dropped)
		return false, nil
	}
	if !e.inputs.Has(r) {
		return false, &InvariantError{Frame: f, Reason: fmt.Sprintf("rollback to frame %d with empty input", r)}
	}
	for _, a := range e.attrs {
		a.rollbackAndRestore(e.world, r-1)
	}
	steps := e.resimulate(r, f)
	*rep = TickReport{Kind: TickRollback, Frame: f, From: r - 1, Steps: steps}
	e.stats.Rollbacks.Add(1)
	return true, nil
}

func (e *Engine) resimulate(from, to uint64) int {
	steps := 0
	for f := from; f <= to; f++ {
		e.simulate(f)
		steps++
	}
	if steps > 1 {
		e.stats.Resimulated.Add(uint64(steps - 1))
	}
	return steps
}

func (e *Engine) simulate(f uint64) {
	e.step(e.world, e.inputs.At(f), e.dt)
	for _, a := range e.attrs {
		a.captureFromWorld(e.world, f)
	}
}

func (e *Engine) materialize(s *Snapshot) (map[bridge.StableID]world.Owner, []world.Owner, error) {
	ids := s.IDs()
	owners := make(map[bridge.StableID]world.Owner, len(ids))
	var created []world.Owner
	for _, id := range ids {
		o, isNew, err := e.bridge.Materialize(e.world, id)
		if err != nil {
			return nil, nil, &InvariantError{Frame: e.clock.Count(), Reason: "materialize snapshot object", Err: err}
		}
		owners[id] = o
		if isNew {
			created = append(created, o)
		}
	}
	return owners, created, nil
}
