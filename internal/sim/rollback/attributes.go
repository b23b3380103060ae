package rollback

import (
	"sort"

	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/world"
)

// attribute is the history of one component type. The set is closed: the
// engine builds one per simulated attribute in newAttributes.
type attribute interface {
	name() string
	currentFrame() uint64
	holds(frame uint64) bool
	oldest() (uint64, bool)

	// seed records the world into the current slot.
	seed(w *world.World)
	// captureFromWorld opens frame and records every live value into it.
	captureFromWorld(w *world.World, frame uint64)
	// rollbackAndRestore rewinds to frame and puts its values back into w.
	rollbackAndRestore(w *world.World, frame uint64) bool
	// rollbackAndSync rewinds to the snapshot's frame, restores w from it and
	// overwrites both w and the slot with the snapshot's values.
	rollbackAndSync(w *world.World, snap *Snapshot, owners map[bridge.StableID]world.Owner) bool
	// backfill records o's current value into every retained frame.
	backfill(w *world.World, o world.Owner)
	// export copies the values held at frame into snap under their stable ids.
	export(frame uint64, b *bridge.Map, snap *Snapshot) bool
	// reset discards history and seeds frame from the snapshot.
	reset(w *world.World, snap *Snapshot, owners map[bridge.StableID]world.Owner)
}

type attributeTracker[T any] struct {
	label string
	hist  *Tracker[world.Owner, T]

	all          func(*world.World) map[world.Owner]T
	get          func(*world.World, world.Owner) (T, bool)
	set          func(*world.World, world.Owner, T) error
	fromSnapshot func(*Snapshot) map[bridge.StableID]T
	toSnapshot   func(*Snapshot, bridge.StableID, T)
}

func newAttributes(currentFrame uint64, window int) []attribute {
	return []attribute{
		&attributeTracker[world.Transform]{
			label:        "transform",
			hist:         NewTracker[world.Owner, world.Transform](currentFrame, window),
			all:          (*world.World).Transforms,
			get:          (*world.World).Transform,
			set:          (*world.World).SetTransform,
			fromSnapshot: (*Snapshot).Transforms,
			toSnapshot: func(s *Snapshot, id bridge.StableID, v world.Transform) {
				s.transforms[id] = v
			},
		},
		&attributeTracker[world.Player]{
			label:        "player",
			hist:         NewTracker[world.Owner, world.Player](currentFrame, window),
			all:          (*world.World).Players,
			get:          (*world.World).Player,
			set:          (*world.World).SetPlayer,
			fromSnapshot: (*Snapshot).Players,
			toSnapshot: func(s *Snapshot, id bridge.StableID, v world.Player) {
				s.players[id] = v
			},
		},
	}
}

func (a *attributeTracker[T]) name() string            { return a.label }
func (a *attributeTracker[T]) currentFrame() uint64    { return a.hist.CurrentFrame() }
func (a *attributeTracker[T]) holds(frame uint64) bool { return a.hist.Holds(frame) }
func (a *attributeTracker[T]) oldest() (uint64, bool)  { return a.hist.Oldest() }

func (a *attributeTracker[T]) captureFromWorld(w *world.World, frame uint64) {
	a.hist.Advance(frame)
	a.seed(w)
}

func (a *attributeTracker[T]) seed(w *world.World) {
	frame := a.hist.CurrentFrame()
	for o, v := range a.all(w) {
		a.hist.Write(o, v, frame)
	}
}

func (a *attributeTracker[T]) backfill(w *world.World, o world.Owner) {
	v, ok := a.get(w, o)
	if !ok {
		return
	}
	cur := a.hist.CurrentFrame()
	for n := 0; n < a.hist.Len(); n++ {
		a.hist.Write(o, v, cur-uint64(n))
	}
}

func (a *attributeTracker[T]) export(frame uint64, b *bridge.Map, snap *Snapshot) bool {
	slot, ok := a.hist.At(frame)
	if !ok {
		return false
	}
	for o, v := range slot {
		if id, ok := b.StableIDOf(o); ok {
			a.toSnapshot(snap, id, v)
		}
	}
	return true
}

func (a *attributeTracker[T]) rollbackAndRestore(w *world.World, frame uint64) bool {
	if !a.hist.Holds(frame) {
		return false
	}
	a.hist.Rebase(frame)
	a.restore(w)
	return true
}

func (a *attributeTracker[T]) rollbackAndSync(w *world.World, snap *Snapshot, owners map[bridge.StableID]world.Owner) bool {
	if !a.hist.Rebase(snap.Frame()) {
		return false
	}
	a.restore(w)
	a.apply(w, snap, owners)
	a.seed(w)
	return true
}

func (a *attributeTracker[T]) reset(w *world.World, snap *Snapshot, owners map[bridge.StableID]world.Owner) {
	a.hist.Reset(snap.Frame())
	a.apply(w, snap, owners)
	a.seed(w)
}

// restore copies the current slot back into the world. Owners that no longer
// exist locally are skipped.
func (a *attributeTracker[T]) restore(w *world.World) {
	slot := a.hist.Latest()
	keys := make([]world.Owner, 0, len(slot))
	for o := range slot {
		keys = append(keys, o)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, o := range keys {
		if !w.Exists(o) {
			continue
		}
		_ = a.set(w, o, slot[o])
	}
}

func (a *attributeTracker[T]) apply(w *world.World, snap *Snapshot, owners map[bridge.StableID]world.Owner) {
	for id, v := range a.fromSnapshot(snap) {
		o, ok := owners[id]
		if !ok {
			continue
		}
		_ = a.set(w, o, v)
	}
}
