package rollback

import (
	"testing"

	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/world"
)

func TestInputReconciler_StagingExactlyOnce(t *testing.T) {
	r := NewInputReconciler(5, 10, nil)

	if got := r.Accept(IdentifiedInput{Player: 1, Raw: world.RawInput{X: 1}, Frame: 7}); got != Staged {
		t.Fatalf("future input: %s", got)
	}
	if got := r.Accept(IdentifiedInput{Player: 2, Raw: world.RawInput{Y: -1}, Frame: 9}); got != Staged {
		t.Fatalf("future input: %s", got)
	}

	r.Advance(6)
	if r.Has(6) || r.Staged() != 2 {
		t.Fatalf("frame 6: has=%v staged=%d", r.Has(6), r.Staged())
	}
	r.Advance(7)
	if got := r.At(7)[1]; got != (world.RawInput{X: 1}) {
		t.Fatalf("frame 7 input = %+v", got)
	}
	if r.Staged() != 1 {
		t.Fatalf("staged after flush = %d", r.Staged())
	}
	r.Advance(8)
	if r.Has(8) {
		t.Fatalf("input flushed twice: %v", r.At(8))
	}
	if frames := r.StagedFrames(); len(frames) != 1 || frames[0] != 9 {
		t.Fatalf("StagedFrames = %v", frames)
	}
}

func TestInputReconciler_DropsOlderThanWindow(t *testing.T) {
	r := NewInputReconciler(1, 3, nil)
	for f := uint64(2); f <= 10; f++ {
		r.Advance(f)
	}
	if got := r.Accept(IdentifiedInput{Player: 1, Frame: 7}); got != Dropped {
		t.Fatalf("input older than window: %s", got)
	}
	if r.Dropped() != 1 {
		t.Fatalf("Dropped = %d", r.Dropped())
	}
	if got := r.Accept(IdentifiedInput{Player: 1, Raw: world.RawInput{X: 1}, Frame: 8}); got != Applied {
		t.Fatalf("oldest retained frame: %s", got)
	}
	latest := r.Latest()
	latest[3] = world.RawInput{X: 1}
	if r.Has(10) {
		t.Fatalf("Latest leaked internal storage")
	}
}

func TestSnapshot_Immutable(t *testing.T) {
	id := bridge.NewStableID()
	trs := map[bridge.StableID]world.Transform{id: world.TransformAt(1, 2, 3)}
	s := NewSnapshot(3, 0, trs, nil)
	trs[id] = world.TransformAt(9, 9, 9)
	got := s.Transforms()
	if got[id] != world.TransformAt(1, 2, 3) {
		t.Fatalf("snapshot aliased caller map: %v", got[id])
	}
	got[id] = world.TransformAt(0, 0, 0)
	if s.Transforms()[id] != world.TransformAt(1, 2, 3) {
		t.Fatalf("accessor leaked internal map")
	}
}
