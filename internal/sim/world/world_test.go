package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSpawn_ReusesSlotWithNewGeneration(t *testing.T) {
	w := New(WorldConfig{})
	a := w.Spawn()
	b := w.Spawn()
	if a == b {
		t.Fatalf("owners should differ: %v %v", a, b)
	}
	if !w.Despawn(a) {
		t.Fatalf("Despawn(%v) failed", a)
	}
	if w.Exists(a) {
		t.Fatalf("despawned owner still exists")
	}
	c := w.Spawn()
	if c.Index != a.Index || c.Gen != a.Gen+1 {
		t.Fatalf("expected reuse of slot %d with gen %d, got %v", a.Index, a.Gen+1, c)
	}
	if w.Exists(a) {
		t.Fatalf("stale handle must not resolve to the new occupant")
	}
	if err := w.SetTransform(a, Transform{}); err == nil {
		t.Fatalf("expected error writing through a stale handle")
	}
	if got := w.Owners(); len(got) != 2 || got[0] != c || got[1] != b {
		t.Fatalf("owners order: %v", got)
	}
}

func TestProcessInput_MovesBySpeedTimesDelta(t *testing.T) {
	w := New(WorldConfig{TickRateHz: 10, PlayerSpeed: 2})
	mover := w.SpawnPlayer(7, TransformAt(1, 1, 0))
	idle := w.SpawnPlayer(8, TransformAt(0, 0, 0))

	ProcessInput(w, InputFrame{7: {X: 1, Y: -1}}, w.DeltaSeconds())

	tr, _ := w.Transform(mover)
	want := mgl64.Vec3{1.2, 0.8, 0}
	if !tr.Translation.ApproxEqual(want) {
		t.Fatalf("mover: got %v want %v", tr.Translation, want)
	}
	tr, _ = w.Transform(idle)
	if tr.Translation != (mgl64.Vec3{}) {
		t.Fatalf("idle player moved: %v", tr.Translation)
	}
}

func TestProcessInput_ClampsAxes(t *testing.T) {
	w := New(WorldConfig{TickRateHz: 1, PlayerSpeed: 1})
	o := w.SpawnPlayer(1, Transform{})
	ProcessInput(w, InputFrame{1: {X: 100, Y: -100}}, 1)
	tr, _ := w.Transform(o)
	if tr.Translation != (mgl64.Vec3{1, -1, 0}) {
		t.Fatalf("got %v", tr.Translation)
	}
}

func TestFindPlayer(t *testing.T) {
	w := New(WorldConfig{})
	w.SpawnPlayer(1, Transform{})
	o2 := w.SpawnPlayer(2, Transform{})
	got, ok := w.FindPlayer(2)
	if !ok || got != o2 {
		t.Fatalf("FindPlayer(2) = %v, %v", got, ok)
	}
	if _, ok := w.FindPlayer(3); ok {
		t.Fatalf("FindPlayer(3) should miss")
	}
}
