package world

import "testing"

func TestDeterminism_FixedInputsSameDigest(t *testing.T) {
	cfg := WorldConfig{ID: "test", TickRateHz: 60, PlayerSpeed: 7.5}

	w1 := New(cfg)
	w2 := New(cfg)
	for _, w := range []*World{w1, w2} {
		w.SpawnPlayer(1, TransformAt(0, 0, 0))
		w.SpawnPlayer(2, TransformAt(3, -4, 0))
	}

	for tick := uint64(0); tick < 120; tick++ {
		in := InputFrame{}
		if tick%3 == 0 {
			in[1] = RawInput{X: 1}
		}
		if tick%5 == 0 {
			in[2] = RawInput{X: -1, Y: 1}
		}
		ProcessInput(w1, in, w1.DeltaSeconds())
		ProcessInput(w2, in, w2.DeltaSeconds())

		d1 := w1.Digest(tick)
		d2 := w2.Digest(tick)
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", tick, d1, d2)
		}
	}
}

func TestDigest_ChangesWithState(t *testing.T) {
	w := New(WorldConfig{ID: "test"})
	o := w.SpawnPlayer(1, TransformAt(0, 0, 0))
	before := w.Digest(5)
	if err := w.SetTransform(o, TransformAt(0, 0, 1e-9)); err != nil {
		t.Fatalf("SetTransform: %v", err)
	}
	if after := w.Digest(5); after == before {
		t.Fatalf("digest did not change after moving owner")
	}
	if w.Digest(5) == w.Digest(6) {
		t.Fatalf("digest should include the frame")
	}
}
