package rollback

import (
	"errors"
	"testing"
)

func TestCorrections_RollbackKeepsEarliest(t *testing.T) {
	var c Corrections
	for _, f := range []uint64{9, 4, 7} {
		c.RequestRollback(f)
	}
	p := c.Drain()
	if !p.HasRollback || p.Rollback != 4 {
		t.Fatalf("pending = %+v, want rollback 4", p)
	}
	if !c.Empty() {
		t.Fatalf("Drain did not clear the registers")
	}
}

func TestCorrections_SyncNewestFrameWins(t *testing.T) {
	var c Corrections
	a := NewSnapshot(10, 1, nil, nil)
	b := NewSnapshot(10, 2, nil, nil)
	old := NewSnapshot(8, 3, nil, nil)

	if err := c.RequestSync(a); err != nil {
		t.Fatalf("RequestSync(a): %v", err)
	}
	if err := c.RequestSync(b); err != nil {
		t.Fatalf("same frame should replace: %v", err)
	}
	if err := c.RequestSync(old); !errors.Is(err, ErrOlderSnapshot) {
		t.Fatalf("older snapshot err = %v", err)
	}
	if p := c.Drain(); p.Sync != b {
		t.Fatalf("kept snapshot unix=%d, want the last frame-10 arrival", p.Sync.UnixMillis())
	}
	if p := c.Drain(); p.Sync != nil || p.HasRollback {
		t.Fatalf("second drain = %+v", p)
	}
}
