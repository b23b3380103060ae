package indexdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: runtime.TickLogEntry{Frame: 1}}

	_ = s.WriteTick(runtime.TickLogEntry{Frame: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops = %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_IndexesTicksAndSnapshots(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "world.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.UpsertTuning("arena", tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	entries := []runtime.TickLogEntry{
		{Frame: 1, Simulated: 1, Kind: "plain", Steps: 1, Digest: "a",
			Joins: []runtime.RecordedJoin{{PlayerID: 1, ObjectID: "o1"}}},
		{Frame: 2, Simulated: 2, Kind: "plain", Steps: 1, Digest: "b",
			Inputs: []runtime.RecordedInput{{PlayerID: 1, Frame: 2, X: 1}}},
		{Frame: 3, Simulated: 3, Kind: "rollback", Steps: 2, Digest: "c",
			Inputs: []runtime.RecordedInput{{PlayerID: 1, Frame: 2, X: -1}}},
		{Frame: 4, Simulated: 4, Kind: "plain", Steps: 1, Digest: "d", Leaves: []string{"o1"}},
	}
	for _, e := range entries {
		if err := idx.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	idx.RecordSnapshot("/data/3.snap.zst", snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: 1, Frame: 3},
		BaseFrame: 1,
		Objects:   []snapshot.ObjectV1{{ID: "o1"}},
		Digest:    "b",
	})
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rbs, err := idx.Rollbacks(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Rollbacks: %v", err)
	}
	if len(rbs) != 1 || rbs[0] != (RollbackRow{Frame: 3, Kind: "rollback", Steps: 2}) {
		t.Fatalf("rollbacks = %+v", rbs)
	}

	snap, ok, err := idx.LatestSnapshot(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot: ok=%v err=%v", ok, err)
	}
	if snap.Frame != 3 || snap.BaseFrame != 1 || snap.Objects != 1 || snap.Path != "/data/3.snap.zst" {
		t.Fatalf("snapshot row = %+v", snap)
	}
	if _, ok, _ := idx.LatestSnapshot(ctx, 2); ok {
		t.Fatalf("found a snapshot before frame 3")
	}

	if d, ok, err := idx.TickDigest(ctx, 4); err != nil || !ok || d != "d" {
		t.Fatalf("TickDigest = %q %v %v", d, ok, err)
	}

	raw, ok, err := idx.Meta(ctx, "tuning")
	if err != nil || !ok {
		t.Fatalf("Meta: ok=%v err=%v", ok, err)
	}
	var tu tuning.Tuning
	if err := json.Unmarshal([]byte(raw), &tu); err != nil || tu.TickRateHz != 60 {
		t.Fatalf("stored tuning = %s (%v)", raw, err)
	}

	var inputs int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inputs WHERE player_id = 1 AND input_frame = 2`).Scan(&inputs); err != nil {
		t.Fatalf("count inputs: %v", err)
	}
	if inputs != 2 {
		t.Fatalf("inputs = %d", inputs)
	}
}
