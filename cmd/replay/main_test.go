package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	persistlog "rollback.gg/internal/persistence/log"
	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/tuning"
	"rollback.gg/internal/sim/world"
)

// recordWorld runs a short two-player session with late input from player 2
// and returns the snapshots it emitted. The tick log lands under worldDir.
func recordWorld(t *testing.T, worldDir string, steps int) []snapshot.SnapshotV1 {
	t.Helper()
	tu := tuning.Defaults()
	tu.SyncEveryTicks = 1000
	tu.SnapshotEveryTicks = 20

	tickLog := persistlog.NewTickLogger(worldDir)
	sink := make(chan snapshot.SnapshotV1, 8)
	s := runtime.NewServer(runtime.ServerConfig{WorldID: "arena", Tuning: tu, TickLogger: tickLog, SnapshotSink: sink})

	join := func(id world.PlayerID) runtime.JoinRequest {
		return runtime.JoinRequest{PlayerID: id, Name: id.String(), Out: runtime.NewOutbox(256), Resp: make(chan runtime.JoinResponse, 1)}
	}
	in := func(id world.PlayerID, frame uint64, x int8) runtime.InputEnvelope {
		return runtime.InputEnvelope{PlayerID: id, Msg: protocol.InputMsg{Type: protocol.TypeInput, Frame: frame, X: x}}
	}

	for i := 0; i < steps; i++ {
		var joins []runtime.JoinRequest
		var inputs []runtime.InputEnvelope
		f := s.Stats().Frame
		if i == 0 {
			joins = []runtime.JoinRequest{join(1), join(2)}
		} else {
			inputs = append(inputs, in(1, f, 1))
			if i%5 == 0 && f > 3 {
				inputs = append(inputs, in(2, f-3, -1))
			}
		}
		if _, err := s.StepOnce(joins, nil, inputs); err != nil {
			t.Fatalf("StepOnce %d: %v", i, err)
		}
	}
	if err := tickLog.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}
	close(sink)
	var snaps []snapshot.SnapshotV1
	for snap := range sink {
		snaps = append(snaps, snap)
	}
	return snaps
}

func TestReplay_MatchesRecordedDigests(t *testing.T) {
	worldDir := t.TempDir()
	snaps := recordWorld(t, worldDir, 60)
	if len(snaps) == 0 {
		t.Fatalf("no snapshots emitted")
	}

	path := snapshot.Path(filepath.Join(worldDir, "snapshots"), snaps[0].Header.Frame)
	if err := snapshot.WriteSnapshot(path, snaps[0]); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	r, err := runtime.NewReplayer(snap, nil)
	if err != nil {
		t.Fatalf("NewReplayer: %v", err)
	}

	res, err := replay(context.Background(), r, persistlog.TickDir(worldDir), 0, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.first != snap.Header.Frame || res.last != 60 {
		t.Fatalf("replayed %d..%d, want %d..60", res.first, res.last, snap.Header.Frame)
	}
	if res.checked != 60-snap.Header.Frame+1 {
		t.Fatalf("checked = %d", res.checked)
	}
	if res.rollbacks == 0 {
		t.Fatalf("expected late input to cause rollbacks")
	}
}

func TestReplay_StopsAtToFrame(t *testing.T) {
	worldDir := t.TempDir()
	snaps := recordWorld(t, worldDir, 40)
	if len(snaps) == 0 {
		t.Fatalf("no snapshots emitted")
	}
	r, err := runtime.NewReplayer(snaps[0], nil)
	if err != nil {
		t.Fatalf("NewReplayer: %v", err)
	}
	to := snaps[0].Header.Frame + 5
	res, err := replay(context.Background(), r, persistlog.TickDir(worldDir), to, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.last != to || res.checked != 6 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLatestSnapshot_PicksHighestFrame(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"9.snap.zst", "41.snap.zst", "100.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	got, err := latestSnapshot(dir)
	if err != nil {
		t.Fatalf("latestSnapshot: %v", err)
	}
	if want := filepath.Join(dir, "100.snap.zst"); got != want {
		t.Fatalf("latest = %s, want %s", got, want)
	}
	if _, err := latestSnapshot(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
