package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	in := SnapshotV1{
		Header:         Header{Version: 1, WorldID: "arena", Frame: 121},
		TickRate:       60,
		RollbackWindow: 10,
		PlayerSpeed:    100,
		BaseFrame:      110,
		UnixMillis:     1700000000000,
		Objects: []ObjectV1{
			{ID: "5b0e2c8e-7d7b-4b52-9f0a-2f1b8d1c9e11", HasPlayer: true, PlayerID: 3, Speed: 100, HasPos: true, Translation: [3]float64{1, -2, 0}},
		},
		Inputs: []InputV1{{PlayerID: 3, Frame: 111, X: 1}},
		Digest: "abc",
	}
	path := Path(filepath.Join(dir, "snapshots"), in.Header.Frame)
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header = %+v", h)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.BaseFrame != 110 || len(got.Objects) != 1 || got.Objects[0].Translation != in.Objects[0].Translation {
		t.Fatalf("got %+v", got)
	}
	if len(got.Inputs) != 1 || got.Inputs[0] != in.Inputs[0] || got.Digest != "abc" {
		t.Fatalf("inputs/digest = %+v %q", got.Inputs, got.Digest)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v9.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 9}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
