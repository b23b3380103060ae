package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rollback.gg/internal/sim/runtime"
)

func TestTickLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	worldDir := t.TempDir()
	l := NewTickLogger(worldDir)
	now := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for f := uint64(1); f <= 6; f++ {
		if f == 4 {
			now = now.Add(2 * time.Minute)
		}
		e := runtime.TickLogEntry{Frame: f, Simulated: f, Kind: "plain", Steps: 1, Digest: "d"}
		if f == 5 {
			e.Kind = "rollback"
			e.Inputs = []runtime.RecordedInput{{PlayerID: 1, Frame: 3, X: 1}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := TickFiles(TickDir(worldDir))
	if err != nil {
		t.Fatalf("TickFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-01-02-03.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}

	var got []runtime.TickLogEntry
	if err := ReadTicks(TickDir(worldDir), 3, func(e runtime.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 4 || got[0].Frame != 3 || got[3].Frame != 6 {
		t.Fatalf("entries = %+v", got)
	}
	if got[2].Kind != "rollback" || len(got[2].Inputs) != 1 || got[2].Inputs[0].X != 1 {
		t.Fatalf("rollback entry = %+v", got[2])
	}
}

func TestReadTicks_StopsEarly(t *testing.T) {
	worldDir := t.TempDir()
	l := NewTickLogger(worldDir)
	for f := uint64(1); f <= 3; f++ {
		if err := l.WriteTick(runtime.TickLogEntry{Frame: f}); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	_ = l.Close()

	n := 0
	err := ReadTicks(TickDir(worldDir), 0, func(runtime.TickLogEntry) error {
		n++
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestReadTicks_EmptyDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	if err := ReadTicks(dir, 0, func(runtime.TickLogEntry) error { return nil }); err != nil {
		t.Fatalf("ReadTicks on missing dir: %v", err)
	}
}

func TestTickLogger_ReopenSameHourAppends(t *testing.T) {
	worldDir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	for f := uint64(1); f <= 4; f++ {
		// A restart within the hour reopens the same file.
		l := NewTickLogger(worldDir)
		l.now = func() time.Time { return now }
		if err := l.WriteTick(runtime.TickLogEntry{Frame: f}); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	files, err := TickFiles(TickDir(worldDir))
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v err=%v", files, err)
	}
	var frames []uint64
	if err := ReadTicks(TickDir(worldDir), 0, func(e runtime.TickLogEntry) error {
		frames = append(frames, e.Frame)
		return nil
	}); err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(frames) != 4 || frames[0] != 1 || frames[3] != 4 {
		t.Fatalf("frames = %v", frames)
	}
}
