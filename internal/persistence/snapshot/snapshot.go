package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	// Server clock frame when the snapshot was taken.
	Frame uint64 `json:"frame"`
}

// SnapshotV1 is an authoritative server checkpoint: the oldest frame no
// correction can reach plus the input that replays forward from it.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate       int     `json:"tick_rate_hz"`
	RollbackWindow int     `json:"rollback_window"`
	PlayerSpeed    float64 `json:"player_speed"`

	BaseFrame  uint64 `json:"base_frame"`
	UnixMillis int64  `json:"unix_ms"`

	Objects []ObjectV1 `json:"objects"`
	Inputs  []InputV1  `json:"inputs,omitempty"`

	// Digest of the live state at Header.Frame-1, for replay verification.
	Digest string `json:"digest"`
}

type ObjectV1 struct {
	ID          string     `json:"id"`
	HasPlayer   bool       `json:"has_player"`
	PlayerID    uint64     `json:"player_id,omitempty"`
	Speed       float64    `json:"speed,omitempty"`
	HasPos      bool       `json:"has_pos"`
	Translation [3]float64 `json:"translation"`
}

type InputV1 struct {
	PlayerID uint64 `json:"player_id"`
	Frame    uint64 `json:"frame"`
	X        int8   `json:"x"`
	Y        int8   `json:"y"`
}

// Path returns the conventional file name for a snapshot taken at frame.
func Path(dir string, frame uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", frame))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for humans and tooling; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != 1 {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
