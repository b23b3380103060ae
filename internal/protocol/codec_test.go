package protocol

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeReliable_GameSync(t *testing.T) {
	in := GameSyncMsg{
		Type:            TypeGameSync,
		ProtocolVersion: Version,
		Frame:           42,
		UnixMillis:      1700000000123,
		Objects: []SyncObject{{
			ObjectID:  "5b0e2c8e-7d7b-4b52-9f0a-2f1b8d1c9e11",
			Transform: &TransformState{Translation: Vec3{1, 2, 3}},
			Player:    &PlayerState{ID: 4, Speed: 100},
		}},
	}
	b, err := EncodeReliable(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeReliable(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := got.(GameSyncMsg)
	if !ok {
		t.Fatalf("decoded %T", got)
	}
	if m.Frame != 42 || len(m.Objects) != 1 || m.Objects[0].Player.ID != 4 || m.Objects[0].Transform.Translation != (Vec3{1, 2, 3}) {
		t.Fatalf("decoded %+v", m)
	}
}

func TestDecodeUnreliable_RoutesByType(t *testing.T) {
	b, err := EncodeUnreliable(InputMsg{Type: TypeInput, Frame: 9, X: -1, Y: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeUnreliable(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in, ok := got.(InputMsg); !ok || in.Frame != 9 || in.X != -1 || in.Y != 1 {
		t.Fatalf("decoded %#v", got)
	}

	b, _ = EncodeUnreliable(PlayerInputMsg{Type: TypePlayerInput, PlayerID: 3, Frame: 10, X: 1})
	got, err = DecodeUnreliable(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pi, ok := got.(PlayerInputMsg); !ok || pi.PlayerID != 3 || pi.Frame != 10 {
		t.Fatalf("decoded %#v", got)
	}
}

func TestDecodeUnreliable_Garbage(t *testing.T) {
	if _, err := DecodeUnreliable([]byte{0xc1, 0x00}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	b, _ := msgpack.Marshal(map[string]any{"type": "LOGIN"})
	if _, err := DecodeUnreliable(b); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
