package rollback

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/world"
)

// Snapshot is the authoritative state after a frame's step, keyed by stable
// id so any peer can apply it. Snapshots are immutable once built.
type Snapshot struct {
	frame      uint64
	unixMillis int64
	transforms map[bridge.StableID]world.Transform
	players    map[bridge.StableID]world.Player
}

// NewSnapshot copies the given maps.
func NewSnapshot(frame uint64, unixMillis int64, transforms map[bridge.StableID]world.Transform, players map[bridge.StableID]world.Player) *Snapshot {
	s := &Snapshot{
		frame:      frame,
		unixMillis: unixMillis,
		transforms: make(map[bridge.StableID]world.Transform, len(transforms)),
		players:    make(map[bridge.StableID]world.Player, len(players)),
	}
	for id, tr := range transforms {
		s.transforms[id] = tr
	}
	for id, p := range players {
		s.players[id] = p
	}
	return s
}

// CaptureSnapshot reads every object known to the bridge out of w.
func CaptureSnapshot(w *world.World, b *bridge.Map, frame uint64, unixMillis int64) *Snapshot {
	s := &Snapshot{
		frame:      frame,
		unixMillis: unixMillis,
		transforms: map[bridge.StableID]world.Transform{},
		players:    map[bridge.StableID]world.Player{},
	}
	for _, id := range b.IDs() {
		o, _ := b.Lookup(id)
		if tr, ok := w.Transform(o); ok {
			s.transforms[id] = tr
		}
		if p, ok := w.Player(o); ok {
			s.players[id] = p
		}
	}
	return s
}

func (s *Snapshot) Frame() uint64     { return s.frame }
func (s *Snapshot) UnixMillis() int64 { return s.unixMillis }

func (s *Snapshot) Transforms() map[bridge.StableID]world.Transform {
	out := make(map[bridge.StableID]world.Transform, len(s.transforms))
	for id, tr := range s.transforms {
		out[id] = tr
	}
	return out
}

func (s *Snapshot) Players() map[bridge.StableID]world.Player {
	out := make(map[bridge.StableID]world.Player, len(s.players))
	for id, p := range s.players {
		out[id] = p
	}
	return out
}

// IDs lists every stable id carried by the snapshot, sorted.
func (s *Snapshot) IDs() []bridge.StableID {
	seen := make(map[bridge.StableID]struct{}, len(s.transforms))
	for id := range s.transforms {
		seen[id] = struct{}{}
	}
	for id := range s.players {
		seen[id] = struct{}{}
	}
	out := make([]bridge.StableID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// PlayerStableID finds the stable id of the object carrying player id.
func (s *Snapshot) PlayerStableID(id world.PlayerID) (bridge.StableID, bool) {
	for _, sid := range s.IDs() {
		if p, ok := s.players[sid]; ok && p.ID == id {
			return sid, true
		}
	}
	return bridge.StableID{}, false
}

// Digest hashes the snapshot by stable id so peers with different local
// owner handles can compare state. The capture time is not included.
func (s *Snapshot) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	putU64(s.frame)
	for _, id := range s.IDs() {
		h.Write(id[:])
		if p, ok := s.players[id]; ok {
			h.Write([]byte{1})
			putU64(uint64(p.ID))
			putU64(math.Float64bits(p.Speed))
		} else {
			h.Write([]byte{0})
		}
		if tr, ok := s.transforms[id]; ok {
			h.Write([]byte{1})
			for _, v := range tr.Translation {
				putU64(math.Float64bits(v))
			}
		} else {
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
