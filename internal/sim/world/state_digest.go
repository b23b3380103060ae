package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Digest hashes the full world state for a frame. Two worlds that stepped
// through the same inputs from the same state produce the same digest.
func (w *World) Digest(frame uint64) string {
	h := sha256.New()
	var tmp [8]byte

	h.Write([]byte(w.cfg.ID))
	digestWriteU64(h, &tmp, frame)
	digestWriteU64(h, &tmp, uint64(w.cfg.TickRateHz))

	for _, o := range w.Owners() {
		digestWriteU64(h, &tmp, uint64(o.Index)<<32|uint64(o.Gen))
		if p, ok := w.players[o]; ok {
			h.Write([]byte{1})
			digestWriteU64(h, &tmp, uint64(p.ID))
			digestWriteF64(h, &tmp, p.Speed)
		} else {
			h.Write([]byte{0})
		}
		if tr, ok := w.transforms[o]; ok {
			h.Write([]byte{1})
			for _, v := range tr.Translation {
				digestWriteF64(h, &tmp, v)
			}
		} else {
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}
