package rollback

import (
	"io"
	"log"
	"sort"
	"sync/atomic"

	"rollback.gg/internal/sim/world"
)

// IdentifiedInput is a player's raw input targeted at a frame.
type IdentifiedInput struct {
	Player world.PlayerID `json:"player_id" msgpack:"player_id"`
	Raw    world.RawInput `json:"input" msgpack:"input"`
	Frame  uint64         `json:"frame" msgpack:"frame"`
}

type AcceptResult int

const (
	// Applied: written into the history at its frame.
	Applied AcceptResult = iota + 1
	// Staged: held until the clock reaches its frame.
	Staged
	// Dropped: older than the window; unrecoverable.
	Dropped
)

func (r AcceptResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Staged:
		return "staged"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// InputReconciler is the per-player input history plus a staging area for
// input aimed at frames the local clock has not reached yet.
type InputReconciler struct {
	history *Tracker[world.PlayerID, world.RawInput]
	staged  []IdentifiedInput
	log     *log.Logger

	dropped atomic.Uint64
}

func NewInputReconciler(currentFrame uint64, window int, logger *log.Logger) *InputReconciler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &InputReconciler{
		history: NewTracker[world.PlayerID, world.RawInput](currentFrame, window),
		log:     logger,
	}
}

func (r *InputReconciler) CurrentFrame() uint64 { return r.history.CurrentFrame() }
func (r *InputReconciler) Window() int          { return r.history.Window() }
func (r *InputReconciler) Staged() int          { return len(r.staged) }
func (r *InputReconciler) Dropped() uint64      { return r.dropped.Load() }

func (r *InputReconciler) Accept(in IdentifiedInput) AcceptResult {
	cur := r.history.CurrentFrame()
	if in.Frame > cur {
		r.staged = append(r.staged, in)
		return Staged
	}
	if !r.history.Write(in.Player, in.Raw, in.Frame) {
		r.dropped.Add(1)
		r.log.Printf("dropping input from %s for frame %d: too old (current frame %d, window %d)", in.Player, in.Frame, cur, r.history.Window())
		return Dropped
	}
	return Applied
}

// Advance moves to next and flushes staged input that targets it. Input
// still further out stays staged.
func (r *InputReconciler) Advance(next uint64) {
	r.history.Advance(next)
	if len(r.staged) == 0 {
		return
	}
	keep := r.staged[:0]
	for _, in := range r.staged {
		if in.Frame == next {
			r.history.Write(in.Player, in.Raw, in.Frame)
			continue
		}
		keep = append(keep, in)
	}
	for i := len(keep); i < len(r.staged); i++ {
		r.staged[i] = IdentifiedInput{}
	}
	r.staged = keep
}

// Latest returns a copy of the current frame's input.
func (r *InputReconciler) Latest() world.InputFrame {
	return copyInput(r.history.Latest())
}

// At returns a copy of the input recorded for frame; empty when the frame is
// not retained.
func (r *InputReconciler) At(frame uint64) world.InputFrame {
	m, _ := r.history.At(frame)
	return copyInput(m)
}

// Has reports whether any input was recorded for frame.
func (r *InputReconciler) Has(frame uint64) bool {
	m, ok := r.history.At(frame)
	return ok && len(m) > 0
}

// Holds reports whether frame is still inside the input window.
func (r *InputReconciler) Holds(frame uint64) bool { return r.history.Holds(frame) }

// StagedInputs returns a copy of the staged input in arrival order.
func (r *InputReconciler) StagedInputs() []IdentifiedInput {
	return append([]IdentifiedInput(nil), r.staged...)
}

// StagedFrames lists the distinct frames that have staged input, ascending.
func (r *InputReconciler) StagedFrames() []uint64 {
	seen := map[uint64]struct{}{}
	out := make([]uint64, 0, len(r.staged))
	for _, in := range r.staged {
		if _, ok := seen[in.Frame]; ok {
			continue
		}
		seen[in.Frame] = struct{}{}
		out = append(out, in.Frame)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func copyInput(m map[world.PlayerID]world.RawInput) world.InputFrame {
	out := make(world.InputFrame, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
