package rollback

// DefaultWindow is how many frames of history a tracker keeps, the current
// frame included. No correction can reach further back than this.
const DefaultWindow = 10

// Tracker keeps a bounded, frame-indexed history of values per key. Slot 0
// is the current frame; slot n is n frames ago.
//
// Slots are stored in a ring so advancing never shifts memory.
type Tracker[K comparable, V any] struct {
	slots   []map[K]V
	head    int
	n       int
	current uint64
}

func NewTracker[K comparable, V any](currentFrame uint64, window int) *Tracker[K, V] {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker[K, V]{
		slots:   make([]map[K]V, window),
		current: currentFrame,
	}
	t.slots[0] = map[K]V{}
	t.n = 1
	return t
}

func (t *Tracker[K, V]) CurrentFrame() uint64 { return t.current }
func (t *Tracker[K, V]) Window() int          { return len(t.slots) }
func (t *Tracker[K, V]) Len() int             { return t.n }

// Oldest returns the oldest frame still held. ok is false when the history
// has been truncated to nothing.
func (t *Tracker[K, V]) Oldest() (frame uint64, ok bool) {
	if t.n == 0 {
		return 0, false
	}
	return t.current - uint64(t.n-1), true
}

// Holds reports whether frame is inside the retained history.
func (t *Tracker[K, V]) Holds(frame uint64) bool {
	if frame > t.current {
		return false
	}
	return t.current-frame < uint64(t.n)
}

// Advance opens an empty slot for next, evicting the oldest slot once the
// window is full. next must be exactly current+1.
func (t *Tracker[K, V]) Advance(next uint64) {
	if next != t.current+1 {
		panic(&FrameSkipError{Current: t.current, Requested: next})
	}
	t.current = next
	t.head = (t.head + 1) % len(t.slots)
	t.slots[t.head] = map[K]V{}
	if t.n < len(t.slots) {
		t.n++
	}
}

// NAgo returns the values recorded n frames ago. The map is owned by the
// tracker and must not be modified.
func (t *Tracker[K, V]) NAgo(n uint64) (map[K]V, bool) {
	if n >= uint64(t.n) {
		return nil, false
	}
	return t.slots[t.index(int(n))], true
}

func (t *Tracker[K, V]) At(frame uint64) (map[K]V, bool) {
	if frame > t.current {
		return nil, false
	}
	return t.NAgo(t.current - frame)
}

// Latest is the current frame's slot; empty if the history was truncated away.
func (t *Tracker[K, V]) Latest() map[K]V {
	m, ok := t.NAgo(0)
	if !ok {
		return map[K]V{}
	}
	return m
}

// Write sets key at frame. Frames in the future are a programming error;
// frames that fell out of the window are dropped and reported as false.
func (t *Tracker[K, V]) Write(key K, value V, frame uint64) bool {
	if frame > t.current {
		panic(&FutureWriteError{Current: t.current, Frame: frame})
	}
	dist := t.current - frame
	if dist >= uint64(t.n) {
		return false
	}
	t.slots[t.index(int(dist))][key] = value
	return true
}

// Truncate discards the most recent frames and moves the current frame back
// by the same amount.
func (t *Tracker[K, V]) Truncate(frames uint64) {
	drop := frames
	if drop > uint64(t.n) {
		drop = uint64(t.n)
	}
	for i := uint64(0); i < drop; i++ {
		t.slots[t.head] = nil
		t.head = t.index(1)
	}
	t.n -= int(drop)
	if frames > t.current {
		t.current = 0
	} else {
		t.current -= frames
	}
}

// Rebase makes frame the current frame, either by truncating newer history
// or by opening the slot right after the current one. It returns false when
// frame is no longer retained, leaving the tracker untouched.
func (t *Tracker[K, V]) Rebase(frame uint64) bool {
	switch {
	case frame == t.current+1:
		t.Advance(frame)
		return true
	case t.Holds(frame):
		t.Truncate(t.current - frame)
		return true
	default:
		return false
	}
}

// Reset drops all history and restarts at frame with an empty slot.
func (t *Tracker[K, V]) Reset(frame uint64) {
	for i := range t.slots {
		t.slots[i] = nil
	}
	t.head = 0
	t.slots[0] = map[K]V{}
	t.n = 1
	t.current = frame
}

func (t *Tracker[K, V]) index(back int) int {
	w := len(t.slots)
	return ((t.head-back)%w + w) % w
}
