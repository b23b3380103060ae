package rollback

import (
	"errors"
	"fmt"
)

// FrameSkipError is panicked when a tracker is advanced to anything other
// than the next frame. Every index in the history is relative to the current
// frame, so a gap corrupts all of them.
type FrameSkipError struct {
	Current   uint64
	Requested uint64
}

func (e *FrameSkipError) Error() string {
	return fmt.Sprintf("rollback: skipped frame: current=%d requested=%d", e.Current, e.Requested)
}

// FutureWriteError is panicked when a value is written past the current
// frame. Future inputs must be staged instead.
type FutureWriteError struct {
	Current uint64
	Frame   uint64
}

func (e *FutureWriteError) Error() string {
	return fmt.Sprintf("rollback: cannot write frame %d, current frame is %d", e.Frame, e.Current)
}

// InvariantError means the surrounding pipeline fed the engine something
// that can only come from a logic bug. The tick that returned it did not
// commit; callers are expected to stop.
type InvariantError struct {
	Frame  uint64
	Reason string
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rollback: invariant violated at frame %d: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("rollback: invariant violated at frame %d: %s", e.Frame, e.Reason)
}

func (e *InvariantError) Unwrap() error { return e.Err }

var (
	ErrStaleSnapshot = errors.New("rollback: snapshot older than the rollback window")
	ErrStaleRollback = errors.New("rollback: rollback target outside the rollback window")
	ErrOlderSnapshot = errors.New("rollback: pending snapshot is newer")
)

// IsFatal reports whether err must stop the tick loop.
func IsFatal(err error) bool {
	var inv *InvariantError
	return errors.As(err, &inv)
}
