package rollback

import "fmt"

// Pending is what a tick drains from the coalescer.
type Pending struct {
	Rollback    uint64
	HasRollback bool
	Sync        *Snapshot
}

// Corrections collects rollback and sync requests between ticks. Any number
// of requests collapse into at most one of each per tick.
type Corrections struct {
	rollback    uint64
	hasRollback bool
	sync        *Snapshot
}

// RequestRollback keeps the earliest requested frame.
func (c *Corrections) RequestRollback(frame uint64) {
	if !c.hasRollback || frame < c.rollback {
		c.rollback = frame
		c.hasRollback = true
	}
}

// RequestSync keeps the snapshot with the newest frame. A snapshot for the
// same frame replaces the pending one; an older one is rejected with
// ErrOlderSnapshot.
func (c *Corrections) RequestSync(s *Snapshot) error {
	if s == nil {
		return nil
	}
	if c.sync != nil && s.Frame() < c.sync.Frame() {
		return fmt.Errorf("%w: got frame %d, pending frame %d", ErrOlderSnapshot, s.Frame(), c.sync.Frame())
	}
	c.sync = s
	return nil
}

func (c *Corrections) Empty() bool { return !c.hasRollback && c.sync == nil }

func (c *Corrections) Drain() Pending {
	p := Pending{Rollback: c.rollback, HasRollback: c.hasRollback, Sync: c.sync}
	*c = Corrections{}
	return p
}
