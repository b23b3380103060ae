package frame

import (
	"math"
	"time"
)

// Clock is the simulation timebase. It only ever moves forward by one,
// except when a roll-forward jumps it to an authoritative frame.
type Clock struct {
	count uint64
}

func NewClock(count uint64) *Clock {
	return &Clock{count: count}
}

func (c *Clock) Count() uint64 { return c.count }

func (c *Clock) Increment() uint64 {
	c.count++
	return c.count
}

// JumpTo moves the clock to frame. Going backwards is not allowed.
func (c *Clock) JumpTo(frame uint64) {
	if frame < c.count {
		panic("frame: clock cannot move backwards")
	}
	c.count = frame
}

// TickDuration returns the fixed step for a tick rate.
func TickDuration(rateHz int) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(rateHz)
}

// FramesSince estimates how many ticks elapsed between a unix timestamp in
// milliseconds and now. Clock skew that puts the timestamp in the future
// yields zero.
func FramesSince(unixMillis int64, now time.Time, tick time.Duration) uint64 {
	if tick <= 0 {
		return 0
	}
	elapsed := now.UnixMilli() - unixMillis
	if elapsed <= 0 {
		return 0
	}
	return uint64(math.Round(float64(elapsed) * float64(time.Millisecond) / float64(tick)))
}

// SeedFrame is the frame a joining client starts simulating at: the
// snapshot frame plus the one-way delay expressed in ticks.
func SeedFrame(snapFrame uint64, snapUnixMillis int64, now time.Time, tick time.Duration) uint64 {
	return snapFrame + FramesSince(snapUnixMillis, now, tick)
}

func NowMillis() int64 { return time.Now().UnixMilli() }
